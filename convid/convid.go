// Package convid defines ConversationId, the canonical identifier for a
// flow: IP version, source/destination IP and port, and an associated
// profile key (the local-endpoint MAC address used to index per-host
// profiles). Grounded on the 4-tuple + ident handling in
// _examples/m-lab-etl/tcpip/tcpip.go (Packet.ip.SrcIP/DstIP) and on the
// dreadl0ck/netcap "ident" string keying pattern for flows
// (_examples/DynamEq6388-netcap/decoder/stream/tcpConnection.go).
package convid

import (
	"bytes"
	"encoding/binary"
)

// MaxProfileKeyLen bounds the profile key (a MAC address is 6 bytes in
// practice; the field is sized generously for forward compatibility).
const MaxProfileKeyLen = 16

// ConversationId identifies one directed flow and the host it is billed to.
type ConversationId struct {
	V6            bool
	SrcIP, DstIP  [16]byte // only the first 4 or 16 bytes are meaningful, per V6
	SrcPort       uint16
	DstPort       uint16
	ProfileKey    [MaxProfileKeyLen]byte
	ProfileKeyLen int
}

func addrLen(v6 bool) int {
	if v6 {
		return 16
	}
	return 4
}

// New builds a ConversationId from raw address bytes (length 4 or 16),
// ports, and a profile key (typically a 6-byte MAC).
func New(v6 bool, srcIP, dstIP []byte, srcPort, dstPort uint16, profileKey []byte) ConversationId {
	var id ConversationId
	id.V6 = v6
	n := addrLen(v6)
	copy(id.SrcIP[:n], srcIP)
	copy(id.DstIP[:n], dstIP)
	id.SrcPort = srcPort
	id.DstPort = dstPort
	id.ProfileKeyLen = copy(id.ProfileKey[:], profileKey)
	return id
}

// Reverse returns the ConversationId for the opposite direction of the same
// flow: endpoints swapped, profile key unchanged (the profile key names the
// local host regardless of which side originated the flow).
func (id ConversationId) Reverse() ConversationId {
	r := id
	r.SrcIP, r.DstIP = id.DstIP, id.SrcIP
	r.SrcPort, r.DstPort = id.DstPort, id.SrcPort
	return r
}

// TableKey returns the canonical lookup key for the state-machine's
// conversation table: a packed byte encoding of the 4-tuple, usable as a
// map key (functionally equivalent to the source's prefix-trie key bytes,
// see SPEC_FULL.md §9 on replacing the raw trie with an indexed map).
func (id ConversationId) TableKey() string {
	n := addrLen(id.V6)
	buf := make([]byte, 0, 1+2*n+4)
	if id.V6 {
		buf = append(buf, 6)
	} else {
		buf = append(buf, 4)
	}
	buf = append(buf, id.SrcIP[:n]...)
	buf = append(buf, id.DstIP[:n]...)
	var portBuf [4]byte
	binary.BigEndian.PutUint16(portBuf[0:2], id.SrcPort)
	binary.BigEndian.PutUint16(portBuf[2:4], id.DstPort)
	buf = append(buf, portBuf[:]...)
	return string(buf)
}

// ProfileKeyString returns the profile key as a map key for per-host
// profile storage.
func (id ConversationId) ProfileKeyString() string {
	return string(id.ProfileKey[:id.ProfileKeyLen])
}

// Equal reports whether two ids name the same directed flow (profile key
// is not compared — two ids for the same 4-tuple always share a host).
func (id ConversationId) Equal(other ConversationId) bool {
	n := addrLen(id.V6)
	return id.V6 == other.V6 &&
		bytes.Equal(id.SrcIP[:n], other.SrcIP[:n]) &&
		bytes.Equal(id.DstIP[:n], other.DstIP[:n]) &&
		id.SrcPort == other.SrcPort &&
		id.DstPort == other.DstPort
}

// SrcIPBytes and DstIPBytes return the meaningful address bytes (length 4 or 16).
func (id ConversationId) SrcIPBytes() []byte { return id.SrcIP[:addrLen(id.V6)] }
func (id ConversationId) DstIPBytes() []byte { return id.DstIP[:addrLen(id.V6)] }
