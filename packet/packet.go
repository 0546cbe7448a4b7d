// Package packet defines the capture-contract record the core consumes.
//
// A PacketInfo is a linked chain of decoded layers, Ethernet -> IP ->
// (TCP-level), produced by an external capture/decode collaborator (see
// SPEC_FULL.md §11). The core never produces these; it only walks the
// chain looking for the first Ethernet-bearing link, the first IP-bearing
// link (addresses, IP version, fragment offset), and the first TCP-bearing
// link (ports, flags).
package packet

import "github.com/google/gopacket/layers"

// Direction is the capture-relative direction of a layer.
type Direction uint8

const (
	DirUnknown Direction = iota
	DirIn
	DirOut
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	default:
		return "unknown"
	}
}

// Kind tags what a Layer represents, replacing the source's char-tagged
// layer field with an enum (SPEC_FULL.md §9 "tagged variants for events").
type Kind uint8

const (
	KindOther Kind = iota
	KindEthernet
	KindIP
	KindSLL
)

// AppKind tags the application-level protocol carried by a layer, mirroring
// the source's single-byte tag alphabet {T,U,i,I,4,6,?}.
type AppKind uint8

const (
	AppUnknown AppKind = iota
	AppTCP
	AppUDP
	AppICMP
	AppICMPv6
	AppEncapV4
	AppEncapV6
)

// Byte renders the AppKind as the source's single-character tag, useful for
// compact logging.
func (a AppKind) Byte() byte {
	switch a {
	case AppTCP:
		return 'T'
	case AppUDP:
		return 'U'
	case AppICMP:
		return 'i'
	case AppICMPv6:
		return 'I'
	case AppEncapV4:
		return '4'
	case AppEncapV6:
		return '6'
	default:
		return '?'
	}
}

// Layer is one decoded link in the PacketInfo chain. The chain runs
// Ethernet -> IP -> TCP/UDP/ICMP, outer to inner, and each field below is
// meaningful only on the layer that actually carries it: SrcAddr, DstAddr,
// IPProtocol, and FragOffset live on the Kind == KindIP link; SrcPort,
// DstPort, and TCPFlags live on the App-tagged (TCP/UDP/...) link. Callers
// walk the chain with FirstEthernet/FirstIP/FirstTCP rather than assuming
// any one link carries every field.
type Layer struct {
	Interface    string
	TimestampUs  int64 // microseconds, monotonic per TimeSource
	Direction    Direction
	Kind         Kind
	AddrLen      int // 0, 4, or 16
	SrcAddr      []byte
	DstAddr      []byte
	SrcPort      uint16 // host byte order; meaningful only for TCP/UDP
	DstPort      uint16
	IPProtocol   uint8 // 4, 6, or other
	App          AppKind
	TCPFlags     uint8
	FragOffset   uint16 // low 13 bits meaningful
	EtherType    layers.EthernetType
	TCPPortKind  layers.TCPPort // convenience mirror of SrcPort for gopacket interop in tests
	Next         *Layer
}

// PacketInfo is the capture contract: a linked chain of layers, outer to
// inner, with a timestamp and direction attached by the capture collaborator.
type PacketInfo struct {
	First *Layer
}

// FirstEthernet returns the first Ethernet-tagged link in the chain, or nil.
func (p *PacketInfo) FirstEthernet() *Layer {
	for l := p.First; l != nil; l = l.Next {
		if l.Kind == KindEthernet {
			return l
		}
	}
	return nil
}

// FirstIP returns the first IP-tagged link in the chain, or nil. The IP
// layer is where SrcAddr, DstAddr, IPProtocol, and FragOffset live; the
// App-tagged layer FirstTCP returns carries only ports and TCP flags.
func (p *PacketInfo) FirstIP() *Layer {
	for l := p.First; l != nil; l = l.Next {
		if l.Kind == KindIP {
			return l
		}
	}
	return nil
}

// FirstTCP returns the first link carrying a TCP segment (App == AppTCP), or nil.
func (p *PacketInfo) FirstTCP() *Layer {
	for l := p.First; l != nil; l = l.Next {
		if l.App == AppTCP {
			return l
		}
	}
	return nil
}

// TimestampUs returns the packet's timestamp, taken from the first layer.
func (p *PacketInfo) TimestampUs() int64 {
	if p.First == nil {
		return 0
	}
	return p.First.TimestampUs
}

// Clone deep-copies a PacketInfo: the outer record plus every linked layer,
// including address byte slices. Used by packetbuffer's reorder FIFO, which
// must hold its own copy independent of the capture collaborator's buffers.
func (p *PacketInfo) Clone() *PacketInfo {
	if p == nil {
		return nil
	}
	clone := &PacketInfo{}
	var head, tail *Layer
	for l := p.First; l != nil; l = l.Next {
		nl := *l
		if l.SrcAddr != nil {
			nl.SrcAddr = append([]byte(nil), l.SrcAddr...)
		}
		if l.DstAddr != nil {
			nl.DstAddr = append([]byte(nil), l.DstAddr...)
		}
		nl.Next = nil
		if head == nil {
			head = &nl
			tail = head
		} else {
			tail.Next = &nl
			tail = tail.Next
		}
	}
	clone.First = head
	return clone
}
