// Package uplink implements the wire codec and transport adapter for the
// upstream controller link: outbound anomaly reports and config requests,
// inbound configuration, block, and unblock directives (spec.md §6).
//
// Grounded on spec.md §6's literal byte layouts; big-endian encode/decode
// reuses and extends internal/bigendian (originally m-lab-etl's decode-only
// helper for parsing captured packet headers) rather than hand-rolling a
// parallel byte-swap helper or reaching for encoding/binary, since the pack
// already supplies this exact style for this exact concern.
package uplink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/m-lab/statetrans/engine"
	"github.com/m-lab/statetrans/internal/bigendian"
)

// ErrEmptyMessage is returned by ReadMessage when the controller closes the
// connection before sending a single byte of the next message. Spec.md §7
// treats an empty message from uplink as fatal, unlike every other
// ReadMessage error (truncation, unknown opcode, a dropped connection mid
// read), which the caller logs and recovers from by reconnecting.
var ErrEmptyMessage = errors.New("uplink: empty message from controller")

// Opcodes from spec.md §6.
const (
	opAnomaly   = 'A'
	opConfigReq = 'C'
	opConfig    = 'C'
	opBlock     = 'B'
	opUnblock   = 'U'
)

// Config is an inbound configuration message (spec.md §6's 'C' message).
type Config struct {
	Threshold    float64 // divided from hundredths
	LearnSeconds uint32
}

// BlockCommand is an inbound 'B'/'U' message.
type BlockCommand struct {
	Block bool // true for 'B' (block), false for 'U' (unblock)
	V6    bool
	IP    []byte // length 4 or 16
}

// EncodeAnomaly renders one engine.AnomalyReport as the 'A' wire message.
func EncodeAnomaly(r engine.AnomalyReport) []byte {
	family := byte(4)
	addrLen := 4
	if r.V6 {
		family = 6
		addrLen = 16
	}

	buf := make([]byte, 0, 1+8+2+1+2+2+2*addrLen)
	buf = append(buf, opAnomaly)
	ts := bigendian.PutBE64(uint64(r.EmittedAt.Unix()))
	buf = append(buf, ts[:]...)
	score := bigendian.PutBE16(uint16(round(r.Score * 100)))
	buf = append(buf, score[:]...)
	buf = append(buf, family)
	srcPort := bigendian.PutBE16(r.SrcPort)
	dstPort := bigendian.PutBE16(r.DstPort)
	buf = append(buf, srcPort[:]...)
	buf = append(buf, dstPort[:]...)
	buf = append(buf, padAddr(r.SrcIP, addrLen)...)
	buf = append(buf, padAddr(r.DstIP, addrLen)...)
	return buf
}

func round(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

func padAddr(ip []byte, n int) []byte {
	if len(ip) == n {
		return ip
	}
	out := make([]byte, n)
	copy(out[n-len(ip):], ip)
	return out
}

// EncodeConfigRequest renders the one-byte initial config request (spec.md
// §6, sent on first connect).
func EncodeConfigRequest() []byte { return []byte{opConfigReq} }

// DecodeInbound parses one complete, already-framed inbound message. Message
// boundaries are a transport-framing concern spec.md §1 places outside the
// core's scope; the caller (the framing collaborator) is responsible for
// delivering exactly one opcode-tagged message's bytes, which is also what
// disambiguates a 'B'/'U' message's 4-byte (v4) from 16-byte (v6) address.
// It returns exactly one of (*Config, *BlockCommand), or an error.
func DecodeInbound(msg []byte) (*Config, *BlockCommand, error) {
	if len(msg) == 0 {
		return nil, nil, fmt.Errorf("uplink: empty message")
	}
	op, body := msg[0], msg[1:]

	switch op {
	case opConfig:
		if len(body) != 8 {
			return nil, nil, fmt.Errorf("uplink: config message has %d body bytes, want 8", len(body))
		}
		var thresholdBE bigendian.BE32
		var learnBE bigendian.BE32
		copy(thresholdBE[:], body[0:4])
		copy(learnBE[:], body[4:8])
		return &Config{
			Threshold:    float64(thresholdBE.Uint32()) / 100.0,
			LearnSeconds: learnBE.Uint32(),
		}, nil, nil

	case opBlock, opUnblock:
		var v6 bool
		switch len(body) {
		case 4:
			v6 = false
		case 16:
			v6 = true
		default:
			return nil, nil, fmt.Errorf("uplink: block/unblock address has %d bytes, want 4 or 16", len(body))
		}
		return nil, &BlockCommand{Block: op == opBlock, V6: v6, IP: body}, nil

	default:
		return nil, nil, fmt.Errorf("uplink: unknown opcode %q", op)
	}
}

// Adapter is the concurrency boundary between the single-threaded core and
// the network connection: writes are serialized onto a channel so
// HandlePacket's caller never blocks on socket I/O (spec.md §5's "the core
// never blocks").
type Adapter struct {
	conn   net.Conn
	reader *bufio.Reader
	outbox chan []byte
}

// NewAdapter wraps an established connection to the upstream controller.
func NewAdapter(conn net.Conn) *Adapter {
	a := &Adapter{
		conn:   conn,
		reader: bufio.NewReader(conn),
		outbox: make(chan []byte, 64),
	}
	return a
}

// EmitAnomaly implements engine.Sink by encoding and queuing the report for
// the writer goroutine.
func (a *Adapter) EmitAnomaly(r engine.AnomalyReport) {
	a.outbox <- EncodeAnomaly(r)
}

// Outbox exposes the write queue for the run loop's writer goroutine.
func (a *Adapter) Outbox() <-chan []byte { return a.outbox }

// ReadMessage reads one inbound message off the connection and decodes it.
// Spec.md §1 places transport framing outside the core's scope and §6
// gives no inbound length prefix, so this reads the opcode-determined body
// length directly: 8 bytes for 'C', and a fixed 4 bytes (v4) for 'B'/'U' —
// this implementation does not support a v6 uplink block/unblock target
// without a framing collaborator supplying the longer length; that
// collaborator, were one added, would call DecodeInbound directly on its
// already-framed bytes instead of through this method.
func (a *Adapter) ReadMessage() (*Config, *BlockCommand, error) {
	op, err := a.reader.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, ErrEmptyMessage
		}
		return nil, nil, err
	}

	var bodyLen int
	switch op {
	case opConfig:
		bodyLen = 8
	case opBlock, opUnblock:
		bodyLen = 4
	default:
		return nil, nil, fmt.Errorf("uplink: unknown opcode %q", op)
	}

	msg := make([]byte, 1+bodyLen)
	msg[0] = op
	if _, err := io.ReadFull(a.reader, msg[1:]); err != nil {
		return nil, nil, fmt.Errorf("uplink: truncated message for opcode %q: %w", op, err)
	}
	return DecodeInbound(msg)
}

// Close closes the underlying connection and the outbox.
func (a *Adapter) Close() error {
	close(a.outbox)
	return a.conn.Close()
}
