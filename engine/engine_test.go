package engine_test

import (
	"testing"

	"github.com/m-lab/statetrans/engine"
	"github.com/m-lab/statetrans/evaluator"
	"github.com/m-lab/statetrans/packet"
	"github.com/m-lab/statetrans/statemachine"
)

var intervals = []int64{1, 10, 100, 1000, 10000, 100000, 1000000}

func newBinding(name string) engine.Binding {
	sm := statemachine.NewTCP(name, intervals, statemachine.DefaultTimeouts)
	ev := evaluator.New(name, len(intervals), int(statemachine.TransitionCount))
	return engine.Binding{StateMachine: sm, Evaluators: []engine.Evaluator{ev}}
}

// tcpPacket builds an Ethernet -> IP -> TCP chain matching the real
// capture collaborator's shape (packet/pcapsource): addresses and IP
// version live on the IP layer, ports and flags on the TCP layer.
func tcpPacket(ts int64, dir packet.Direction, flags byte) *packet.PacketInfo {
	eth := &packet.Layer{
		Kind:        packet.KindEthernet,
		TimestampUs: ts,
		Direction:   dir,
		SrcAddr:     []byte{0, 1, 2, 3, 4, 5},
		DstAddr:     []byte{6, 7, 8, 9, 10, 11},
	}
	ip := &packet.Layer{
		Kind:        packet.KindIP,
		TimestampUs: ts,
		Direction:   dir,
		AddrLen:     4,
		IPProtocol:  4,
		SrcAddr:     []byte{10, 0, 0, 1},
		DstAddr:     []byte{10, 0, 0, 2},
	}
	tcp := &packet.Layer{
		TimestampUs: ts,
		Direction:   dir,
		App:         packet.AppTCP,
		SrcPort:     1234,
		DstPort:     80,
		TCPFlags:    flags,
	}
	eth.Next = ip
	ip.Next = tcp
	return &packet.PacketInfo{First: eth}
}

const (
	flagSYN = 0x02
	flagACK = 0x10
	flagFIN = 0x01
	flagRST = 0x04
)

// handshakeAndClose feeds one full SYN/SYN-ACK/ACK/FIN.../ACK exchange (spec.md §8
// S1) through eng, starting at baseTS, one microsecond apart.
func handshakeAndClose(eng *engine.Engine, baseTS int64) {
	pkts := []*packet.PacketInfo{
		tcpPacket(baseTS+0, packet.DirOut, flagSYN),
		tcpPacket(baseTS+1, packet.DirIn, flagSYN|flagACK),
		tcpPacket(baseTS+2, packet.DirOut, flagACK),
		tcpPacket(baseTS+3, packet.DirOut, flagFIN),
		tcpPacket(baseTS+4, packet.DirIn, flagACK),
		tcpPacket(baseTS+5, packet.DirIn, flagFIN),
		tcpPacket(baseTS+6, packet.DirOut, flagACK),
	}
	for _, p := range pkts {
		eng.HandlePacket(p)
	}
}

type recordingSink struct {
	reports []engine.AnomalyReport
}

func (s *recordingSink) EmitAnomaly(r engine.AnomalyReport) { s.reports = append(s.reports, r) }

func TestLearningThenDetectionIdenticalReplayNoAnomaly(t *testing.T) {
	sink := &recordingSink{}
	eng := engine.New([]engine.Binding{newBinding("tcp")}, 0.95, sink, nil)

	for i := 0; i < 30; i++ {
		handshakeAndClose(eng, int64(i*1_000_000))
	}
	eng.ChangeMode(engine.Detection)
	if eng.Mode() != engine.Detection {
		t.Fatalf("Mode() = %v, want Detection after ChangeMode", eng.Mode())
	}

	handshakeAndClose(eng, 100_000_000)
	if len(sink.reports) != 0 {
		t.Fatalf("got %d anomaly reports for an identical replay, want 0", len(sink.reports))
	}
}

func TestDetectionAnomalyTriggersReport(t *testing.T) {
	sink := &recordingSink{}
	eng := engine.New([]engine.Binding{newBinding("tcp")}, 0.5, sink, nil)

	for i := 0; i < 30; i++ {
		handshakeAndClose(eng, int64(i*1_000_000))
	}
	eng.ChangeMode(engine.Detection)

	// A bare SYN with no reply (port-scan shape, spec.md §8 S6) looks
	// nothing like the learned three-way-handshake-plus-close profile, and
	// must time out to become "finished" since it never reaches CLOSED.
	scanTS := int64(200_000_000)
	eng.HandlePacket(tcpPacket(scanTS, packet.DirOut, flagSYN))
	// An unrelated packet past the SYN timeout (120s) runs CleanTimedout,
	// which marks the scan conversation TIMEDOUT+terminated in place (its
	// own NextFinished walk already ran earlier in that same HandlePacket
	// call, before CleanTimedout, so it isn't emitted yet).
	unrelated := tcpPacket(scanTS+121_000_000, packet.DirOut, flagSYN)
	unrelated.First.Next.Next.SrcPort = 9999
	eng.HandlePacket(unrelated)
	// A further packet, more than one sweep interval (2s) later, lets
	// NextFinished's periodic walk pick up the now-terminated scan
	// conversation and emit it.
	another := tcpPacket(scanTS+125_000_000, packet.DirOut, flagSYN)
	another.First.Next.Next.SrcPort = 9998
	eng.HandlePacket(another)

	if len(sink.reports) == 0 {
		t.Fatalf("got no anomaly reports for a timed-out scan conversation, want at least 1")
	}
}

func TestChangeModeIgnoresDetectionToLearning(t *testing.T) {
	eng := engine.New([]engine.Binding{newBinding("tcp")}, 0.95, nil, nil)
	eng.ChangeMode(engine.Detection)
	eng.ChangeMode(engine.Learning)
	if eng.Mode() != engine.Detection {
		t.Fatalf("Mode() = %v after an attempted DETECTION -> LEARNING change, want it to stay Detection", eng.Mode())
	}
}
