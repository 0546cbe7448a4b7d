// Package statemachine implements the TCP conversation tracker: an 18-state,
// 31-transition-label state machine driven by packet direction and TCP
// flags, keyed on the 4-tuple with reverse-direction lookup, backed by an
// arena-indexed table with an LRU-ordered finished-conversation walk and
// periodic compaction.
//
// Grounded on the TCP flag/sequence handling style of
// _examples/m-lab-etl/tcp/tcp.go and the layered-packet walk of
// _examples/m-lab-etl/tcpip/tcpip.go; the state/transition alphabet and
// table-lookup/LRU/compaction design follow spec.md §3–§4.1 and the
// callback-table shape in original_source's structs.h.
package statemachine

import (
	"github.com/m-lab/statetrans/convid"
	"github.com/m-lab/statetrans/metrics"
	"github.com/m-lab/statetrans/packet"
)

// TCP is one TCP state machine instance. Statemachines are single-threaded
// collaborators; the Engine never calls into one concurrently (spec.md
// §4.1 "Failure semantics").
type TCP struct {
	name      string
	intervals []int64 // timeslot interval widths, microseconds
	timeouts  Timeouts
	table     *table
}

// NewTCP constructs a TCP state machine over the given timeslot schedule
// (microsecond interval widths) and idle timeouts.
func NewTCP(name string, intervals []int64, timeouts Timeouts) *TCP {
	return &TCP{
		name:      name,
		intervals: intervals,
		timeouts:  timeouts,
		table:     newTable(len(intervals)),
	}
}

// Name reports the statemachine's configured name, used as a log/metric label.
func (sm *TCP) Name() string { return sm.name }

// TimeslotCount returns T, the number of configured timeslot rows.
func (sm *TCP) TimeslotCount() int { return len(sm.intervals) }

func localMAC(eth *packet.Layer) []byte {
	if eth.Direction == packet.DirOut {
		return eth.SrcAddr
	}
	return eth.DstAddr
}

// deriveID builds the ConversationId for a packet from its Ethernet, IP,
// and TCP-bearing layers, per spec.md §4.1 step 1. Addresses and IP
// version come from the IP layer (packet.FirstIP); ports come from the
// TCP layer — the two are distinct links in the chain (packet.Layer's doc
// comment), never the same one.
func deriveID(eth, ip, tcp *packet.Layer) convid.ConversationId {
	v6 := ip.IPProtocol == 6
	return convid.New(v6, ip.SrcAddr, ip.DstAddr, tcp.SrcPort, tcp.DstPort, localMAC(eth))
}

// OnPacket implements spec.md §4.1's per-packet processing. It looks up or
// creates the owning Conversation, classifies the transition (unless the
// packet is a non-first IP fragment), and updates per-timeslot counters.
func (sm *TCP) OnPacket(pkt *packet.PacketInfo) {
	eth := pkt.FirstEthernet()
	ipLayer := pkt.FirstIP()
	tcpLayer := pkt.FirstTCP()
	if eth == nil || ipLayer == nil || tcpLayer == nil {
		return
	}

	now := pkt.TimestampUs()
	id := deriveID(eth, ipLayer, tcpLayer)
	conv, _ := sm.table.lookupOrCreate(id, now, sm.timeouts)
	conv.LastPktTS = now

	if ipLayer.FragOffset != 0 {
		return
	}

	trans, next := classify(conv.State, tcpLayer.Direction, Flags(tcpLayer.TCPFlags))
	if trans == NoTrans {
		return
	}

	conv.State = next
	conv.recordTransition(now, sm.intervals, trans)
	metrics.TransitionCount.WithLabelValues(sm.Name(), trans.MetricLabel()).Inc()
	if next == Closed || next == RstSeen {
		conv.Terminated = true
	}
}

// NextFinished returns the next conversation ready for emission, or nil.
// Callers should loop: the Engine repeatedly calls NextFinished until it
// returns nil (spec.md §4.2).
func (sm *TCP) NextFinished(now int64) *Conversation {
	return sm.table.nextFinished(now)
}

// CleanTimedout terminates any live conversation whose idle timeout has
// elapsed and runs the compaction check, per spec.md §4.1. Called once per
// input packet, after OnPacket.
func (sm *TCP) CleanTimedout(now int64) {
	sm.table.cleanTimedout(now, sm.timeouts)
	sm.table.maybeCompact()
}
