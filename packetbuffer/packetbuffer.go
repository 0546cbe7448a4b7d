// Package packetbuffer implements the fixed-capacity packet reorder FIFO
// in front of the Engine (spec.md §4.4): it tolerates small timestamp
// reorderings between two capture directions without a full TCP
// reassembly buffer.
//
// Grounded on spec.md §4.4's literal add/evict algorithm; deep-copying via
// packet.PacketInfo.Clone() follows the same "own your own copy of
// variable-length capture data" posture as
// _examples/m-lab-etl/tcpip/tcpip.go's Packet/Wrap handling of owned byte
// slices.
package packetbuffer

import "github.com/m-lab/statetrans/packet"

// Capacity is N in spec.md §4.4 and §6's default packet-reorder window.
const Capacity = 20

// Buffer is a fixed-size FIFO of deep-copied packets, oldest-timestamp-out.
// Invariant: after construction, there is always at least one free slot
// before Add is called — each Add that fills the last slot immediately
// evicts one, per spec.md §4.4.
type Buffer struct {
	slots []*packet.PacketInfo
	used  []bool
	count int
}

// New constructs an empty reorder buffer sized to the spec.md §6 default
// (Capacity).
func New() *Buffer {
	return NewSize(Capacity)
}

// NewSize constructs an empty reorder buffer with a caller-supplied window
// size, for deployments that override spec.md §6's default via
// config.Config.ReorderWindow.
func NewSize(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		slots: make([]*packet.PacketInfo, capacity),
		used:  make([]bool, capacity),
	}
}

// Add deep-copies pkt into the first unused slot. If the buffer is full
// after the copy, it evicts and returns the slot holding the smallest
// timestamp (which may be the packet just added). Otherwise it returns nil.
func (b *Buffer) Add(pkt *packet.PacketInfo) *packet.PacketInfo {
	slot := b.firstFree()
	b.slots[slot] = pkt.Clone()
	b.used[slot] = true
	b.count++

	if b.count < len(b.slots) {
		return nil
	}

	evict := b.oldestSlot()
	evicted := b.slots[evict]
	b.slots[evict] = nil
	b.used[evict] = false
	b.count--
	return evicted
}

func (b *Buffer) firstFree() int {
	for i, used := range b.used {
		if !used {
			return i
		}
	}
	panic("packetbuffer: Add called with no free slot")
}

func (b *Buffer) oldestSlot() int {
	oldest := -1
	var oldestTS int64
	for i, used := range b.used {
		if !used {
			continue
		}
		ts := b.slots[i].TimestampUs()
		if oldest < 0 || ts < oldestTS {
			oldest = i
			oldestTS = ts
		}
	}
	return oldest
}

// Len reports the number of packets currently buffered.
func (b *Buffer) Len() int { return b.count }

// Cap reports the configured window size.
func (b *Buffer) Cap() int { return len(b.slots) }
