package statemachine

import "github.com/m-lab/statetrans/convid"

// Compaction thresholds from spec.md §4.1: a fresh arena is cut once the
// tombstoned fraction is large enough to be worth reclaiming.
const (
	consolidateLowerThreshold   = 10000
	consolidateThresholdPortion = 0.1
)

// sweepInterval gates starting a new finished-conversation walk (spec.md
// §4.1 "Sweep cadence"); between sweeps only the LRU-tail fast path fires.
const sweepInterval = 2 * 1_000_000 // microseconds

const noSlot = ^uint32(0)

// table is the arena-indexed conversation store: a slice arena addressed by
// u32 slot, a map standing in for the source's prefix-trie (keyed on the
// packed 4-tuple), and a doubly linked LRU threaded through slot indices.
// This replaces the source's raw pointer graph per SPEC_FULL.md §9/spec.md
// §9's own "Replacing raw pointer graphs with arena + index" note.
type table struct {
	arena []*Conversation
	free  []uint32
	index map[string]uint32

	lruHead, lruTail uint32 // noSlot when empty

	liveCount           int
	delayedDeletedCount int

	lastSweep   int64
	sweepCursor uint32 // noSlot when not mid-walk
	sweeping    bool

	timeslotCount int
}

func newTable(timeslotCount int) *table {
	return &table{
		index:       make(map[string]uint32),
		lruHead:     noSlot,
		lruTail:     noSlot,
		sweepCursor: noSlot,

		timeslotCount: timeslotCount,
	}
}

func (t *table) alloc(c *Conversation) uint32 {
	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		c.slot = slot
		t.arena[slot] = c
		return slot
	}
	slot := uint32(len(t.arena))
	c.slot = slot
	t.arena = append(t.arena, c)
	return slot
}

func (t *table) linkTail(slot uint32) {
	c := t.arena[slot]
	c.hasLRUPrev = t.lruTail != noSlot
	c.lruPrev = t.lruTail
	c.hasLRUNext = false
	if t.lruTail != noSlot {
		tail := t.arena[t.lruTail]
		tail.hasLRUNext = true
		tail.lruNext = slot
	} else {
		t.lruHead = slot
	}
	t.lruTail = slot
}

func (t *table) unlink(slot uint32) {
	c := t.arena[slot]
	if c.hasLRUPrev {
		prev := t.arena[c.lruPrev]
		prev.hasLRUNext = c.hasLRUNext
		prev.lruNext = c.lruNext
	} else {
		t.lruHead = c.lruNext
		if !c.hasLRUNext {
			t.lruHead = noSlot
		}
	}
	if c.hasLRUNext {
		next := t.arena[c.lruNext]
		next.hasLRUPrev = c.hasLRUPrev
		next.lruPrev = c.lruPrev
	} else {
		t.lruTail = c.lruPrev
		if !c.hasLRUPrev {
			t.lruTail = noSlot
		}
	}
}

// moveToTail relinks slot to the LRU tail (most-recently-used end).
func (t *table) moveToTail(slot uint32) {
	if t.lruTail == slot {
		return
	}
	t.unlink(slot)
	t.linkTail(slot)
}

// lookupOrCreate implements spec.md §4.1's "Table lookup": try the canonical
// key, then the reverse key, then create. A hit on an already-timed-out
// entry is terminated in place and replaced in the index by a fresh entry;
// the stale entry keeps its LRU slot until compaction.
func (t *table) lookupOrCreate(id convid.ConversationId, now int64, timeouts Timeouts) (*Conversation, bool) {
	key := id.TableKey()
	if slot, ok := t.index[key]; ok {
		c := t.arena[slot]
		if !c.Deleted {
			if timeouts.expired(c.State, c.LastPktTS, now) {
				t.expire(c, now)
				return t.create(id, key, now), true
			}
			t.moveToTail(slot)
			return c, false
		}
	}
	rkey := id.Reverse().TableKey()
	if slot, ok := t.index[rkey]; ok {
		c := t.arena[slot]
		if !c.Deleted {
			if timeouts.expired(c.State, c.LastPktTS, now) {
				t.expire(c, now)
				return t.create(id, key, now), true
			}
			t.moveToTail(slot)
			return c, false
		}
	}
	return t.create(id, key, now), true
}

func (t *table) create(id convid.ConversationId, key string, now int64) *Conversation {
	c := newConversation(id, now, t.timeslotCount)
	c.tableKey = key
	t.alloc(c)
	t.linkTail(c.slot)
	t.index[key] = c.slot
	t.liveCount++
	return c
}

// expire terminates a stale entry in place (state machine treats it as
// TIMEDOUT) without removing it from the table; the caller allocates a
// fresh entry to replace it. The stale entry is freed for emission via the
// normal walk/fast-path.
func (t *table) expire(c *Conversation, now int64) {
	c.State = TimedOut
	c.Terminated = true
	c.LastPktTS = now
	c.flush()
	if t.index[c.tableKey] == c.slot {
		delete(t.index, c.tableKey)
	}
}

// tombstone marks a conversation deleted (emitted) and accounts it toward
// the next compaction decision.
func (t *table) tombstone(c *Conversation) {
	if c.Deleted {
		return
	}
	c.Deleted = true
	if t.index[c.tableKey] == c.slot {
		delete(t.index, c.tableKey)
	}
	t.liveCount--
	t.delayedDeletedCount++
}

// nextFinished implements spec.md §4.1's fast path + periodic walk.
func (t *table) nextFinished(now int64) *Conversation {
	if t.lruTail != noSlot {
		tail := t.arena[t.lruTail]
		if !tail.Deleted && tail.Terminated {
			tail.flush()
			t.tombstone(tail)
			return tail
		}
	}

	if !t.sweeping {
		if now < t.lastSweep+sweepInterval {
			return nil
		}
		t.lastSweep = now
		t.sweeping = true
		t.sweepCursor = t.lruHead
	}

	for t.sweepCursor != noSlot {
		c := t.arena[t.sweepCursor]
		next := c.lruNext
		hasNext := c.hasLRUNext
		if !c.Deleted && c.Terminated {
			if hasNext {
				t.sweepCursor = next
			} else {
				t.sweepCursor = noSlot
			}
			c.flush()
			t.tombstone(c)
			return c
		}
		if !hasNext {
			break
		}
		t.sweepCursor = next
	}
	t.sweeping = false
	t.sweepCursor = noSlot
	return nil
}

// cleanTimedout walks live entries once and terminates any whose idle
// timeout has elapsed; called once per input packet (spec.md §4.1).
func (t *table) cleanTimedout(now int64, timeouts Timeouts) {
	for slot := t.lruHead; slot != noSlot; {
		c := t.arena[slot]
		next, hasNext := c.lruNext, c.hasLRUNext
		if !c.Deleted && !c.Terminated && timeouts.expired(c.State, c.LastPktTS, now) {
			c.State = TimedOut
			c.Terminated = true
		}
		if !hasNext {
			break
		}
		slot = next
	}
}

// maybeCompact implements spec.md §4.1's compaction trigger and
// forward-copy rebuild.
func (t *table) maybeCompact() {
	total := t.liveCount + t.delayedDeletedCount
	threshold := consolidateLowerThreshold
	if portion := int(consolidateThresholdPortion * float64(total)); portion > threshold {
		threshold = portion
	}
	if t.delayedDeletedCount < threshold {
		return
	}
	t.compact()
}

func (t *table) compact() {
	fresh := newTable(t.timeslotCount)
	for slot := t.lruHead; slot != noSlot; {
		c := t.arena[slot]
		next, hasNext := c.lruNext, c.hasLRUNext
		if !c.Deleted {
			cp := *c
			fresh.alloc(&cp)
			fresh.linkTail(cp.slot)
			fresh.index[cp.tableKey] = cp.slot
		}
		if !hasNext {
			break
		}
		slot = next
	}
	fresh.liveCount = t.liveCount
	fresh.lastSweep = t.lastSweep
	*t = *fresh
}
