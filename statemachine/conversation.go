package statemachine

import "github.com/m-lab/statetrans/convid"

// TimeslotCell accumulates counts for one (timeslot, transition) cell.
// Value is the count in the currently open window; AggrValue is the sum
// across every closed window plus, after emission, the final open window
// (held as float64, not uint64, because the Chebyshev evaluator's detect
// pass destructively overwrites it with a normalized proportion — spec.md
// §9's documented reuse of the field, not a bug); AggrCount is the number
// of windows that have contributed to AggrValue.
type TimeslotCell struct {
	Value     uint64
	AggrValue float64
	AggrCount uint64
}

// Conversation is one active or recently-finished 4-tuple entry in the
// state machine's table (spec.md §3).
type Conversation struct {
	ID          convid.ConversationId
	State       State
	FirstPktTS  int64 // microseconds
	LastPktTS   int64
	Terminated  bool
	Deleted     bool

	// Timeslots[ts][trans] — T rows (one per configured interval width), K
	// columns (one per Transition, including the unused NoTrans column).
	Timeslots      [][]TimeslotCell
	TimeslotStarts []int64 // absolute microsecond timestamp each row's open window started

	// table/LRU bookkeeping, owned by the conversation table (table.go).
	slot       uint32
	tableKey   string
	lruPrev    uint32
	lruNext    uint32
	hasLRUPrev bool
	hasLRUNext bool
}

func newConversation(id convid.ConversationId, now int64, timeslotCount int) *Conversation {
	c := &Conversation{
		ID:             id,
		State:          NoState,
		FirstPktTS:     now,
		LastPktTS:      now,
		Timeslots:      make([][]TimeslotCell, timeslotCount),
		TimeslotStarts: make([]int64, timeslotCount),
	}
	for ts := range c.Timeslots {
		c.Timeslots[ts] = make([]TimeslotCell, TransitionCount)
		c.TimeslotStarts[ts] = now
	}
	return c
}

// closeWindow rolls the currently-open window into AggrValue/AggrCount for
// timeslot row ts, for every transition label, and reopens the window at
// `now`. Spec.md §4.1 step 5: this closes at most one window per crossing,
// even if several interval widths' worth of quiet time elapsed — a long
// quiet period followed by a burst accounts all subsequent transitions to a
// single open window until the next packet triggers another single close.
// This is the source's documented behavior (spec.md §9), not a bug to fix.
func (c *Conversation) closeWindow(ts int, now int64) {
	row := c.Timeslots[ts]
	for i := range row {
		row[i].AggrValue += float64(row[i].Value)
		row[i].AggrCount++
		row[i].Value = 0
	}
	c.TimeslotStarts[ts] = now
}

// recordTransition applies one classified transition to the conversation's
// per-timeslot counters and advances the current open window(s) as needed.
func (c *Conversation) recordTransition(now int64, intervals []int64, trans Transition) {
	for ts, width := range intervals {
		if now >= c.TimeslotStarts[ts]+width {
			c.closeWindow(ts, now)
		}
		c.Timeslots[ts][trans].Value++
	}
}

// flush rolls every still-open window into AggrValue/AggrCount. Called
// immediately before a conversation is handed to NextFinished's caller
// (spec.md §4.1 "summation before emission"), and also when a stale entry
// is expired in place; a second flush finds every Value already zero and
// changes nothing.
func (c *Conversation) flush() {
	for ts := range c.Timeslots {
		row := c.Timeslots[ts]
		for i := range row {
			if row[i].Value != 0 {
				row[i].AggrValue += float64(row[i].Value)
				row[i].AggrCount++
				row[i].Value = 0
			}
		}
	}
}

// TimeslotCount and TransitionCount let a generic evaluator iterate the
// matrix without depending on this package's State/Transition types.
func (c *Conversation) TimeslotCount() int    { return len(c.Timeslots) }
func (c *Conversation) TransitionCount() int { return int(TransitionCount) }

// AggrValue, AggrCount, and SetAggrValue give an evaluator read/write access
// to one (ts, trans) cell by plain index, per spec.md §9's "evaluators have
// no knowledge of TCP semantics" — they see counts per label, not states.
func (c *Conversation) AggrValue(ts, trans int) float64 { return c.Timeslots[ts][trans].AggrValue }
func (c *Conversation) AggrCount(ts, trans int) uint64  { return c.Timeslots[ts][trans].AggrCount }
func (c *Conversation) SetAggrValue(ts, trans int, v float64) {
	c.Timeslots[ts][trans].AggrValue = v
}

// ProfileKey returns the per-host profile bucket this conversation bills
// to, for Engine routing.
func (c *Conversation) ProfileKey() string { return c.ID.ProfileKeyString() }
