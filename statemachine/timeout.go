package statemachine

// Timeouts holds the per-state-group idle timeouts from spec.md §5's timeout
// table, in microseconds to match Conversation.LastPktTS's unit.
type Timeouts struct {
	Syn      int64 // SYN_SENT, SYN_RECD, ACK_WAIT
	Estab    int64 // ESTABLISHED
	Fin      int64 // FIN_WAIT_1, FIN_WAIT_2, CLOSING_1, CLOSING_2, CLOSING
	LastAck  int64 // CLOSE_WAIT_1, CLOSE_WAIT, LAST_ACK_1, LAST_ACK, LAST_ACK_2
}

// DefaultTimeouts matches spec.md §5's literal values: 120s handshake/close
// windows, 5 days for an idle established conversation, 30s for the
// CLOSE_WAIT/LAST_ACK states of a passive close.
var DefaultTimeouts = Timeouts{
	Syn:     120 * 1e6,
	Estab:   5 * 24 * 3600 * 1e6,
	Fin:     120 * 1e6,
	LastAck: 30 * 1e6,
}

// timeoutFor returns the idle timeout that applies to a conversation
// currently in state s. Any state not named by one of the four groups
// below (NO_STATE, or a terminal state) falls back to syn_timeout, per
// spec.md §4.1's "other -> syn_timeout" catch-all.
func (t Timeouts) timeoutFor(s State) int64 {
	switch s {
	case SynSent, SynRecd, AckWait:
		return t.Syn
	case Established:
		return t.Estab
	case FinWait1, FinWait2, Closing1, Closing2, Closing:
		return t.Fin
	case CloseWait1, CloseWait, LastAck1, LastAck, LastAck2:
		return t.LastAck
	default:
		return t.Syn
	}
}

// expired reports whether a conversation last touched at lastPktTS, now in
// state s, has gone idle past its state's timeout as of `now` (all in
// microseconds).
func (t Timeouts) expired(s State, lastPktTS, now int64) bool {
	timeout := t.timeoutFor(s)
	if timeout == 0 {
		return false
	}
	return now-lastPktTS > timeout
}
