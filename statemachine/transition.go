package statemachine

import "github.com/m-lab/statetrans/packet"

// Flags is the TCP flags byte, with bit layout matching the one
// _examples/m-lab-etl/tcp/tcp.go's Flags type decodes (FIN/SYN/RST/PSH/
// ACK/URG/ECE/CWR from bit 0 up) — only FIN, SYN, ACK, and RST matter to
// this state machine.
type Flags uint8

func (f Flags) FIN() bool { return f&0x01 != 0 }
func (f Flags) SYN() bool { return f&0x02 != 0 }
func (f Flags) RST() bool { return f&0x04 != 0 }
func (f Flags) ACK() bool { return f&0x10 != 0 }

// classify returns the transition label and target state for a packet with
// the given flags and direction, observed while in state `from`. It returns
// (NoTrans, from) when no rule matches.
//
// This implements spec.md §4.1's transition table literally, including the
// global RST rule that precedes the per-state switch. The source's
// original table (src/plugins/statetrans/statemachine_tcp.c in
// original_source/) is an incomplete draft; the four-way-close branches
// beyond what spec.md §8's S1–S3 scenarios pin down are this implementer's
// resolution of spec.md §9's "full table is the switch in the source —
// implement literally" for the undocumented remainder, recorded in
// DESIGN.md under "TCP four-way-close transition assignment".
func classify(from State, dir packet.Direction, flags Flags) (Transition, State) {
	// Global rule: RST while not ESTABLISHED always closes abnormally.
	if flags.RST() && from != Established {
		return T8, RstSeen
	}

	in := dir == packet.DirIn
	out := dir == packet.DirOut

	switch from {
	case NoState:
		switch {
		case in && flags.SYN():
			return T1, SynRecd
		case out && flags.SYN():
			return T2, SynSent
		}

	case SynRecd:
		switch {
		case out && flags.SYN() && flags.ACK():
			return T3, AckWait
		case out && flags.FIN():
			return T29, FinWait1
		}

	case SynSent:
		switch {
		case in && flags.SYN() && flags.ACK() && flags.FIN():
			return T31, CloseWait1
		case in && flags.SYN() && flags.ACK():
			return T5, Established
		case in && flags.SYN():
			return T4, SynRecd
		}

	case AckWait:
		switch {
		case in && flags.ACK() && flags.FIN():
			return T7, CloseWait1
		case in && flags.FIN():
			return T9, CloseWait1
		case in && flags.ACK():
			return T6, Established
		case out && flags.FIN():
			return T30, FinWait1
		}

	case Established:
		switch {
		case flags.RST():
			return T20, Closed
		case in && flags.FIN():
			return T10, CloseWait1
		case out && flags.FIN():
			return T11, FinWait1
		}

	case FinWait1:
		switch {
		case in && flags.FIN() && flags.ACK():
			return T18, Closing
		case in && flags.FIN():
			return T12, Closing1
		case in && flags.ACK():
			return T13, FinWait2
		}

	case FinWait2:
		switch {
		case in && flags.FIN() && flags.ACK():
			return T17, Closed
		case in && flags.FIN():
			return T14, Closing2
		}

	case Closing1:
		if in && flags.ACK() {
			return T15, Closing
		}

	case Closing2:
		if out && flags.ACK() {
			return T19, Closed
		}

	case Closing:
		if out && flags.ACK() {
			return T16, Closed
		}

	case CloseWait1:
		switch {
		case out && flags.FIN() && flags.ACK():
			return T22, LastAck
		case out && flags.ACK():
			return T21, CloseWait
		}

	case CloseWait:
		if out && flags.FIN() {
			return T23, LastAck1
		}

	case LastAck1:
		switch {
		case in && flags.FIN():
			return T25, LastAck2
		case in && flags.ACK():
			return T24, Closed
		}

	case LastAck2:
		if in && flags.ACK() {
			return T26, Closed
		}

	case LastAck:
		if in && flags.ACK() {
			return T27, Closed
		}
	}

	return NoTrans, from
}
