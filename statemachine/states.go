package statemachine

import (
	"strconv"

	"github.com/iancoleman/strcase"
)

// State is a node of the TCP conversation state machine (spec.md §4.1).
type State uint8

const (
	NoState State = iota
	SynSent
	SynRecd
	AckWait
	Established
	FinWait1
	FinWait2
	Closing1
	Closing2
	Closing
	CloseWait1
	CloseWait
	LastAck1
	LastAck
	LastAck2
	Closed
	TimedOut
	RstSeen

	stateCount
)

var stateNames = [...]string{
	"NO_STATE", "SYN_SENT", "SYN_RECD", "ACK_WAIT", "ESTABLISHED",
	"FIN_WAIT_1", "FIN_WAIT_2", "CLOSING_1", "CLOSING_2", "CLOSING",
	"CLOSE_WAIT_1", "CLOSE_WAIT", "LAST_ACK_1", "LAST_ACK", "LAST_ACK_2",
	"CLOSED", "TIMEDOUT", "RST_SEEN",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN_STATE"
}

// Terminal reports whether s is one of the three terminal states a
// Conversation can only reach once (spec.md §3 invariant (a)).
func (s State) Terminal() bool {
	return s == Closed || s == RstSeen || s == TimedOut
}

// MetricLabel renders s as a snake_case prometheus label value, e.g.
// "syn_sent" for SynSent. Built off String()'s SCREAMING_SNAKE form rather
// than the Go identifier so it stays stable if the const names ever change.
func (s State) MetricLabel() string {
	return strcase.ToSnake(s.String())
}

// Transition is one of the fixed, TCP-semantics-agnostic transition labels
// T1..T31, or NoTrans when a packet matched no rule for the current state.
// Evaluators only ever see counts per label; they have no knowledge of what
// a label means.
type Transition uint8

const (
	NoTrans Transition = iota
	T1
	T2
	T3
	T4
	T5
	T6
	T7
	T8
	T9
	T10
	T11
	T12
	T13
	T14
	T15
	T16
	T17
	T18
	T19
	T20
	T21
	T22
	T23
	T24
	T25
	T26
	T27
	T28
	T29
	T30
	T31

	// TransitionCount is the size of the transition alphabet (K in spec.md
	// §3), including the reserved NoTrans slot at index 0.
	TransitionCount
)

func (t Transition) String() string {
	if t == NoTrans {
		return "NO_TRANS"
	}
	return "T" + strconv.Itoa(int(t))
}

// MetricLabel renders t as a snake_case prometheus label value, e.g. "t1".
func (t Transition) MetricLabel() string {
	return strcase.ToSnake(t.String())
}
