// Package stream implements the per-association stream table: the
// sequence-flag state machine, UUID correlation, and timeout sweeping
// that sit between the TLV codec and the ServiceMessage layer.
package stream

// State is one point in a Stream's lifecycle (§4.2).
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateWaiting
	StateEnding
	StateClosed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateWaiting:
		return "WAITING"
	case StateEnding:
		return "ENDING"
	case StateClosed:
		return "CLOSED"
	case StateTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Initiator marks which side first opened a Stream.
type Initiator int

const (
	InitiatorLocal Initiator = iota
	InitiatorRemote
)

// LinkedSide tracks, for a routed echo pair, which association last saw a
// packet for this UUID — the 2-hop case from the Open Question decision.
// Only two sides are represented; no layer checks for or rejects a third
// side touching the same UUID.
type LinkedSide int

const (
	LinkedNone LinkedSide = iota
	LinkedA
	LinkedB
)

// Other returns the side that isn't s; LinkedNone maps to LinkedNone.
func (s LinkedSide) Other() LinkedSide {
	switch s {
	case LinkedA:
		return LinkedB
	case LinkedB:
		return LinkedA
	default:
		return LinkedNone
	}
}
