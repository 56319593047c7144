package session

import "sync/atomic"

// State is one of the five session lifecycle states.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Disposed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Disposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// stateBox is an atomically-readable/writable State.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

func (b *stateBox) store(s State) {
	b.v.Store(int32(s))
}

// transition stores next unconditionally and returns the previous value.
// Validity of the transition is the caller's responsibility; this type
// only provides an atomic single-word home for the current state.
func (b *stateBox) transition(next State) State {
	prev := State(b.v.Swap(int32(next)))
	return prev
}
