package transport

import "sync/atomic"

// State is the channel's connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Joined
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	default:
		return "unknown"
	}
}

// StateListener observes state transitions. It is called outside the channel's
// locks, possibly from the channel's pump goroutines.
type StateListener func(State)

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State   { return State(b.v.Load()) }
func (b *stateBox) store(s State) { b.v.Store(int32(s)) }
