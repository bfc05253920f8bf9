package engine

import "sync/atomic"

// State is one of the Engine's lifecycle states.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// stateBox is an atomically-readable State, so the HTTP health endpoint can
// read it without taking the Engine's lock.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) Load() State      { return State(b.v.Load()) }
func (b *stateBox) Store(s State)    { b.v.Store(int32(s)) }
