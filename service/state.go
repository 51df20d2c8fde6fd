package service

import "fmt"

// State is the lifecycle state of a managed service.  Transitions follow
// the monotonic path UNINITIALIZED through STOPPED; ERROR may be entered
// from any non-terminal state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Initialized
	Starting
	Running
	Stopping
	Stopped
	Errored
)

var stateNames = map[State]string{
	Uninitialized: "UNINITIALIZED",
	Initializing:  "INITIALIZING",
	Initialized:   "INITIALIZED",
	Starting:      "STARTING",
	Running:       "RUNNING",
	Stopping:      "STOPPING",
	Stopped:       "STOPPED",
	Errored:       "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// canTransition enforces the lifecycle DAG.
func canTransition(from, to State) bool {
	if to == Errored {
		return from != Stopped && from != Errored
	}

	switch from {
	case Uninitialized:
		return to == Initializing
	case Initializing:
		return to == Initialized
	case Initialized:
		return to == Starting
	case Starting:
		return to == Running
	case Running:
		return to == Stopping
	case Stopping:
		return to == Stopped
	default:
		return false
	}
}
