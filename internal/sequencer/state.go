package sequencer

import "fmt"

// State is the phase of the frame being processed.
type State uint8

const (
	StateIdle State = iota
	StateBuildQuery
	StateDispatching
	StateDraining
	StateSelected
	StatePersisted
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateBuildQuery:  "build-query",
	StateDispatching: "dispatching",
	StateDraining:    "draining",
	StateSelected:    "selected",
	StatePersisted:   "persisted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}
