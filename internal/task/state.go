package task

import (
	"fmt"
)

// State is the terminal outcome recorded on a task node.
type State int

// Possible task states. StateUnset is the zero value and means the node has
// not reached a terminal outcome yet.
const (
	StateUnset State = iota
	StateSuccess
	StateWarning
	StateError
)

var stateNames = map[State]string{
	StateUnset:   "unset",
	StateSuccess: "success",
	StateWarning: "warning",
	StateError:   "error",
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// String returns the lower-case name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid task state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	state, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// ParseState converts a state name back to a State.
func ParseState(name string) (State, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return StateUnset, fmt.Errorf("unknown task state %q", name)
}

// ProgressMode decides where a node's progress and progress max come from.
type ProgressMode int

const (
	// ProgressStored uses the values stored on the node itself.
	ProgressStored ProgressMode = iota

	// ProgressDerivedSequential reports the progress of the first incomplete
	// child, for work that runs its children one at a time.
	ProgressDerivedSequential

	// ProgressDerivedParallel reports the sum over all children, for work that
	// runs its children concurrently.
	ProgressDerivedParallel
)

// String returns the name of the mode.
func (m ProgressMode) String() string {
	switch m {
	case ProgressStored:
		return "stored"
	case ProgressDerivedSequential:
		return "sequential"
	case ProgressDerivedParallel:
		return "parallel"
	default:
		return fmt.Sprintf("ProgressMode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name.
func (m ProgressMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name produced by MarshalText.
func (m *ProgressMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "stored":
		*m = ProgressStored
	case "sequential":
		*m = ProgressDerivedSequential
	case "parallel":
		*m = ProgressDerivedParallel
	default:
		return fmt.Errorf("unknown progress mode %q", string(text))
	}
	return nil
}

// modeFor maps the two creation flags onto a ProgressMode.
func modeFor(unknownMaxProgress, sequential bool) ProgressMode {
	switch {
	case !unknownMaxProgress:
		return ProgressStored
	case sequential:
		return ProgressDerivedSequential
	default:
		return ProgressDerivedParallel
	}
}
