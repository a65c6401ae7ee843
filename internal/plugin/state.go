package plugin

// State is the load state of a module.
type State int

// Module states.
const (
	// StatePending - the load call has not run yet.
	StatePending State = iota

	// StateLoaded - top-level code and its async work completed.
	StateLoaded

	// StateFailed - the module did not compile or raised an uncaught error.
	StateFailed

	// StateSkipped - the path was already loaded in this session.
	StateSkipped
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}
