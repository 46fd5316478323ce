package engine

// State is the lifecycle state of an Engine.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	// StateError is terminal: the engine refuses further use.
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
