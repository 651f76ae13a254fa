package scm

// State is the control loop state.
type State int32

const (
	StateIdle State = iota
	StateRecomputing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecomputing:
		return "recomputing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
