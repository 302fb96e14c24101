package build

// State is the phase of a build run.
type State int

const (
	StateIdle State = iota
	StateResetting
	StateBuilding
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResetting:
		return "resetting"
	case StateBuilding:
		return "building"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
