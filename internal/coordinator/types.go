package coordinator

// Role decides whether a process runs the watcher.
type Role int

const (
	// RoleCoordinator runs the watcher. Exactly one process should hold it.
	RoleCoordinator Role = iota

	// RolePeer does nothing, so that a pool of workers sharing one
	// configuration produces a single watcher and a single reload stream.
	RolePeer
)

// RoleForWorker maps a worker index to its role: worker 0 coordinates.
func RoleForWorker(id int) Role {
	if id == 0 {
		return RoleCoordinator
	}
	return RolePeer
}

func (r Role) String() string {
	switch r {
	case RoleCoordinator:
		return "coordinator"
	case RolePeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Strategy is the change detection mechanism in use.
type Strategy int32

const (
	StrategyNone Strategy = iota
	StrategyNotify
	StrategyScan
)

func (s Strategy) String() string {
	switch s {
	case StrategyNotify:
		return "notify"
	case StrategyScan:
		return "scan"
	default:
		return "none"
	}
}

// State is the watcher lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateWatching
	StateTriggering
)

func (s State) String() string {
	switch s {
	case StateWatching:
		return "watching"
	case StateTriggering:
		return "triggering"
	default:
		return "uninitialized"
	}
}
