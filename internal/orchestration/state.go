package orchestration

// State is the lifecycle state of a coordinator.
type State int32

const (
	// StateConstructed: normalization ran, queries are served from the
	// local snapshot, nothing touched the coordination service.
	StateConstructed State = iota
	// StateInitializing: Init is persisting, subscribing and registering.
	StateInitializing
	// StateActive: synchronized with the cluster, updates are applied.
	StateActive
	// StateShutdown is terminal.
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
