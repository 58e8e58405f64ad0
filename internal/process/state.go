package process

// State is the supervisor's operational state.
type State uint8

const (
	StateAwaitingStart    State = 0
	StateStarted          State = 1
	StateAwaitingStop     State = 2
	StateStopped          State = 3
	StateAwaitingInactive State = 4
	StateInactive         State = 5
	StateAwaitingShutdown State = 6
	StateShutdownReady    State = 7
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting_start"
	case StateStarted:
		return "started"
	case StateAwaitingStop:
		return "awaiting_stop"
	case StateStopped:
		return "stopped"
	case StateAwaitingInactive:
		return "awaiting_inactive"
	case StateInactive:
		return "inactive"
	case StateAwaitingShutdown:
		return "awaiting_shutdown"
	case StateShutdownReady:
		return "shutdown_ready"
	default:
		return "unknown"
	}
}

// pollsConnectivity reports whether the loop should block on the connectivity layer rather than
// on the control channel.
func (s State) pollsConnectivity() bool {
	switch s {
	case StateAwaitingStart, StateStarted, StateAwaitingStop, StateAwaitingInactive:
		return true
	default:
		return false
	}
}
