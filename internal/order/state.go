package order

// State is the lifecycle state of an order. Values are stable and appear in journals.
type State uint8

const (
	StateInitial         State = 0
	StateActive          State = 1
	StateDestroyed       State = 2
	StateCanceled        State = 3
	StateRejected        State = 4
	StateFilled          State = 5
	StateExpired         State = 6
	StateAwaitingActive  State = 7
	StateAwaitingDestroy State = 8
	StateAwaitingCancel  State = 9
	StateAwaitingReplace State = 10
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateActive:
		return "active"
	case StateDestroyed:
		return "destroyed"
	case StateCanceled:
		return "canceled"
	case StateRejected:
		return "rejected"
	case StateFilled:
		return "filled"
	case StateExpired:
		return "expired"
	case StateAwaitingActive:
		return "awaiting_active"
	case StateAwaitingDestroy:
		return "awaiting_destroy"
	case StateAwaitingCancel:
		return "awaiting_cancel"
	case StateAwaitingReplace:
		return "awaiting_replace"
	default:
		return "unknown"
	}
}

// IsActive reports whether the order rests on the venue with no request outstanding.
func (s State) IsActive() bool {
	return s == StateActive
}

// IsDone reports whether the order reached a terminal state.
func (s State) IsDone() bool {
	switch s {
	case StateDestroyed, StateCanceled, StateRejected, StateFilled, StateExpired:
		return true
	default:
		return false
	}
}

// IsPending reports whether a request is outstanding.
func (s State) IsPending() bool {
	switch s {
	case StateAwaitingActive, StateAwaitingDestroy, StateAwaitingCancel, StateAwaitingReplace:
		return true
	default:
		return false
	}
}

// IsOnExchange reports whether the venue has accepted the order and not yet retired it.
func (s State) IsOnExchange() bool {
	switch s {
	case StateActive, StateAwaitingDestroy, StateAwaitingCancel, StateAwaitingReplace:
		return true
	default:
		return false
	}
}

// ReplaceMask selects the fields carried by a replace request.
type ReplaceMask uint8

const (
	ReplaceQty    ReplaceMask = 1
	ReplacePrice  ReplaceMask = 2
	ReplaceExtRef ReplaceMask = 4

	replaceAll = ReplaceQty | ReplacePrice | ReplaceExtRef
)

// Has reports whether every bit of flag is set.
func (m ReplaceMask) Has(flag ReplaceMask) bool {
	return m&flag == flag
}

// IsValid reports whether m is a non-empty subset of the known fields.
func (m ReplaceMask) IsValid() bool {
	return m != 0 && m&^replaceAll == 0
}
