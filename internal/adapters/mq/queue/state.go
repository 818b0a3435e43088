package queue

// State is the coarse lifecycle of an Adapter.
type State int

const (
	StateActive State = iota
	StateTerminated
)

func (s State) String() string {
	if s == StateTerminated {
		return "terminated"
	}
	return "active"
}

// Reason records why an adapter terminated. The first cause wins.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonCompleted: the consumer stopped the sequence.
	ReasonCompleted
	// ReasonErrored: subscription, source, overflow or abort failure.
	ReasonErrored
	// ReasonCancelled: the cancellation context fired. Not an error.
	ReasonCancelled
)

func (r Reason) String() string {
	switch r {
	case ReasonCompleted:
		return "completed"
	case ReasonErrored:
		return "errored"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "none"
	}
}
