package relay

// State is a job's position in the pipeline.
type State string

const (
	StatePending    State = "Pending"
	StateBuilding   State = "Building"
	StateSigning    State = "Signing"
	StateSubmitting State = "Submitting"
	StateConfirmed  State = "Confirmed"
	StateRejected   State = "Rejected"
	StateAmbiguous  State = "Ambiguous"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateConfirmed, StateRejected, StateAmbiguous:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job in state s may move to next.
// Transitions only move forward. Any non-terminal state may end in Rejected;
// Confirmed and Ambiguous need a submission.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateBuilding || next == StateRejected
	case StateBuilding:
		return next == StateSigning || next == StateRejected
	case StateSigning:
		return next == StateSubmitting || next == StateRejected
	case StateSubmitting:
		return next == StateConfirmed || next == StateRejected || next == StateAmbiguous
	default:
		return false
	}
}
