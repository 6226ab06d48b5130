package stepflow

// stepTransitions is the allowed-transition table for step instances.
// Terminal states have no outgoing edges; everything not listed is rejected.
var stepTransitions = map[StepInstanceStatus][]StepInstanceStatus{
	StepStatusPending: {
		StepStatusReady, StepStatusInProgress, StepStatusBlocked,
		StepStatusCancelled, StepStatusSkipped,
	},
	StepStatusReady: {
		StepStatusInProgress, StepStatusBlocked,
		StepStatusCancelled, StepStatusSkipped,
	},
	StepStatusBlocked: {
		StepStatusReady, StepStatusInProgress,
		StepStatusCancelled, StepStatusSkipped,
	},
	StepStatusInProgress: {
		StepStatusBlocked, StepStatusCompleted, StepStatusFailed,
		StepStatusCancelled, StepStatusSkipped,
	},
	StepStatusCompleted: {},
	StepStatusCancelled: {},
	StepStatusFailed:    {},
	StepStatusSkipped:   {},
}

// AllowedTransitions returns the statuses reachable from the given status.
// The returned slice is a copy; callers may mutate it.
func AllowedTransitions(from StepInstanceStatus) []StepInstanceStatus {
	targets := stepTransitions[from]
	out := make([]StepInstanceStatus, len(targets))
	copy(out, targets)
	return out
}

// CanTransition reports whether the edge from -> to is in the allowed table.
// A self-transition is not an edge; callers treat it as an idempotent no-op
// before consulting the table.
func CanTransition(from, to StepInstanceStatus) bool {
	for _, t := range stepTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns nil when the edge is allowed, or a typed
// InvalidTransition error carrying {from, to, allowed} otherwise.
func ValidateTransition(from, to StepInstanceStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return NewInvalidTransition(from, to, AllowedTransitions(from))
}
