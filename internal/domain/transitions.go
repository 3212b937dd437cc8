package domain

// allowedTransitions is the closed set of legal status moves. Creation lands
// in pending_clarification (or queued when clarifications are disabled, via
// the pending->queued edge). Completed and cancelled are terminal.
var allowedTransitions = map[JobStatus][]JobStatus{
	JobPendingClarification: {JobPendingConfirmation, JobQueued, JobActive, JobCancelled},
	JobPendingConfirmation:  {JobQueued, JobActive, JobCancelled},
	JobQueued:               {JobActive, JobCancelled},
	JobActive:               {JobCompleted, JobFailed, JobCancelled},
	JobCompleted:            {},
	JobFailed:               {JobRetrying, JobCancelled},
	JobCancelled:            {},
	JobRetrying:             {JobPendingClarification, JobQueued, JobCancelled},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to JobStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s JobStatus) bool {
	return s == JobCompleted || s == JobCancelled
}

// ValidStatus reports whether s belongs to the declared status set.
func ValidStatus(s JobStatus) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// ActionForStatus maps a committed transition target onto its history action.
func ActionForStatus(to JobStatus) HistoryAction {
	switch to {
	case JobActive:
		return HistoryStarted
	case JobCompleted:
		return HistoryCompleted
	case JobFailed:
		return HistoryFailed
	case JobCancelled:
		return HistoryCancelled
	case JobRetrying:
		return HistoryRetried
	default:
		return HistoryProgress
	}
}
