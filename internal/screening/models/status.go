package models

// QueryStatus is the derived overall state of a query.
//
// Statuses are strictly ordered for a given query: pending → partial →
// one of the terminal statuses. A subscriber never observes a regression
// because the status is recomputed from all slots under the query's lock
// and slot transitions are one-way.
type QueryStatus string

const (
	// StatusPending: no provider has reported yet.
	StatusPending QueryStatus = "pending"
	// StatusPartial: at least one provider reported, at least one is still
	// pending. Results for completed providers are already readable.
	StatusPartial QueryStatus = "partial"
	// StatusComplete: every provider succeeded.
	StatusComplete QueryStatus = "complete"
	// StatusCompletedWithErrors: every provider reported, some failed and
	// some succeeded.
	StatusCompletedWithErrors QueryStatus = "completed_with_errors"
	// StatusFailed: every provider failed.
	StatusFailed QueryStatus = "failed"
)

// Terminal reports whether no further status change is possible.
func (s QueryStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusCompletedWithErrors, StatusFailed:
		return true
	}
	return false
}

// DeriveStatus is the aggregation policy: a pure, total function from the
// slot states of a query to its overall status. It must always be computed
// from a consistent read of all slots, never patched incrementally, so it
// stays correct under any callback arrival order and duplicate suppression.
func DeriveStatus(states []ProviderState) QueryStatus {
	var pending, succeeded, failed int
	for _, state := range states {
		switch state {
		case ProviderStateSucceeded:
			succeeded++
		case ProviderStateFailed:
			failed++
		default:
			pending++
		}
	}

	if pending == len(states) {
		return StatusPending
	}
	if pending > 0 {
		return StatusPartial
	}
	switch {
	case failed == 0:
		return StatusComplete
	case succeeded == 0:
		return StatusFailed
	default:
		return StatusCompletedWithErrors
	}
}
