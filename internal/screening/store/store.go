// Package store owns the durable record of screening queries and their
// per-provider outcome slots. It is the only mutable state shared between
// provider callbacks; locking is per query, never across queries.
package store

import (
	"context"
	"time"

	"vigil/internal/screening/models"
	id "vigil/pkg/domain"
)

// PendingSlot identifies an outcome slot that has not reached a terminal
// state, for the timeout reaper.
type PendingSlot struct {
	QueryID   id.QueryID
	Provider  models.ProviderKind
	CreatedAt time.Time
}

// QueryStore is the aggregate read/write contract the orchestrator needs.
//
// Implementations return pkg/platform/sentinel errors for infrastructure
// facts; services translate those into coded domain errors.
type QueryStore interface {
	// Create persists the query together with one pending outcome slot per
	// enabled provider, atomically. No callback may observe the query
	// before all its slots exist.
	Create(ctx context.Context, query *models.Query) error

	// FindByID returns a snapshot of the query, or sentinel.ErrNotFound.
	FindByID(ctx context.Context, queryID id.QueryID) (*models.Query, error)

	// ApplyOutcome transitions the (queryID, provider) slot from pending to
	// terminal. If the slot is already terminal the call is a no-op: it
	// returns the current snapshot with applied=false and no error, so
	// duplicate callbacks are absorbed rather than conflicting.
	//
	// The returned snapshot is consistent across all slots of the query, so
	// the caller can derive the aggregate status without a second read.
	// Returns sentinel.ErrNotFound if the query does not exist or the
	// provider is not enabled for it.
	ApplyOutcome(ctx context.Context, queryID id.QueryID, provider models.ProviderKind, outcome models.Outcome) (snapshot *models.Query, applied bool, err error)

	// ListPendingOlderThan returns slots still pending on queries created
	// before the cutoff, for externally-driven timeout enforcement.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]PendingSlot, error)
}
