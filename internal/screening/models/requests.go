package models

import (
	"encoding/json"
	"time"
)

// SubmitRequest is the dispatch request body.
type SubmitRequest struct {
	Subject Subject `json:"subject"`
	// Providers optionally restricts screening to a subset of provider
	// kinds. Empty means all known kinds.
	Providers []string `json:"providers,omitempty"`
}

// SubmitResponse carries the assigned query id, returned before any
// provider completes.
type SubmitResponse struct {
	QueryID   string      `json:"query_id"`
	Status    QueryStatus `json:"status"`
	Providers []string    `json:"providers"`
}

// ResultsCallback is the body of a provider success callback.
type ResultsCallback struct {
	QueryID string          `json:"query_id"`
	Payload json.RawMessage `json:"payload"`
}

// FailedCallback is the body of a provider failure callback.
type FailedCallback struct {
	QueryID string `json:"query_id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// CallbackResponse acknowledges a callback. Duplicates return the exact
// same shape as a first delivery so retrying providers cannot distinguish
// them.
type CallbackResponse struct {
	Accepted bool `json:"accepted"`
}

// Snapshot is the aggregate view served by polls and pushed to subscribers.
// Each event carries the full snapshot, not a delta, so a client attaching
// mid-stream reconstructs state from the latest event alone.
type Snapshot struct {
	QueryID   string            `json:"query_id"`
	Status    QueryStatus       `json:"status"`
	Revision  uint64            `json:"revision"`
	CreatedAt time.Time         `json:"created_at"`
	Providers []ProviderOutcome `json:"providers"`
}

// SnapshotOf projects a query into its wire snapshot, with providers in
// enabled order.
func SnapshotOf(q *Query) Snapshot {
	providers := make([]ProviderOutcome, 0, len(q.EnabledProviders))
	for _, kind := range q.EnabledProviders {
		providers = append(providers, *q.Outcomes[kind])
	}
	return Snapshot{
		QueryID:   q.ID.String(),
		Status:    q.Status(),
		Revision:  q.Revision,
		CreatedAt: q.CreatedAt,
		Providers: providers,
	}
}
