// Package audit captures key screening actions as transport-agnostic events
// so stores and sinks can fan out: an in-memory store for development, a
// Kafka topic for the compliance pipeline.
package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies and routing per category.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance:
	// screenings performed, their outcomes, dataset provenance.
	CategoryCompliance EventCategory = "compliance"
	// CategoryOperations covers events useful for debugging and
	// operational visibility.
	CategoryOperations EventCategory = "operations"
)

// Action names what happened.
type Action string

const (
	ActionQueryDispatched  Action = "query_dispatched"
	ActionProviderReported Action = "provider_reported"
	ActionProviderTimedOut Action = "provider_timed_out"
	ActionQueryCompleted   Action = "query_completed"
	ActionDatasetImported  Action = "dataset_imported"
	ActionDatasetFailed    Action = "dataset_failed"
)

// Event is emitted from domain logic to capture key actions.
//
// SubjectFingerprint is a hash of the normalized screening subject: it gives
// the trail compliance traceability without storing raw PII.
type Event struct {
	Category           EventCategory
	Timestamp          time.Time
	Action             Action
	QueryID            string
	DatasetID          string
	Provider           string
	Status             string
	Reason             string
	SubjectFingerprint string
	RequestID          string
}

// Emitter is the port domain services use to record events.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
