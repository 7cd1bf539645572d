// Package worker drains the audit publisher into a store in the background.
package worker

import (
	"context"
	"log/slog"

	"vigil/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. A store
// failure is logged and the worker keeps going; the audit trail must never
// take the screening pipeline down.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func New(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("failed to persist audit event",
					"error", err,
					"action", event.Action,
					"query_id", event.QueryID,
				)
			}
		}
	}
}
