package audit

import (
	"context"
	"log/slog"
	"time"
)

// Publisher is the Emitter handed to services. It decouples the request
// path from persistence through a buffered channel: Emit never blocks a
// screening operation on the audit sink. When the buffer is full the event
// is dropped and logged; losing an audit record is preferable to stalling
// callbacks.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{inbox: make(chan Event, buffer), logger: logger}
}

// Emit enqueues the event for the worker. Timestamp is filled if unset.
func (p *Publisher) Emit(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit buffer full, dropping event",
			"action", event.Action,
			"query_id", event.QueryID,
		)
	}
	return nil
}

// Inbox exposes the receive side for the worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }
