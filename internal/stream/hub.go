// Package stream implements the fan-out hub that pushes events to live
// subscriber connections, plus the SSE wire encoding and an optional Redis
// relay for multi-instance deployments.
//
// The hub is a generic mailbox keyed by connection. It knows nothing about
// screening semantics; events carry an opaque payload and an optional query
// scope for filtering.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	id "vigil/pkg/domain"
)

// Event is one message pushed to subscribers.
type Event struct {
	// Type names the SSE event, e.g. "screening.update".
	Type string `json:"type"`
	// Query scopes delivery: only subscribers watching this query (or
	// watching everything) receive the event. Empty means unscoped.
	Query string `json:"query_id,omitempty"`
	// Terminal tells query-scoped consumers the stream is over after this
	// event.
	Terminal bool `json:"terminal,omitempty"`
	// Origin identifies the publishing instance so the Redis relay does not
	// re-deliver an instance's own events back to it.
	Origin string `json:"origin,omitempty"`
	// Payload is the event body, serialized as the SSE data line.
	Payload any `json:"payload"`
}

// PublishResult accounts for one fan-out: how many subscribers got the
// event and how many were pruned as dead.
type PublishResult struct {
	Delivered int
	Pruned    int
}

// subscriber owns its channel. The per-subscriber mutex serializes sends
// against close, so pruning one connection can never panic a concurrent
// publish and never touches any other subscriber.
type subscriber struct {
	id    id.ConnectionID
	query string // empty subscribes to all queries

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// sendOutcome tells Publish how one delivery attempt ended. Only a full
// grace period with no room in the buffer proves the subscriber dead; the
// publisher's own context going away says nothing about the subscriber.
type sendOutcome int

const (
	sendDelivered sendOutcome = iota
	sendDead
	sendAbandoned
)

// trySend delivers with a non-blocking fast path; only when the buffer is
// full does it wait out the grace period for a consumer that is merely
// slow, not dead.
func (s *subscriber) trySend(ctx context.Context, event Event, grace time.Duration) sendOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sendDead
	}

	select {
	case s.ch <- event:
		return sendDelivered
	default:
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case s.ch <- event:
		return sendDelivered
	case <-timer.C:
		return sendDead
	case <-ctx.Done():
		return sendAbandoned
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscription is a live connection's receive side. The channel closes when
// the subscriber is pruned or unsubscribed.
type Subscription struct {
	ID     id.ConnectionID
	Events <-chan Event
}

// Hub is the subscriber registry. Its mutex guards only the map; delivery
// happens outside it so a slow consumer never blocks connects, disconnects
// or delivery to other subscribers.
type Hub struct {
	mu          sync.Mutex
	subscribers map[id.ConnectionID]*subscriber

	buffer      int
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewHub creates a hub whose subscribers each get a channel of the given
// buffer depth. A subscriber whose channel stays full for longer than
// sendTimeout during a publish is treated as dead and removed.
func NewHub(buffer int, sendTimeout time.Duration, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if sendTimeout <= 0 {
		sendTimeout = time.Second
	}
	return &Hub{
		subscribers: make(map[id.ConnectionID]*subscriber),
		buffer:      buffer,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Subscribe registers a new connection. query scopes the subscription to a
// single screening query; empty receives everything.
func (h *Hub) Subscribe(query string) *Subscription {
	sub := &subscriber{
		id:    id.NewConnectionID(),
		query: query,
		ch:    make(chan Event, h.buffer),
	}
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
	return &Subscription{ID: sub.id, Events: sub.ch}
}

// Unsubscribe removes a connection, closing its channel. Safe to call for
// an already-pruned connection.
func (h *Hub) Unsubscribe(connectionID id.ConnectionID) {
	h.mu.Lock()
	sub, ok := h.subscribers[connectionID]
	if ok {
		delete(h.subscribers, connectionID)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Publish fans the event out to every matching subscriber concurrently and
// returns once every delivery attempt has been accounted for. A failed
// delivery prunes that subscriber without delaying or failing the others.
func (h *Hub) Publish(ctx context.Context, event Event) PublishResult {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if sub.query == "" || sub.query == event.Query {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	var delivered, pruned atomic.Int64
	var g errgroup.Group
	for _, sub := range targets {
		sub := sub
		g.Go(func() error {
			switch sub.trySend(ctx, event, h.sendTimeout) {
			case sendDelivered:
				delivered.Add(1)
			case sendDead:
				pruned.Add(1)
				if h.logger != nil {
					h.logger.Debug("pruning dead subscriber",
						"connection_id", sub.id.String(),
						"event_type", event.Type,
					)
				}
				h.Unsubscribe(sub.id)
			case sendAbandoned:
				// Publisher went away mid-send; the subscriber stays.
			}
			return nil
		})
	}
	_ = g.Wait()

	return PublishResult{Delivered: int(delivered.Load()), Pruned: int(pruned.Load())}
}
