// Package memory is the in-memory audit store used in development and tests.
package memory

import (
	"context"
	"sync"

	"vigil/pkg/platform/audit"
)

type Store struct {
	mu     sync.RWMutex
	events []audit.Event
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// ListByQuery returns the events recorded for one query, in append order.
func (s *Store) ListByQuery(_ context.Context, queryID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, event := range s.events {
		if event.QueryID == queryID {
			out = append(out, event)
		}
	}
	return out, nil
}

// Len returns the number of recorded events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
