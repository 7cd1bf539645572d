package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vigil/internal/screening/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// MemoryStore is the in-memory QueryStore used in tests and single-node
// deployments. The outer mutex only guards the map; each query carries its
// own lock so concurrent callbacks for different queries never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	queries map[id.QueryID]*memoryEntry
}

type memoryEntry struct {
	mu    sync.Mutex
	query *models.Query
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queries: make(map[id.QueryID]*memoryEntry)}
}

func (s *MemoryStore) Create(_ context.Context, query *models.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queries[query.ID]; exists {
		return fmt.Errorf("query %s: %w", query.ID, sentinel.ErrConflict)
	}
	s.queries[query.ID] = &memoryEntry{query: query.Clone()}
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, queryID id.QueryID) (*models.Query, error) {
	entry, err := s.entry(queryID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.query.Clone(), nil
}

func (s *MemoryStore) ApplyOutcome(_ context.Context, queryID id.QueryID, provider models.ProviderKind, outcome models.Outcome) (*models.Query, bool, error) {
	entry, err := s.entry(queryID)
	if err != nil {
		return nil, false, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	slot, enabled := entry.query.Outcomes[provider]
	if !enabled {
		return nil, false, fmt.Errorf("provider %s not enabled for query %s: %w", provider, queryID, sentinel.ErrNotFound)
	}
	if slot.State.Terminal() {
		// Duplicate delivery: absorb without touching the slot.
		return entry.query.Clone(), false, nil
	}

	reportedAt := outcome.ReportedAt
	if outcome.Succeeded() {
		slot.State = models.ProviderStateSucceeded
		slot.Result = outcome.Result
	} else {
		slot.State = models.ProviderStateFailed
		slot.Error = outcome.Error
	}
	slot.ReportedAt = &reportedAt
	entry.query.Revision++

	return entry.query.Clone(), true, nil
}

func (s *MemoryStore) ListPendingOlderThan(_ context.Context, cutoff time.Time) ([]PendingSlot, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.queries))
	for _, entry := range s.queries {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	var slots []PendingSlot
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.query.CreatedAt.Before(cutoff) {
			for _, kind := range entry.query.EnabledProviders {
				if !entry.query.Outcomes[kind].State.Terminal() {
					slots = append(slots, PendingSlot{
						QueryID:   entry.query.ID,
						Provider:  kind,
						CreatedAt: entry.query.CreatedAt,
					})
				}
			}
		}
		entry.mu.Unlock()
	}
	return slots, nil
}

func (s *MemoryStore) entry(queryID id.QueryID) (*memoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.queries[queryID]
	if !ok {
		return nil, fmt.Errorf("query %s: %w", queryID, sentinel.ErrNotFound)
	}
	return entry, nil
}
