package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vigil/internal/watchlist/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// MemoryStore is the in-memory DatasetStore used in tests and single-node
// deployments. One mutex is enough: imports are sequential per source and
// rare overall.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[id.DatasetID]*models.Dataset
	staging  map[id.DatasetID][]models.Entry
	live     map[string][]models.Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		datasets: make(map[id.DatasetID]*models.Dataset),
		staging:  make(map[id.DatasetID][]models.Entry),
		live:     make(map[string][]models.Entry),
	}
}

func (s *MemoryStore) BeginImport(_ context.Context, dataset *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.datasets {
		if existing.Source == dataset.Source && existing.Status == models.StatusLoading {
			return fmt.Errorf("import for source %s already loading: %w", dataset.Source, sentinel.ErrConflict)
		}
	}
	cp := *dataset
	s.datasets[dataset.ID] = &cp
	s.staging[dataset.ID] = nil
	return nil
}

func (s *MemoryStore) AppendBatch(_ context.Context, datasetID id.DatasetID, entries []models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dataset, ok := s.datasets[datasetID]
	if !ok {
		return fmt.Errorf("dataset %s: %w", datasetID, sentinel.ErrNotFound)
	}
	if dataset.Status.Terminal() {
		return fmt.Errorf("dataset %s is %s: %w", datasetID, dataset.Status, sentinel.ErrInvalidState)
	}
	s.staging[datasetID] = append(s.staging[datasetID], entries...)
	dataset.Entries += len(entries)
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, datasetID id.DatasetID, completedAt time.Time) (*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dataset, ok := s.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, sentinel.ErrNotFound)
	}
	if dataset.Status.Terminal() {
		return nil, fmt.Errorf("dataset %s is %s: %w", datasetID, dataset.Status, sentinel.ErrInvalidState)
	}
	dataset.Status = models.StatusReady
	dataset.CompletedAt = &completedAt
	s.live[dataset.Source] = s.staging[datasetID]
	delete(s.staging, datasetID)
	cp := *dataset
	return &cp, nil
}

func (s *MemoryStore) Fail(_ context.Context, datasetID id.DatasetID, reason string, completedAt time.Time) (*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dataset, ok := s.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, sentinel.ErrNotFound)
	}
	if dataset.Status.Terminal() {
		return nil, fmt.Errorf("dataset %s is %s: %w", datasetID, dataset.Status, sentinel.ErrInvalidState)
	}
	dataset.Status = models.StatusFailed
	dataset.Reason = reason
	dataset.CompletedAt = &completedAt
	delete(s.staging, datasetID)
	cp := *dataset
	return &cp, nil
}

func (s *MemoryStore) FindDataset(_ context.Context, datasetID id.DatasetID) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dataset, ok := s.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, sentinel.ErrNotFound)
	}
	cp := *dataset
	return &cp, nil
}

func (s *MemoryStore) LatestDataset(_ context.Context, source string) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Dataset
	for _, dataset := range s.datasets {
		if dataset.Source != source {
			continue
		}
		if latest == nil || dataset.StartedAt.After(latest.StartedAt) {
			latest = dataset
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("source %s: %w", source, sentinel.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) CountLiveEntries(_ context.Context, source string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live[source]), nil
}
