// Package store persists watchlist datasets and their entries. Entries live
// in a per-source staging area until the import completes; screening lookups
// only ever see the last completed run.
package store

import (
	"context"
	"time"

	"vigil/internal/watchlist/models"
	id "vigil/pkg/domain"
)

// DatasetStore is the import pipeline's persistence contract.
//
// Implementations return pkg/platform/sentinel errors; the service translates
// them into coded domain errors.
type DatasetStore interface {
	// BeginImport records the dataset and truncates the source's staging
	// area. Returns sentinel.ErrConflict if another run for the same source
	// is still loading.
	BeginImport(ctx context.Context, dataset *models.Dataset) error

	// AppendBatch stages entries for a loading dataset. Returns
	// sentinel.ErrInvalidState if the dataset is terminal.
	AppendBatch(ctx context.Context, datasetID id.DatasetID, entries []models.Entry) error

	// Complete promotes the staged entries to live and marks the dataset
	// ready. Returns sentinel.ErrInvalidState if the dataset is terminal.
	Complete(ctx context.Context, datasetID id.DatasetID, completedAt time.Time) (*models.Dataset, error)

	// Fail marks the dataset failed and discards its staged entries.
	Fail(ctx context.Context, datasetID id.DatasetID, reason string, completedAt time.Time) (*models.Dataset, error)

	// FindDataset returns one dataset, or sentinel.ErrNotFound.
	FindDataset(ctx context.Context, datasetID id.DatasetID) (*models.Dataset, error)

	// LatestDataset returns the most recent run for a source, or
	// sentinel.ErrNotFound.
	LatestDataset(ctx context.Context, source string) (*models.Dataset, error)

	// CountLiveEntries counts the entries visible to lookups for a source.
	CountLiveEntries(ctx context.Context, source string) (int, error)
}
