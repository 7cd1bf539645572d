package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vigil/internal/watchlist/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// PostgresStore persists datasets and entries in PostgreSQL. Staged entries
// carry their dataset id; promotion on Complete flips which dataset the
// source's live view points at, so a failed import never disturbs the
// previous ready data.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS watchlist_datasets (
	id           UUID PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	entries      INT NOT NULL DEFAULT 0,
	reason       TEXT,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS watchlist_datasets_source_idx
	ON watchlist_datasets (source, started_at DESC);
CREATE TABLE IF NOT EXISTS watchlist_entries (
	dataset_id UUID NOT NULL REFERENCES watchlist_datasets(id) ON DELETE CASCADE,
	list       TEXT NOT NULL,
	name       TEXT NOT NULL,
	country    TEXT,
	aliases    TEXT[]
);
CREATE INDEX IF NOT EXISTS watchlist_entries_dataset_idx
	ON watchlist_entries (dataset_id);
CREATE TABLE IF NOT EXISTS watchlist_live (
	source     TEXT PRIMARY KEY,
	dataset_id UUID NOT NULL REFERENCES watchlist_datasets(id)
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure watchlist schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) BeginImport(ctx context.Context, dataset *models.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback()

	var loading int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watchlist_datasets WHERE source = $1 AND status = $2`,
		dataset.Source, string(models.StatusLoading),
	).Scan(&loading)
	if err != nil {
		return fmt.Errorf("check loading imports: %w", err)
	}
	if loading > 0 {
		return fmt.Errorf("import for source %s already loading: %w", dataset.Source, sentinel.ErrConflict)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO watchlist_datasets (id, source, status, entries, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(dataset.ID), dataset.Source, string(dataset.Status), dataset.Entries, dataset.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit begin import: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendBatch(ctx context.Context, datasetID id.DatasetID, entries []models.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.lockLoading(ctx, tx, datasetID); err != nil {
		return err
	}

	for _, entry := range entries {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO watchlist_entries (dataset_id, list, name, country, aliases)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.UUID(datasetID), entry.List, entry.Name, entry.Country, pq.Array(entry.Aliases),
		)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE watchlist_datasets SET entries = entries + $2 WHERE id = $1`,
		uuid.UUID(datasetID), len(entries),
	)
	if err != nil {
		return fmt.Errorf("bump entry count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, datasetID id.DatasetID, completedAt time.Time) (*models.Dataset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback()

	dataset, err := s.lockLoading(ctx, tx, datasetID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE watchlist_datasets SET status = $2, completed_at = $3 WHERE id = $1`,
		uuid.UUID(datasetID), string(models.StatusReady), completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("mark dataset ready: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO watchlist_live (source, dataset_id) VALUES ($1, $2)
		 ON CONFLICT (source) DO UPDATE SET dataset_id = EXCLUDED.dataset_id`,
		dataset.Source, uuid.UUID(datasetID),
	)
	if err != nil {
		return nil, fmt.Errorf("promote dataset: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit complete: %w", err)
	}

	dataset.Status = models.StatusReady
	dataset.CompletedAt = &completedAt
	return dataset, nil
}

func (s *PostgresStore) Fail(ctx context.Context, datasetID id.DatasetID, reason string, completedAt time.Time) (*models.Dataset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fail tx: %w", err)
	}
	defer tx.Rollback()

	dataset, err := s.lockLoading(ctx, tx, datasetID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE watchlist_datasets SET status = $2, reason = $3, completed_at = $4 WHERE id = $1`,
		uuid.UUID(datasetID), string(models.StatusFailed), reason, completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("mark dataset failed: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM watchlist_entries WHERE dataset_id = $1`,
		uuid.UUID(datasetID),
	)
	if err != nil {
		return nil, fmt.Errorf("discard staged entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fail: %w", err)
	}

	dataset.Status = models.StatusFailed
	dataset.Reason = reason
	dataset.CompletedAt = &completedAt
	return dataset, nil
}

func (s *PostgresStore) FindDataset(ctx context.Context, datasetID id.DatasetID) (*models.Dataset, error) {
	return s.scanDataset(s.db.QueryRowContext(ctx,
		`SELECT id, source, status, entries, reason, started_at, completed_at
		 FROM watchlist_datasets WHERE id = $1`,
		uuid.UUID(datasetID),
	))
}

func (s *PostgresStore) LatestDataset(ctx context.Context, source string) (*models.Dataset, error) {
	return s.scanDataset(s.db.QueryRowContext(ctx,
		`SELECT id, source, status, entries, reason, started_at, completed_at
		 FROM watchlist_datasets WHERE source = $1
		 ORDER BY started_at DESC LIMIT 1`,
		source,
	))
}

func (s *PostgresStore) CountLiveEntries(ctx context.Context, source string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watchlist_entries e
		 JOIN watchlist_live l ON l.dataset_id = e.dataset_id
		 WHERE l.source = $1`,
		source,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count live entries: %w", err)
	}
	return count, nil
}

// lockLoading locks the dataset row and verifies it is still loading.
func (s *PostgresStore) lockLoading(ctx context.Context, tx *sql.Tx, datasetID id.DatasetID) (*models.Dataset, error) {
	dataset, err := s.scanDataset(tx.QueryRowContext(ctx,
		`SELECT id, source, status, entries, reason, started_at, completed_at
		 FROM watchlist_datasets WHERE id = $1 FOR UPDATE`,
		uuid.UUID(datasetID),
	))
	if err != nil {
		return nil, err
	}
	if dataset.Status.Terminal() {
		return nil, fmt.Errorf("dataset %s is %s: %w", datasetID, dataset.Status, sentinel.ErrInvalidState)
	}
	return dataset, nil
}

func (s *PostgresStore) scanDataset(row *sql.Row) (*models.Dataset, error) {
	var dataset models.Dataset
	var datasetID uuid.UUID
	var status string
	var reason sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&datasetID, &dataset.Source, &status, &dataset.Entries, &reason, &dataset.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan dataset: %w", err)
	}
	dataset.ID = id.DatasetID(datasetID)
	dataset.Status = models.DatasetStatus(status)
	dataset.Reason = reason.String
	if completedAt.Valid {
		ts := completedAt.Time
		dataset.CompletedAt = &ts
	}
	return &dataset, nil
}
