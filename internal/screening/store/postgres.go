package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vigil/internal/screening/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// PostgresStore persists queries and outcome slots in PostgreSQL.
//
// Per-query serialization comes from `SELECT ... FOR UPDATE` on the query
// row: two concurrent callbacks for the same query queue on the row lock,
// callbacks for different queries proceed independently.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed query store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist yet. Deployments
// with managed migrations can skip this.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS screening_queries (
	id          UUID PRIMARY KEY,
	subject     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	revision    BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS provider_outcomes (
	query_id      UUID NOT NULL REFERENCES screening_queries(id) ON DELETE CASCADE,
	provider      TEXT NOT NULL,
	position      INT NOT NULL,
	state         TEXT NOT NULL,
	result        JSONB,
	error_code    TEXT,
	error_message TEXT,
	reported_at   TIMESTAMPTZ,
	PRIMARY KEY (query_id, provider)
);
CREATE INDEX IF NOT EXISTS provider_outcomes_pending_idx
	ON provider_outcomes (query_id) WHERE state = 'pending';
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure screening schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, query *models.Query) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create query tx: %w", err)
	}
	defer tx.Rollback()

	subject, err := json.Marshal(query.Subject)
	if err != nil {
		return fmt.Errorf("marshal subject: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO screening_queries (id, subject, created_at, revision) VALUES ($1, $2, $3, $4)`,
		uuid.UUID(query.ID), subject, query.CreatedAt, query.Revision,
	)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}

	for position, kind := range query.EnabledProviders {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO provider_outcomes (query_id, provider, position, state) VALUES ($1, $2, $3, $4)`,
			uuid.UUID(query.ID), string(kind), position, string(models.ProviderStatePending),
		)
		if err != nil {
			return fmt.Errorf("insert outcome slot %s: %w", kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create query: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, queryID id.QueryID) (*models.Query, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin find query tx: %w", err)
	}
	defer tx.Rollback()

	query, err := s.loadQuery(ctx, tx, queryID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit find query: %w", err)
	}
	return query, nil
}

func (s *PostgresStore) ApplyOutcome(ctx context.Context, queryID id.QueryID, provider models.ProviderKind, outcome models.Outcome) (*models.Query, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin apply outcome tx: %w", err)
	}
	defer tx.Rollback()

	// Row lock on the query serializes concurrent callbacks per query.
	var revision uint64
	err = tx.QueryRowContext(ctx,
		`SELECT revision FROM screening_queries WHERE id = $1 FOR UPDATE`,
		uuid.UUID(queryID),
	).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("query %s: %w", queryID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, false, fmt.Errorf("lock query row: %w", err)
	}

	var state string
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM provider_outcomes WHERE query_id = $1 AND provider = $2`,
		uuid.UUID(queryID), string(provider),
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("provider %s not enabled for query %s: %w", provider, queryID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, false, fmt.Errorf("read outcome slot: %w", err)
	}

	applied := false
	if models.ProviderState(state) == models.ProviderStatePending {
		newState := models.ProviderStateFailed
		var result any
		var errorCode, errorMessage sql.NullString
		if outcome.Succeeded() {
			newState = models.ProviderStateSucceeded
			result = []byte(outcome.Result)
		} else {
			errorCode = sql.NullString{String: outcome.Error.Code, Valid: true}
			errorMessage = sql.NullString{String: outcome.Error.Message, Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE provider_outcomes
			 SET state = $3, result = $4, error_code = $5, error_message = $6, reported_at = $7
			 WHERE query_id = $1 AND provider = $2 AND state = 'pending'`,
			uuid.UUID(queryID), string(provider),
			string(newState), result, errorCode, errorMessage, outcome.ReportedAt,
		)
		if err != nil {
			return nil, false, fmt.Errorf("apply outcome: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE screening_queries SET revision = revision + 1 WHERE id = $1`,
			uuid.UUID(queryID),
		)
		if err != nil {
			return nil, false, fmt.Errorf("bump revision: %w", err)
		}
		applied = true
	}

	snapshot, err := s.loadQuery(ctx, tx, queryID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit apply outcome: %w", err)
	}
	return snapshot, applied, nil
}

func (s *PostgresStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]PendingSlot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.query_id, o.provider, q.created_at
		 FROM provider_outcomes o
		 JOIN screening_queries q ON q.id = o.query_id
		 WHERE o.state = 'pending' AND q.created_at < $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending slots: %w", err)
	}
	defer rows.Close()

	var slots []PendingSlot
	for rows.Next() {
		var queryID uuid.UUID
		var provider string
		var createdAt time.Time
		if err := rows.Scan(&queryID, &provider, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending slot: %w", err)
		}
		slots = append(slots, PendingSlot{
			QueryID:   id.QueryID(queryID),
			Provider:  models.ProviderKind(provider),
			CreatedAt: createdAt,
		})
	}
	return slots, rows.Err()
}

// loadQuery reads the query and its slots inside the caller's transaction so
// the snapshot is consistent with any update the transaction just made.
func (s *PostgresStore) loadQuery(ctx context.Context, tx *sql.Tx, queryID id.QueryID) (*models.Query, error) {
	var subjectRaw []byte
	query := &models.Query{ID: queryID, Outcomes: make(map[models.ProviderKind]*models.ProviderOutcome)}

	err := tx.QueryRowContext(ctx,
		`SELECT subject, created_at, revision FROM screening_queries WHERE id = $1`,
		uuid.UUID(queryID),
	).Scan(&subjectRaw, &query.CreatedAt, &query.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query %s: %w", queryID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	if err := json.Unmarshal(subjectRaw, &query.Subject); err != nil {
		return nil, fmt.Errorf("unmarshal subject: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT provider, state, result, error_code, error_message, reported_at
		 FROM provider_outcomes WHERE query_id = $1 ORDER BY position`,
		uuid.UUID(queryID),
	)
	if err != nil {
		return nil, fmt.Errorf("read outcome slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var provider, state string
		var result []byte
		var errorCode, errorMessage sql.NullString
		var reportedAt sql.NullTime
		if err := rows.Scan(&provider, &state, &result, &errorCode, &errorMessage, &reportedAt); err != nil {
			return nil, fmt.Errorf("scan outcome slot: %w", err)
		}
		outcome := &models.ProviderOutcome{
			Provider: models.ProviderKind(provider),
			State:    models.ProviderState(state),
		}
		if result != nil {
			outcome.Result = json.RawMessage(result)
		}
		if errorCode.Valid || errorMessage.Valid {
			outcome.Error = &models.ProviderError{Code: errorCode.String, Message: errorMessage.String}
		}
		if reportedAt.Valid {
			ts := reportedAt.Time
			outcome.ReportedAt = &ts
		}
		query.EnabledProviders = append(query.EnabledProviders, outcome.Provider)
		query.Outcomes[outcome.Provider] = outcome
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome slots: %w", err)
	}
	return query, nil
}
