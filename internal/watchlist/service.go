// Package watchlist implements bulk ingestion of watchlist source data: a
// linear truncate, batch, complete-or-fail pipeline feeding the data the
// structured-list provider screens against.
package watchlist

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"vigil/internal/watchlist/models"
	"vigil/internal/watchlist/store"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/platform/sentinel"
)

const defaultBatchSize = 500

// Service drives dataset imports. Imports are sequential per source; the
// store rejects a second concurrent run.
type Service struct {
	store     store.DatasetStore
	emitter   audit.Emitter
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

func NewService(datasets store.DatasetStore, emitter audit.Emitter, logger *slog.Logger) *Service {
	return &Service{
		store:     datasets,
		emitter:   emitter,
		logger:    logger,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
}

// ImportCSV ingests one CSV document for source. Expected header columns are
// list, name and optionally country and aliases (aliases separated by
// semicolons). On any malformed row the whole run fails and the staged
// entries are discarded; the previously completed data stays live.
func (s *Service) ImportCSV(ctx context.Context, source string, r io.Reader) (*models.Dataset, error) {
	dataset, err := models.NewDataset(id.NewDatasetID(), source, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.store.BeginImport(ctx, dataset); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(dErrors.CodeConflict, "an import for this source is already running", err)
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "begin watchlist import", err)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, s.fail(ctx, dataset, "missing or unreadable CSV header")
	}
	columns, err := mapColumns(header)
	if err != nil {
		return nil, s.fail(ctx, dataset, err.Error())
	}

	batch := make([]models.Entry, 0, s.batchSize)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, s.fail(ctx, dataset, fmt.Sprintf("malformed CSV at line %d", line))
		}
		entry, err := columns.entry(record)
		if err != nil {
			return nil, s.fail(ctx, dataset, fmt.Sprintf("line %d: %s", line, err))
		}
		batch = append(batch, entry.Normalize())
		if len(batch) >= s.batchSize {
			if err := s.append(ctx, dataset, batch); err != nil {
				return nil, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.append(ctx, dataset, batch); err != nil {
			return nil, err
		}
	}

	completed, err := s.store.Complete(ctx, dataset.ID, s.now().UTC())
	if err != nil {
		s.markFailed(ctx, dataset, "storage error while completing import")
		return nil, dErrors.Wrap(dErrors.CodeInternal, "complete watchlist import", err)
	}
	s.emit(ctx, audit.Event{
		Category:  audit.CategoryOperations,
		Action:    audit.ActionDatasetImported,
		DatasetID: completed.ID.String(),
		Status:    string(completed.Status),
	})
	s.logger.Info("watchlist import completed",
		"dataset_id", completed.ID.String(),
		"source", completed.Source,
		"entries", completed.Entries,
	)
	return completed, nil
}

// Status returns the latest import run for a source together with the number
// of entries currently live.
func (s *Service) Status(ctx context.Context, source string) (*models.Dataset, int, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	dataset, err := s.store.LatestDataset(ctx, source)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, 0, dErrors.Wrap(dErrors.CodeNotFound, "no imports for this source", err)
		}
		return nil, 0, dErrors.Wrap(dErrors.CodeInternal, "load latest dataset", err)
	}
	live, err := s.store.CountLiveEntries(ctx, source)
	if err != nil {
		return nil, 0, dErrors.Wrap(dErrors.CodeInternal, "count live entries", err)
	}
	return dataset, live, nil
}

// append stages one batch. A store failure marks the run failed so the
// source is not left with a loading run blocking every future import.
func (s *Service) append(ctx context.Context, dataset *models.Dataset, batch []models.Entry) error {
	if err := s.store.AppendBatch(ctx, dataset.ID, batch); err != nil {
		s.markFailed(ctx, dataset, "storage error while staging entries")
		return dErrors.Wrap(dErrors.CodeInternal, "stage watchlist batch", err)
	}
	return nil
}

// fail marks the run failed and returns the invalid-input error for the
// caller. The previously live data is untouched.
func (s *Service) fail(ctx context.Context, dataset *models.Dataset, reason string) error {
	s.markFailed(ctx, dataset, reason)
	return dErrors.New(dErrors.CodeInvalidInput, reason)
}

// markFailed transitions the run to its terminal failed state, whatever the
// cause. Every abort path must come through here: a run left in loading
// would make the store reject all future imports for the source.
func (s *Service) markFailed(ctx context.Context, dataset *models.Dataset, reason string) {
	if _, err := s.store.Fail(ctx, dataset.ID, reason, s.now().UTC()); err != nil {
		s.logger.Error("failed to mark dataset failed",
			"dataset_id", dataset.ID.String(),
			"error", err,
		)
	}
	s.emit(ctx, audit.Event{
		Category:  audit.CategoryOperations,
		Action:    audit.ActionDatasetFailed,
		DatasetID: dataset.ID.String(),
		Reason:    reason,
	})
	s.logger.Warn("watchlist import failed",
		"dataset_id", dataset.ID.String(),
		"source", dataset.Source,
		"reason", reason,
	)
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed", "action", string(event.Action), "error", err)
	}
}

// columnMap resolves header names to record indexes once per document.
type columnMap struct {
	list    int
	name    int
	country int
	aliases int
}

func mapColumns(header []string) (columnMap, error) {
	cols := columnMap{list: -1, name: -1, country: -1, aliases: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "list":
			cols.list = i
		case "name":
			cols.name = i
		case "country":
			cols.country = i
		case "aliases":
			cols.aliases = i
		}
	}
	if cols.list < 0 || cols.name < 0 {
		return cols, errors.New("CSV header must contain list and name columns")
	}
	return cols, nil
}

func (c columnMap) entry(record []string) (models.Entry, error) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return record[i]
	}
	entry := models.Entry{
		List:    field(c.list),
		Name:    field(c.name),
		Country: field(c.country),
	}
	if strings.TrimSpace(entry.List) == "" || strings.TrimSpace(entry.Name) == "" {
		return models.Entry{}, errors.New("list and name cannot be empty")
	}
	if aliases := field(c.aliases); aliases != "" {
		for _, alias := range strings.Split(aliases, ";") {
			if a := strings.TrimSpace(alias); a != "" {
				entry.Aliases = append(entry.Aliases, a)
			}
		}
	}
	return entry, nil
}
