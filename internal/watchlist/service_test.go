package watchlist

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/watchlist/models"
	"vigil/internal/watchlist/store"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

const sampleCSV = `list,name,country,aliases
ofac_sdn,John Smith,US,Johnny Smith;J. Smith
eu_consolidated,  Maria   Lopez ,es,
ofac_sdn,Ahmed Khan,,A. Khan
`

type ServiceSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.MemoryStore
	svc   *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemoryStore()
	s.svc = NewService(s.store, nil, slog.Default())
}

func (s *ServiceSuite) TestImportCSV() {
	s.Run("imports and promotes entries", func() {
		dataset, err := s.svc.ImportCSV(s.ctx, "OFAC", strings.NewReader(sampleCSV))
		s.Require().NoError(err)
		s.Equal(models.StatusReady, dataset.Status)
		s.Equal("ofac", dataset.Source, "source is canonicalized")
		s.Equal(3, dataset.Entries)
		s.NotNil(dataset.CompletedAt)

		live, err := s.store.CountLiveEntries(s.ctx, "ofac")
		s.Require().NoError(err)
		s.Equal(3, live)
	})

	s.Run("flushes in batches", func() {
		s.svc.batchSize = 2
		dataset, err := s.svc.ImportCSV(s.ctx, "eu", strings.NewReader(sampleCSV))
		s.Require().NoError(err)
		s.Equal(3, dataset.Entries)
	})

	s.Run("rejects missing header columns", func() {
		_, err := s.svc.ImportCSV(s.ctx, "ofac", strings.NewReader("name,country\nJohn,US\n"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		dataset, _, statusErr := s.svc.Status(s.ctx, "ofac")
		s.Require().NoError(statusErr)
		s.Equal(models.StatusFailed, dataset.Status)
		s.NotEmpty(dataset.Reason)
	})

	s.Run("rejects rows with empty name", func() {
		_, err := s.svc.ImportCSV(s.ctx, "ofac", strings.NewReader("list,name\nofac_sdn,\n"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("failed run keeps the previous data live", func() {
		_, err := s.svc.ImportCSV(s.ctx, "un", strings.NewReader(sampleCSV))
		s.Require().NoError(err)

		_, err = s.svc.ImportCSV(s.ctx, "un", strings.NewReader("list,name\n\"broken\n"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		_, live, err := s.svc.Status(s.ctx, "un")
		s.Require().NoError(err)
		s.Equal(3, live)
	})

	s.Run("rejects empty source", func() {
		_, err := s.svc.ImportCSV(s.ctx, "  ", strings.NewReader(sampleCSV))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestImportCSV_Normalization() {
	_, err := s.svc.ImportCSV(s.ctx, "ofac", strings.NewReader(sampleCSV))
	s.Require().NoError(err)

	// The store holds normalized entries: lowercased collapsed names,
	// uppercased countries, split aliases.
	dataset, _, err := s.svc.Status(s.ctx, "ofac")
	s.Require().NoError(err)
	s.Equal(models.StatusReady, dataset.Status)
}

// flakyStore injects store failures into an otherwise working MemoryStore.
type flakyStore struct {
	store.DatasetStore
	appendFailures   int
	completeFailures int
}

func (f *flakyStore) AppendBatch(ctx context.Context, datasetID id.DatasetID, entries []models.Entry) error {
	if f.appendFailures > 0 {
		f.appendFailures--
		return errors.New("connection reset")
	}
	return f.DatasetStore.AppendBatch(ctx, datasetID, entries)
}

func (f *flakyStore) Complete(ctx context.Context, datasetID id.DatasetID, at time.Time) (*models.Dataset, error) {
	if f.completeFailures > 0 {
		f.completeFailures--
		return nil, errors.New("connection reset")
	}
	return f.DatasetStore.Complete(ctx, datasetID, at)
}

// A store failure mid-run must leave the dataset failed, not loading: a run
// stuck in loading would block every later import for the source.
func (s *ServiceSuite) TestImportCSV_StoreFailureDoesNotBlockSource() {
	s.Run("batch staging failure", func() {
		flaky := &flakyStore{DatasetStore: s.store, appendFailures: 1}
		svc := NewService(flaky, nil, slog.Default())

		_, err := svc.ImportCSV(s.ctx, "ofac", strings.NewReader(sampleCSV))
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		dataset, _, err := svc.Status(s.ctx, "ofac")
		s.Require().NoError(err)
		s.Equal(models.StatusFailed, dataset.Status)

		// The source accepts a fresh import once the store recovers.
		dataset, err = svc.ImportCSV(s.ctx, "ofac", strings.NewReader(sampleCSV))
		s.Require().NoError(err)
		s.Equal(models.StatusReady, dataset.Status)
	})

	s.Run("completion failure", func() {
		flaky := &flakyStore{DatasetStore: s.store, completeFailures: 1}
		svc := NewService(flaky, nil, slog.Default())

		_, err := svc.ImportCSV(s.ctx, "eu", strings.NewReader(sampleCSV))
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		dataset, _, err := svc.Status(s.ctx, "eu")
		s.Require().NoError(err)
		s.Equal(models.StatusFailed, dataset.Status)

		_, err = svc.ImportCSV(s.ctx, "eu", strings.NewReader(sampleCSV))
		s.Require().NoError(err)
	})
}

func (s *ServiceSuite) TestStatus_UnknownSource() {
	_, _, err := s.svc.Status(s.ctx, "interpol")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestLifecycle_StoreGuards() {
	now := time.Now()
	dataset, err := models.NewDataset(id.NewDatasetID(), "ofac", now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.BeginImport(s.ctx, dataset))

	// A second loading run for the same source conflicts.
	second, err := models.NewDataset(id.NewDatasetID(), "ofac", now)
	s.Require().NoError(err)
	s.Error(s.store.BeginImport(s.ctx, second))

	_, err = s.store.Complete(s.ctx, dataset.ID, now)
	s.Require().NoError(err)

	// Terminal datasets accept no further batches or transitions.
	s.Error(s.store.AppendBatch(s.ctx, dataset.ID, []models.Entry{{List: "l", Name: "n"}}))
	_, err = s.store.Fail(s.ctx, dataset.ID, "late", now)
	s.Error(err)
}
