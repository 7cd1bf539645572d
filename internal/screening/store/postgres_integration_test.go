//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/screening/models"
	"vigil/internal/screening/store"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "provider_outcomes", "screening_queries")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newQuery(createdAt time.Time, providers ...models.ProviderKind) *models.Query {
	if len(providers) == 0 {
		providers = models.AllProviderKinds()
	}
	q, err := models.NewQuery(id.NewQueryID(), models.Subject{
		FullName:  "Jane Doe",
		BirthDate: "1980-01-02",
		Country:   "GB",
		Aliases:   []string{"J. Doe"},
	}, providers, createdAt)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), q))
	return q
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	q := s.newQuery(time.Now().UTC())

	found, err := s.store.FindByID(ctx, q.ID)
	s.Require().NoError(err)
	s.Equal(q.ID, found.ID)
	s.Equal(q.Subject, found.Subject)
	s.Equal(q.EnabledProviders, found.EnabledProviders)
	s.Equal(models.StatusPending, found.Status())
}

func (s *PostgresStoreSuite) TestFindUnknownIsNotFound() {
	_, err := s.store.FindByID(context.Background(), id.NewQueryID())
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestApplyOutcomeIdempotent() {
	ctx := context.Background()
	q := s.newQuery(time.Now().UTC(), models.ProviderPEP)

	first, applied, err := s.store.ApplyOutcome(ctx, q.ID, models.ProviderPEP,
		models.Outcome{Result: json.RawMessage(`{"risk":"low"}`), ReportedAt: time.Now().UTC()})
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(models.StatusComplete, first.Status())
	s.Equal(uint64(1), first.Revision)

	second, applied, err := s.store.ApplyOutcome(ctx, q.ID, models.ProviderPEP,
		models.Outcome{Result: json.RawMessage(`{"risk":"high"}`), ReportedAt: time.Now().UTC()})
	s.Require().NoError(err)
	s.False(applied)
	s.JSONEq(`{"risk":"low"}`, string(second.Outcomes[models.ProviderPEP].Result))
	s.Equal(uint64(1), second.Revision)
}

func (s *PostgresStoreSuite) TestApplyOutcomeUnknownProvider() {
	ctx := context.Background()
	q := s.newQuery(time.Now().UTC(), models.ProviderPEP)

	_, _, err := s.store.ApplyOutcome(ctx, q.ID, models.ProviderAdverseMedia,
		models.Outcome{Result: json.RawMessage(`{}`), ReportedAt: time.Now().UTC()})
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

// Concurrent callbacks for all providers of one query must serialize on the
// query row and each apply exactly once.
func (s *PostgresStoreSuite) TestApplyOutcomeConcurrent() {
	ctx := context.Background()
	q := s.newQuery(time.Now().UTC())

	var wg sync.WaitGroup
	results := make(chan bool, len(models.AllProviderKinds())*3)
	for _, kind := range models.AllProviderKinds() {
		kind := kind
		for n := 0; n < 3; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, applied, err := s.store.ApplyOutcome(ctx, q.ID, kind,
					models.Outcome{Result: json.RawMessage(`{"ok":true}`), ReportedAt: time.Now().UTC()})
				s.NoError(err)
				results <- applied
			}()
		}
	}
	wg.Wait()
	close(results)

	applied := 0
	for ok := range results {
		if ok {
			applied++
		}
	}
	s.Equal(len(models.AllProviderKinds()), applied)

	final, err := s.store.FindByID(ctx, q.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusComplete, final.Status())
	s.Equal(uint64(len(models.AllProviderKinds())), final.Revision)
}

func (s *PostgresStoreSuite) TestListPendingOlderThan() {
	ctx := context.Background()
	old := s.newQuery(time.Now().UTC().Add(-10 * time.Minute))
	s.newQuery(time.Now().UTC())

	_, applied, err := s.store.ApplyOutcome(ctx, old.ID, models.ProviderPEP,
		models.Outcome{Result: json.RawMessage(`{}`), ReportedAt: time.Now().UTC()})
	s.Require().NoError(err)
	s.True(applied)

	slots, err := s.store.ListPendingOlderThan(ctx, time.Now().UTC().Add(-5*time.Minute))
	s.Require().NoError(err)
	s.Len(slots, 2)
	for _, slot := range slots {
		s.Equal(old.ID, slot.QueryID)
	}
}
