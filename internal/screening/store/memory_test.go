package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/screening/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) newQuery(providers ...models.ProviderKind) *models.Query {
	if len(providers) == 0 {
		providers = models.AllProviderKinds()
	}
	q, err := models.NewQuery(id.NewQueryID(), models.Subject{FullName: "Jane Doe"}, providers, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, q))
	return q
}

func success(payload string) models.Outcome {
	return models.Outcome{Result: json.RawMessage(payload), ReportedAt: time.Now()}
}

func failure(code, msg string) models.Outcome {
	return models.Outcome{Error: &models.ProviderError{Code: code, Message: msg}, ReportedAt: time.Now()}
}

func (s *MemoryStoreSuite) TestCreate() {
	s.Run("round trips query with pending slots", func() {
		q := s.newQuery()

		found, err := s.store.FindByID(s.ctx, q.ID)
		s.Require().NoError(err)
		s.Equal(q.ID, found.ID)
		s.Equal(models.StatusPending, found.Status())
		s.Len(found.Outcomes, len(models.AllProviderKinds()))
	})

	s.Run("rejects duplicate query id", func() {
		q := s.newQuery()
		err := s.store.Create(s.ctx, q)
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrConflict))
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(s.ctx, id.NewQueryID())
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})
}

func (s *MemoryStoreSuite) TestApplyOutcome() {
	s.Run("applies success transition once", func() {
		q := s.newQuery()

		snapshot, applied, err := s.store.ApplyOutcome(s.ctx, q.ID, models.ProviderPEP, success(`{"matches":[]}`))
		s.Require().NoError(err)
		s.True(applied)
		s.Equal(models.StatusPartial, snapshot.Status())
		s.Equal(models.ProviderStateSucceeded, snapshot.Outcomes[models.ProviderPEP].State)
		s.NotNil(snapshot.Outcomes[models.ProviderPEP].ReportedAt)
		s.Equal(uint64(1), snapshot.Revision)
	})

	s.Run("duplicate delivery is absorbed", func() {
		q := s.newQuery(models.ProviderPEP)

		first, applied, err := s.store.ApplyOutcome(s.ctx, q.ID, models.ProviderPEP, success(`{"risk":"low"}`))
		s.Require().NoError(err)
		s.True(applied)

		second, applied, err := s.store.ApplyOutcome(s.ctx, q.ID, models.ProviderPEP, success(`{"risk":"high"}`))
		s.Require().NoError(err)
		s.False(applied)
		// The slot keeps the first payload; a late retry never overwrites.
		s.JSONEq(`{"risk":"low"}`, string(second.Outcomes[models.ProviderPEP].Result))
		s.Equal(first.Revision, second.Revision)
	})

	s.Run("late success after forced failure is ignored", func() {
		q := s.newQuery(models.ProviderStructuredList)

		_, applied, err := s.store.ApplyOutcome(s.ctx, q.ID, models.ProviderStructuredList,
			failure(models.ErrorCodeTimeout, "provider did not report in time"))
		s.Require().NoError(err)
		s.True(applied)

		snapshot, applied, err := s.store.ApplyOutcome(s.ctx, q.ID, models.ProviderStructuredList, success(`{}`))
		s.Require().NoError(err)
		s.False(applied)
		s.Equal(models.ProviderStateFailed, snapshot.Outcomes[models.ProviderStructuredList].State)
	})

	s.Run("unknown query is not found", func() {
		_, _, err := s.store.ApplyOutcome(s.ctx, id.NewQueryID(), models.ProviderPEP, success(`{}`))
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("provider not enabled is not found", func() {
		q := s.newQuery(models.ProviderPEP)
		_, _, err := s.store.ApplyOutcome(s.ctx, q.ID, models.ProviderAdverseMedia, success(`{}`))
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})
}

// Concurrent callbacks for different providers of one query must each apply
// exactly once and converge on a consistent terminal status.
func (s *MemoryStoreSuite) TestApplyOutcome_Concurrent() {
	q := s.newQuery()

	var wg sync.WaitGroup
	appliedCount := make(chan bool, len(models.AllProviderKinds())*4)
	for _, kind := range models.AllProviderKinds() {
		kind := kind
		for n := 0; n < 4; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, applied, err := s.store.ApplyOutcome(s.ctx, q.ID, kind, success(`{"ok":true}`))
				s.NoError(err)
				appliedCount <- applied
			}()
		}
	}
	wg.Wait()
	close(appliedCount)

	applied := 0
	for ok := range appliedCount {
		if ok {
			applied++
		}
	}
	s.Equal(len(models.AllProviderKinds()), applied)

	final, err := s.store.FindByID(s.ctx, q.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusComplete, final.Status())
	s.Equal(uint64(len(models.AllProviderKinds())), final.Revision)
}

func (s *MemoryStoreSuite) TestListPendingOlderThan() {
	old, err := models.NewQuery(id.NewQueryID(), models.Subject{FullName: "Old Subject"},
		models.AllProviderKinds(), time.Now().Add(-10*time.Minute))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, old))

	// A fresh query should not be reaped.
	s.newQuery()

	_, applied, err := s.store.ApplyOutcome(s.ctx, old.ID, models.ProviderPEP, success(`{}`))
	s.Require().NoError(err)
	s.True(applied)

	slots, err := s.store.ListPendingOlderThan(s.ctx, time.Now().Add(-5*time.Minute))
	s.Require().NoError(err)
	s.Len(slots, 2)
	for _, slot := range slots {
		s.Equal(old.ID, slot.QueryID)
		s.NotEqual(models.ProviderPEP, slot.Provider)
	}
}
