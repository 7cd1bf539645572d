package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

func TestNewQuery(t *testing.T) {
	now := time.Now()
	subject := Subject{FullName: "Jane Doe", BirthDate: "1980-01-02", Country: "gb"}

	t.Run("creates pending slot per provider", func(t *testing.T) {
		q, err := NewQuery(id.NewQueryID(), subject, AllProviderKinds(), now)
		require.NoError(t, err)

		assert.Len(t, q.Outcomes, 3)
		assert.Equal(t, StatusPending, q.Status())
		for _, kind := range AllProviderKinds() {
			outcome := q.Outcomes[kind]
			require.NotNil(t, outcome)
			assert.Equal(t, ProviderStatePending, outcome.State)
			assert.Nil(t, outcome.ReportedAt)
		}
	})

	t.Run("normalizes subject", func(t *testing.T) {
		q, err := NewQuery(id.NewQueryID(), Subject{
			FullName: "  Jane   DOE ",
			Country:  "gb",
			Aliases:  []string{"J. Doe", "j.  doe", ""},
		}, []ProviderKind{ProviderStructuredList}, now)
		require.NoError(t, err)

		assert.Equal(t, "jane doe", q.Subject.FullName)
		assert.Equal(t, "GB", q.Subject.Country)
		assert.Equal(t, []string{"j. doe"}, q.Subject.Aliases)
	})

	t.Run("rejects empty subject name", func(t *testing.T) {
		_, err := NewQuery(id.NewQueryID(), Subject{FullName: "   "}, AllProviderKinds(), now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects empty provider set", func(t *testing.T) {
		_, err := NewQuery(id.NewQueryID(), subject, nil, now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects duplicate providers", func(t *testing.T) {
		_, err := NewQuery(id.NewQueryID(), subject, []ProviderKind{ProviderPEP, ProviderPEP}, now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestSubjectFingerprint(t *testing.T) {
	t.Run("stable across formatting differences", func(t *testing.T) {
		a := Subject{FullName: "Jane  Doe", Country: "gb", Aliases: []string{"J. Doe"}}
		b := Subject{FullName: "jane doe", Country: "GB", Aliases: []string{"j. doe", "J.  Doe"}}
		assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	})

	t.Run("distinguishes field boundaries", func(t *testing.T) {
		a := Subject{FullName: "jane", BirthDate: "doe"}
		b := Subject{FullName: "jane doe"}
		assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	})
}

func TestQueryClone(t *testing.T) {
	q, err := NewQuery(id.NewQueryID(), Subject{FullName: "Jane Doe"}, AllProviderKinds(), time.Now())
	require.NoError(t, err)

	cp := q.Clone()
	cp.Outcomes[ProviderPEP].State = ProviderStateSucceeded
	cp.EnabledProviders[0] = ProviderPEP

	assert.Equal(t, ProviderStatePending, q.Outcomes[ProviderPEP].State)
	assert.Equal(t, ProviderStructuredList, q.EnabledProviders[0])
}
