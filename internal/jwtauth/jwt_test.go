package jwtauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "vigil/pkg/domain-errors"
)

func TestService_RoundTrip(t *testing.T) {
	svc := NewService("secret", "vigil")

	token, err := svc.GenerateToken("ops@example.com", "demo-client", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, "demo-client", claims.ClientID)
}

func TestService_RejectsExpired(t *testing.T) {
	svc := NewService("secret", "vigil")

	token, err := svc.GenerateToken("ops@example.com", "demo-client", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestService_RejectsWrongKeyAndIssuer(t *testing.T) {
	svc := NewService("secret", "vigil")
	other := NewService("other-secret", "vigil")
	foreign := NewService("secret", "someone-else")

	token, err := other.GenerateToken("ops@example.com", "demo-client", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	token, err = foreign.GenerateToken("ops@example.com", "demo-client", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
