package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	p := ProviderStatePending
	s := ProviderStateSucceeded
	f := ProviderStateFailed

	tests := []struct {
		name   string
		states []ProviderState
		want   QueryStatus
	}{
		{"all pending", []ProviderState{p, p, p}, StatusPending},
		{"single pending", []ProviderState{p}, StatusPending},
		{"one succeeded rest pending", []ProviderState{s, p, p}, StatusPartial},
		{"one failed rest pending", []ProviderState{f, p}, StatusPartial},
		{"mixed terminal with pending", []ProviderState{s, f, p}, StatusPartial},
		{"all succeeded", []ProviderState{s, s, s}, StatusComplete},
		{"single succeeded", []ProviderState{s}, StatusComplete},
		{"some failed some succeeded", []ProviderState{s, f}, StatusCompletedWithErrors},
		{"all failed", []ProviderState{f, f}, StatusFailed},
		{"single failed", []ProviderState{f}, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.states))
		})
	}
}

// The policy must be order-independent: any permutation of the same
// multiset of states derives the same status.
func TestDeriveStatus_OrderIndependent(t *testing.T) {
	states := []ProviderState{ProviderStateSucceeded, ProviderStateFailed, ProviderStatePending}
	want := DeriveStatus(states)

	permutations := [][]ProviderState{
		{states[0], states[2], states[1]},
		{states[1], states[0], states[2]},
		{states[1], states[2], states[0]},
		{states[2], states[0], states[1]},
		{states[2], states[1], states[0]},
	}
	for _, perm := range permutations {
		assert.Equal(t, want, DeriveStatus(perm))
	}
}

func TestQueryStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusPartial.Terminal())
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusCompletedWithErrors.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
