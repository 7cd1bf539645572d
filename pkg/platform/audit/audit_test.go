package audit_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/pkg/platform/audit"
	"vigil/pkg/platform/audit/store/memory"
	"vigil/pkg/platform/audit/worker"
)

func TestPublisherWorker_DeliversToStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	publisher := audit.NewPublisher(8, slog.Default())
	w := worker.New(store, publisher.Inbox(), slog.Default())
	go func() { _ = w.Run(ctx) }()

	err := publisher.Emit(ctx, audit.Event{
		Category: audit.CategoryCompliance,
		Action:   audit.ActionQueryDispatched,
		QueryID:  "q-1",
	})
	require.NoError(t, err)
	err = publisher.Emit(ctx, audit.Event{
		Category: audit.CategoryCompliance,
		Action:   audit.ActionProviderReported,
		QueryID:  "q-1",
		Provider: "pep_ai",
		Status:   "succeeded",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return store.Len() == 2 }, time.Second, 10*time.Millisecond)

	events, err := store.ListByQuery(ctx, "q-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionQueryDispatched, events[0].Action)
	assert.Equal(t, audit.ActionProviderReported, events[1].Action)
	assert.False(t, events[0].Timestamp.IsZero(), "publisher should stamp events")
}

func TestPublisher_DropsWhenFull(t *testing.T) {
	publisher := audit.NewPublisher(1, slog.Default())

	// No worker draining: the second emit overflows the buffer but must
	// not block or error.
	require.NoError(t, publisher.Emit(context.Background(), audit.Event{Action: audit.ActionQueryDispatched}))
	done := make(chan struct{})
	go func() {
		_ = publisher.Emit(context.Background(), audit.Event{Action: audit.ActionQueryCompleted})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
}
