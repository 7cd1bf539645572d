package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(4, 20*time.Millisecond, nil)
}

func TestHub_PublishDeliversToMatchingSubscribers(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()

	scoped := hub.Subscribe("query-1")
	other := hub.Subscribe("query-2")
	all := hub.Subscribe("")

	result := hub.Publish(ctx, Event{Type: "screening.update", Query: "query-1", Payload: "a"})
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 0, result.Pruned)

	select {
	case ev := <-scoped.Events:
		assert.Equal(t, "screening.update", ev.Type)
	default:
		t.Fatal("scoped subscriber did not receive event")
	}
	select {
	case <-other.Events:
		t.Fatal("subscriber for another query received event")
	default:
	}
	select {
	case ev := <-all.Events:
		assert.Equal(t, "query-1", ev.Query)
	default:
		t.Fatal("unscoped subscriber did not receive event")
	}
}

// A permanently stuck subscriber must not stop delivery to the healthy
// ones, publish must still complete, and the stuck one must be removed.
func TestHub_FanOutIsolation(t *testing.T) {
	hub := NewHub(1, 10*time.Millisecond, nil)
	ctx := context.Background()

	healthy := make([]*Subscription, 0, 2)
	for n := 0; n < 2; n++ {
		healthy = append(healthy, hub.Subscribe(""))
	}
	stuck := hub.Subscribe("")
	// Fill the stuck subscriber's buffer so the next publish times out on it.
	hub.Publish(ctx, Event{Type: "fill", Payload: 0})
	for _, sub := range healthy {
		<-sub.Events
	}

	start := time.Now()
	result := hub.Publish(ctx, Event{Type: "screening.update", Payload: 1})
	assert.Less(t, time.Since(start), 5*time.Second, "publish must complete in bounded time")

	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 1, result.Pruned)
	assert.Equal(t, 2, hub.Len())

	for _, sub := range healthy {
		select {
		case ev := <-sub.Events:
			assert.Equal(t, "screening.update", ev.Type)
		case <-time.After(time.Second):
			t.Fatal("healthy subscriber did not receive event")
		}
	}

	// The pruned subscriber's channel is closed after draining the fill event.
	<-stuck.Events
	_, open := <-stuck.Events
	assert.False(t, open, "pruned subscriber channel should be closed")
}

// A publisher whose request context dies mid-publish must not take a
// merely-full subscriber with it; only the grace timeout proves death.
func TestHub_CanceledPublisherDoesNotPruneFullSubscriber(t *testing.T) {
	hub := NewHub(1, time.Minute, nil)

	full := hub.Subscribe("")
	hub.Publish(context.Background(), Event{Type: "fill", Payload: 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := hub.Publish(ctx, Event{Type: "screening.update", Payload: 1})

	assert.Equal(t, 0, result.Delivered)
	assert.Equal(t, 0, result.Pruned)
	assert.Equal(t, 1, hub.Len(), "full subscriber must survive the canceled publish")

	// The subscriber drains and keeps receiving later events.
	<-full.Events
	result = hub.Publish(context.Background(), Event{Type: "screening.update", Payload: 2})
	assert.Equal(t, 1, result.Delivered)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()

	sub := hub.Subscribe("")
	require.Equal(t, 1, hub.Len())

	hub.Unsubscribe(sub.ID)
	assert.Equal(t, 0, hub.Len())
	_, open := <-sub.Events
	assert.False(t, open)

	// Double unsubscribe is a no-op.
	hub.Unsubscribe(sub.ID)

	result := hub.Publish(ctx, Event{Type: "screening.update", Payload: "x"})
	assert.Equal(t, 0, result.Delivered)
}

// Concurrent publishes, subscribes and unsubscribes must not race or panic.
func TestHub_ConcurrentChurn(t *testing.T) {
	hub := NewHub(2, 5*time.Millisecond, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				hub.Publish(ctx, Event{Type: "screening.update", Payload: fmt.Sprintf("%d-%d", i, j)})
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				sub := hub.Subscribe("")
				hub.Unsubscribe(sub.ID)
			}
		}()
	}
	wg.Wait()
}
