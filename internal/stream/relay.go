package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Relay bridges hubs across instances through Redis Pub/Sub. Each instance
// mirrors its local publishes to a shared channel and re-publishes foreign
// events into its own hub, so a subscriber connected to any instance sees
// every query's events.
//
// Delivery through the relay stays at-least-once: a crashed instance drops
// whatever was in flight, which is the documented reconnect contract for
// subscribers.
type Relay struct {
	hub      *Hub
	client   *redis.Client
	channel  string
	instance string
	logger   *slog.Logger
}

// NewRelay creates a relay identified by instance. Events originating from
// this instance are skipped when they come back over the channel.
func NewRelay(hub *Hub, client *redis.Client, channel, instance string, logger *slog.Logger) *Relay {
	return &Relay{
		hub:      hub,
		client:   client,
		channel:  channel,
		instance: instance,
		logger:   logger,
	}
}

// Broadcast mirrors a locally published event to the shared channel.
func (r *Relay) Broadcast(ctx context.Context, event Event) error {
	event.Origin = r.instance
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal relay event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish relay event: %w", err)
	}
	return nil
}

// Run consumes the shared channel until ctx is canceled, re-publishing
// foreign events into the local hub. Malformed messages are logged and
// skipped; they must not take the relay down.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay subscription closed")
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("dropping malformed relay event", "error", err)
				continue
			}
			if event.Origin == r.instance {
				continue
			}
			r.hub.Publish(ctx, event)
		}
	}
}
