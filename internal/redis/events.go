package redis

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"carpool/internal/notify"
)

// EventChannel is the pub/sub channel shared by every server instance.
const EventChannel = "carpool:events"

// EventBus fans notification envelopes out to every instance over Redis
// pub/sub, so a user connected to any instance receives their events.
type EventBus struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

// NewEventBus creates a new EventBus on EventChannel.
func NewEventBus(client *redis.Client, log zerolog.Logger) *EventBus {
	return &EventBus{
		client:  client,
		channel: EventChannel,
		log:     log.With().Str("component", "event_bus").Logger(),
	}
}

// Publish sends an envelope to all subscribed instances.
func (b *EventBus) Publish(ctx context.Context, env notify.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe hands every envelope received on the channel to deliver until
// ctx is cancelled. Malformed messages are logged and skipped.
func (b *EventBus) Subscribe(ctx context.Context, deliver func(notify.Envelope)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.log.Info().Str("channel", b.channel).Msg("event_bus_subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env notify.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn().Err(err).Msg("event_bus_decode_failed")
				continue
			}
			deliver(env)
		}
	}
}
