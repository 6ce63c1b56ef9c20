package channel

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/models"
)

// DefaultRedisChannel is the pub/sub channel status updates are published on.
const DefaultRedisChannel = "file-status"

// Redis subscribes to a pub/sub channel carrying JSON status updates.
type Redis struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger

	pump
}

// NewRedis creates a Redis channel on top of an existing client.
func NewRedis(client *redis.Client, channel string, log zerolog.Logger) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{
		client:  client,
		channel: channel,
		log:     log.With().Str("component", "channel").Str("kind", "redis").Logger(),
	}
}

// Connect subscribes and waits for the subscription to be confirmed.
func (r *Redis) Connect(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return errors.Errorf("subscribing to %s: %w", r.channel, err)
	}

	err := r.start(ctx, func(ctx context.Context, out chan<- models.StatusUpdate) {
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				u, ok := DecodeUpdate([]byte(msg.Payload))
				if !ok {
					r.log.Debug().Str("payload", msg.Payload).Msg("ignoring message")
					continue
				}
				if !send(ctx, out, u) {
					return
				}
			}
		}
	})
	if err != nil {
		pubsub.Close()
		return err
	}

	r.log.Info().Str("channel", r.channel).Msg("subscribed")
	return nil
}

// Disconnect unsubscribes.
func (r *Redis) Disconnect() error {
	r.stop()
	return nil
}

// Updates returns the stream of the current subscription.
func (r *Redis) Updates() <-chan models.StatusUpdate {
	return r.stream()
}

// Publish sends an update on the channel.
func (r *Redis) Publish(ctx context.Context, u models.StatusUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return errors.Errorf("encoding update: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return errors.Errorf("publishing to %s: %w", r.channel, err)
	}
	return nil
}
