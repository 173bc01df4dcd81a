/*
Package chat contains the support-chat message broker: WebSocket connections, their
destination subscriptions, and the routing of participant messages and operator replies.

This file defines the Backplane, which carries routed events between broker instances:
in-process for a single server, or through Redis pub/sub when several servers share
destinations.
*/
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/wire"
)

// RedisChannel is the pub/sub channel shared by every broker instance.
const RedisChannel = "supportchat:events"

// Envelope is one event addressed to one destination, as carried between instances.
type Envelope struct {
	Destination string         `json:"destination"`
	Event       wire.ChatEvent `json:"event"`
}

// Backplane moves envelopes from the instance that accepted a SEND to every instance
// with local subscribers.
type Backplane interface {
	// Publish hands an envelope to the backplane.
	Publish(ctx context.Context, env Envelope) error

	// Start begins delivering envelopes, including this instance's own, to deliver.
	Start(ctx context.Context, deliver func(Envelope)) error

	// Close stops delivery.
	Close() error
}

// LocalBackplane delivers in-process. It serves single-instance deployments.
type LocalBackplane struct {
	mu      sync.RWMutex
	deliver func(Envelope)
}

// NewLocalBackplane returns an in-process backplane.
func NewLocalBackplane() *LocalBackplane {
	return &LocalBackplane{}
}

// Publish implements Backplane. Envelopes published before Start are dropped.
func (b *LocalBackplane) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()

	if deliver != nil {
		deliver(env)
	}
	return nil
}

// Start implements Backplane.
func (b *LocalBackplane) Start(_ context.Context, deliver func(Envelope)) error {
	b.mu.Lock()
	b.deliver = deliver
	b.mu.Unlock()
	return nil
}

// Close implements Backplane.
func (b *LocalBackplane) Close() error {
	b.mu.Lock()
	b.deliver = nil
	b.mu.Unlock()
	return nil
}

// RedisBackplane fans envelopes out through Redis pub/sub so several broker instances
// share destinations.
type RedisBackplane struct {
	rdb     *redis.Client
	channel string
	pubsub  *redis.PubSub
	done    chan struct{}
	logger  zerolog.Logger
}

// NewRedisBackplane connects to the Redis server at redisURL (redis:// or rediss://).
func NewRedisBackplane(ctx context.Context, redisURL string) (*RedisBackplane, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return newRedisBackplane(rdb, RedisChannel), nil
}

func newRedisBackplane(rdb *redis.Client, channel string) *RedisBackplane {
	return &RedisBackplane{
		rdb:     rdb,
		channel: channel,
		done:    make(chan struct{}),
		logger:  logx.Component("backplane").With().Str("channel", channel).Logger(),
	}
}

// Publish implements Backplane.
func (b *RedisBackplane) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Start implements Backplane. It returns once the subscription is confirmed.
func (b *RedisBackplane) Start(ctx context.Context, deliver func(Envelope)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to redis channel: %w", err)
	}
	b.pubsub = pubsub

	go func() {
		defer close(b.done)

		for msg := range pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn().Err(err).Msg("Dropping undecodable envelope.")
				continue
			}
			deliver(env)
		}
		b.logger.Info().Msg("Redis subscription closed.")
	}()

	b.logger.Info().Msg("Redis backplane started.")
	return nil
}

// Close implements Backplane.
func (b *RedisBackplane) Close() error {
	if b.pubsub != nil {
		if err := b.pubsub.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("Error closing redis subscription.")
		}
		<-b.done
	}
	return b.rdb.Close()
}
