// SPDX-License-Identifier: MIT

package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisTransport is the Redis-backed Transport implementation.
type RedisTransport struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisTransport wraps an existing Redis client. The caller owns the
// client lifecycle.
func NewRedisTransport(client *redis.Client, logger zerolog.Logger) *RedisTransport {
	return &RedisTransport{client: client, logger: logger}
}

// Publish sends one payload to a channel. Transport errors are returned to
// the caller for per-channel failure accounting; they never panic.
func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("pubsub: publish to %q: %w", channel, err)
	}
	return nil
}

// Subscribe opens a multi-channel subscription and bridges it to a Message
// channel. The bridge goroutine exits when the subscription is closed or the
// context is cancelled.
func (t *RedisTransport) Subscribe(ctx context.Context, channels ...string) (Subscriber, error) {
	ps := t.client.Subscribe(ctx, channels...)

	// Force the SUBSCRIBE round-trip so connection failures surface here
	// rather than as a silent dead stream.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("pubsub: subscribe %v: %w", channels, err)
	}

	sub := &redisSub{ps: ps, out: make(chan Message, 64)}
	go sub.pump(ctx, t.logger)
	return sub, nil
}

type redisSub struct {
	ps  *redis.PubSub
	out chan Message
}

func (s *redisSub) pump(ctx context.Context, logger zerolog.Logger) {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *redisSub) C() <-chan Message {
	return s.out
}

func (s *redisSub) Close() error {
	return s.ps.Close()
}

var _ Transport = (*RedisTransport)(nil)
