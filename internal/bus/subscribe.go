// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/closingdesk/txstream/internal/event"
	"github.com/closingdesk/txstream/internal/metrics"
	"github.com/closingdesk/txstream/internal/pubsub"
	"github.com/closingdesk/txstream/internal/registry"
)

// Stream is one subscriber's view of the bus: the replay-window backlog
// followed by live events, filtered by visibility, on a bounded queue. A slow
// consumer loses its oldest undelivered events instead of stalling publishers
// or other subscribers.
type Stream struct {
	bus      *Bus
	clientID string
	out      chan event.Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// Subscribe registers the client, immediately queues the replay-window
// backlog for its transactions (in publish order, transaction by
// transaction), then bridges to the live channel subscriptions. The stream
// ends when the caller invokes Close, the bus shuts down, or the transport
// subscription fails unrecoverably; ending unregisters the client unless a
// newer stream for the same client ID has taken over the registration.
func (b *Bus) Subscribe(ctx context.Context, clientID string, txIDs []string, userType registry.UserType, userID string) (*Stream, error) {
	// A reconnect with the same client ID supersedes the previous stream.
	if old := b.takeStream(clientID); old != nil {
		old.Close()
	}

	channels, err := b.registry.Register(clientID, txIDs, userType, userID)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(b.ctx)
	sub, err := b.transport.Subscribe(streamCtx, channels...)
	if err != nil {
		cancel()
		b.registry.Unregister(clientID)
		return nil, err
	}

	s := &Stream{
		bus:      b,
		clientID: clientID,
		out:      make(chan event.Event, b.cfg.SubscriberQueueSize),
		ctx:      streamCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	b.trackStream(s)
	metrics.ActiveConnections.Set(float64(b.registry.Count()))

	b.logger.Info().
		Str("client_id", clientID).
		Str("user_type", string(userType)).
		Int("transactions", len(txIDs)).
		Msg("subscriber connected")

	go s.pump(ctx, sub, txIDs)
	return s, nil
}

// Events returns the subscriber's event channel. It is closed when the
// stream ends.
func (s *Stream) Events() <-chan event.Event {
	return s.out
}

// Close cancels the stream and synchronously unregisters the subscription:
// once Close returns, the client receives no further heartbeat credit and is
// not counted in metrics.
func (s *Stream) Close() {
	s.once.Do(func() { s.cancel() })
	<-s.done
}

// Touch credits the subscription with liveness without a delivery. The
// transport layer calls it whenever the client proves it is alive, such as
// answering a ping or sending any frame.
func (s *Stream) Touch() {
	s.bus.registry.Touch(s.clientID)
}

// closeSwept is the sweep loop's teardown: the registry entry is already
// gone and the sweep took the stream out of the map, so only the pump needs
// stopping. No waiting, the sweep loop must not block on a slow pump.
func (s *Stream) closeSwept() {
	s.once.Do(func() { s.cancel() })
}

// pump drains the replay backlog, then forwards live events until the stream
// ends. It owns all teardown: transport unsubscribe, registry removal, and
// closing the output channel.
func (s *Stream) pump(ctx context.Context, sub pubsub.Subscriber, txIDs []string) {
	b := s.bus
	defer func() {
		_ = sub.Close()
		if b.releaseStream(s) && b.registry.Unregister(s.clientID) {
			metrics.ActiveConnections.Set(float64(b.registry.Count()))
		}
		close(s.out)
		close(s.done)
		b.logger.Info().Str("client_id", s.clientID).Msg("subscriber disconnected")
	}()

	// Replaying: backlog within the recency window, per transaction.
	since := time.Now().Add(-b.cfg.ReplayWindow)
	for _, tx := range txIDs {
		for _, ev := range b.buffer.Window(s.ctx, tx, since) {
			if !b.registry.ShouldDeliver(ev, s.clientID) {
				continue
			}
			if s.enqueue(ev) {
				b.registry.Touch(s.clientID)
				b.stats.delivered.Add(1)
				metrics.EventsDeliveredTotal.Inc()
				metrics.ReplayedEventsTotal.Inc()
			}
		}
	}

	// Live: bridge the transport subscription.
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			ev, err := event.Decode(msg.Payload)
			if err != nil {
				// One malformed message is skipped, not fatal.
				metrics.IncDropped("decode")
				b.logger.Warn().
					Err(err).
					Str("client_id", s.clientID).
					Str("channel", msg.Channel).
					Msg("skipping undecodable message")
				continue
			}
			if !b.registry.ShouldDeliver(ev, s.clientID) {
				continue
			}
			if s.enqueue(ev) {
				b.registry.Touch(s.clientID)
				b.stats.delivered.Add(1)
				metrics.EventsDeliveredTotal.Inc()
			}
		}
	}
}

// enqueue offers an event to the bounded queue, dropping the oldest queued
// event for this subscriber only when the queue is full.
func (s *Stream) enqueue(ev event.Event) bool {
	select {
	case s.out <- ev:
		return true
	default:
	}

	select {
	case <-s.out:
		s.bus.stats.dropped.Add(1)
		metrics.IncDropped("backpressure")
	default:
	}

	select {
	case s.out <- ev:
		return true
	default:
		s.bus.stats.dropped.Add(1)
		metrics.IncDropped("backpressure")
		return false
	}
}
