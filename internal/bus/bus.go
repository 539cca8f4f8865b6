// SPDX-License-Identifier: MIT

// Package bus is the orchestrator of the real-time transaction event bus: it
// fans published events out to their channels, streams them to live
// subscribers with replay-on-reconnect, and runs the liveness sweep and
// heartbeat background loops.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/closingdesk/txstream/internal/config"
	"github.com/closingdesk/txstream/internal/metrics"
	"github.com/closingdesk/txstream/internal/pubsub"
	"github.com/closingdesk/txstream/internal/registry"
	"github.com/closingdesk/txstream/internal/replay"
	"github.com/closingdesk/txstream/internal/store"
)

// Bus ties the channel router, replay buffer, and subscription registry
// together behind publish/subscribe/acknowledge/metrics operations. One Bus
// owns its registry and replay buffer exclusively; multiple independent
// instances can coexist (nothing is package-global).
type Bus struct {
	cfg       config.Config
	transport pubsub.Transport
	store     store.Store
	buffer    *replay.Buffer
	registry  *registry.Registry
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loopWG sync.WaitGroup

	streamMu sync.Mutex
	streams  map[string]*Stream

	stats struct {
		published atomic.Int64
		delivered atomic.Int64
		dropped   atomic.Int64
		failed    atomic.Int64
	}
	latencyMu    sync.Mutex
	avgLatencyMs float64
}

// New wires a bus from its collaborators and starts the background loops.
// Call Close to stop them deterministically.
func New(cfg config.Config, transport pubsub.Transport, st store.Store, logger zerolog.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:       cfg,
		transport: transport,
		store:     st,
		buffer:    replay.New(cfg.BufferSize, cfg.BufferTTL, st, logger),
		registry:  registry.New(logger),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		streams:   make(map[string]*Stream),
	}

	b.loopWG.Add(2)
	go b.sweepLoop()
	go b.heartbeatLoop()

	return b
}

// Close cancels every live stream and waits for both background loops to
// stop before returning.
func (b *Bus) Close() {
	b.cancel()

	b.streamMu.Lock()
	streams := make([]*Stream, 0, len(b.streams))
	for _, s := range b.streams {
		streams = append(streams, s)
	}
	b.streamMu.Unlock()

	for _, s := range streams {
		s.Close()
	}

	b.loopWG.Wait()
	b.logger.Info().Msg("event bus closed")
}

// sweepLoop periodically removes subscriptions that have not seen a delivery
// or heartbeat within the inactivity timeout.
func (b *Bus) sweepLoop() {
	defer b.loopWG.Done()

	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	b.logger.Info().
		Dur("interval", b.cfg.SweepInterval).
		Dur("timeout", b.cfg.InactivityTimeout).
		Msg("subscription sweep loop started")

	for {
		select {
		case <-b.ctx.Done():
			b.logger.Info().Msg("subscription sweep loop stopped")
			return
		case <-ticker.C:
			b.sweepOnce()
		}
	}
}

// sweepOnce runs one sweep iteration. A panic in the iteration is caught and
// logged so the loop itself never terminates.
func (b *Bus) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("sweep iteration panicked")
		}
	}()

	removed := b.registry.SweepInactive(b.cfg.InactivityTimeout)
	if len(removed) == 0 {
		return
	}

	for _, clientID := range removed {
		metrics.SweptSubscriptionsTotal.Inc()
		if s := b.takeStream(clientID); s != nil {
			s.closeSwept()
		}
	}
	metrics.ActiveConnections.Set(float64(b.registry.Count()))
	b.logger.Info().
		Int("removed", len(removed)).
		Msg("removed stale subscriptions")
}

// heartbeatLoop refreshes the active-connections gauge and emits a debug
// health log every heartbeat interval.
func (b *Bus) heartbeatLoop() {
	defer b.loopWG.Done()

	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			b.logger.Info().Msg("heartbeat loop stopped")
			return
		case <-ticker.C:
			b.heartbeatOnce()
		}
	}
}

func (b *Bus) heartbeatOnce() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("heartbeat iteration panicked")
		}
	}()

	active := b.registry.Count()
	metrics.ActiveConnections.Set(float64(active))
	b.logger.Debug().
		Int("active_connections", active).
		Int64("events_published", b.stats.published.Load()).
		Int64("events_delivered", b.stats.delivered.Load()).
		Int("buffered_events", b.buffer.Len()).
		Msg("bus heartbeat")
}

// observeLatency folds one fan-out duration into the moving average:
// avg = avg*0.9 + observed*0.1.
func (b *Bus) observeLatency(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	b.latencyMu.Lock()
	if b.avgLatencyMs == 0 {
		b.avgLatencyMs = ms
	} else {
		b.avgLatencyMs = b.avgLatencyMs*0.9 + ms*0.1
	}
	b.latencyMu.Unlock()
	metrics.DeliveryLatency.Observe(d.Seconds())
}

func (b *Bus) trackStream(s *Stream) {
	b.streamMu.Lock()
	b.streams[s.clientID] = s
	b.streamMu.Unlock()
}

// takeStream removes and returns the stream for clientID, if any.
func (b *Bus) takeStream(clientID string) *Stream {
	b.streamMu.Lock()
	s := b.streams[clientID]
	delete(b.streams, clientID)
	b.streamMu.Unlock()
	return s
}

// releaseStream removes s from the stream map only if it is still the
// tracked stream for its client ID, and reports whether it was. A stream
// that lost ownership (superseded by a reconnect, or already taken by the
// sweep) must not unregister the client on teardown.
func (b *Bus) releaseStream(s *Stream) bool {
	b.streamMu.Lock()
	owned := b.streams[s.clientID] == s
	if owned {
		delete(b.streams, s.clientID)
	}
	b.streamMu.Unlock()
	return owned
}
