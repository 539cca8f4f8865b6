// SPDX-License-Identifier: MIT

// Package replay keeps a bounded per-transaction history of recent events so
// a reconnecting subscriber can catch up without re-querying the system of
// record. The in-memory ring is mirrored into the key/value store with a TTL,
// which lets replay survive a bus process restart.
package replay

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/closingdesk/txstream/internal/event"
	"github.com/closingdesk/txstream/internal/store"
)

const (
	keyPrefix  = "eventBuffer:"
	shardCount = 16
)

// Buffer is the replay history for all transactions.
type Buffer struct {
	size   int
	ttl    time.Duration
	store  store.Store
	logger zerolog.Logger
	shards [shardCount]shard
}

type shard struct {
	mu    sync.Mutex
	rings map[string][]event.Event
}

// New creates a replay buffer keeping at most size events per transaction,
// mirrored into st with the given TTL.
func New(size int, ttl time.Duration, st store.Store, logger zerolog.Logger) *Buffer {
	b := &Buffer{size: size, ttl: ttl, store: st, logger: logger}
	for i := range b.shards {
		b.shards[i].rings = make(map[string][]event.Event)
	}
	return b
}

func (b *Buffer) shardFor(txID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(txID))
	return &b.shards[h.Sum32()%shardCount]
}

// Append pushes an event onto the transaction's ring, evicting the oldest
// entry when full, then mirrors the ring into the store. The mirror write is
// best-effort: a store failure logs a warning and never fails the publish
// path.
func (b *Buffer) Append(ctx context.Context, ev event.Event) {
	txID := ev.TransactionID
	s := b.shardFor(txID)

	s.mu.Lock()
	ring := append(s.rings[txID], ev)
	if len(ring) > b.size {
		ring = ring[len(ring)-b.size:]
	}
	s.rings[txID] = ring
	snapshot := append([]event.Event(nil), ring...)
	s.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Warn().Err(err).Str("transaction_id", txID).Msg("replay buffer marshal failed")
		return
	}
	if err := b.store.Set(ctx, keyPrefix+txID, data, b.ttl); err != nil {
		b.logger.Warn().Err(err).Str("transaction_id", txID).Msg("replay buffer mirror failed")
	}
}

// Window returns buffered events for the transaction with timestamp >= since,
// in publish order. If the in-memory ring is empty (for example after a
// process restart) it falls back to the mirrored copy in the store.
func (b *Buffer) Window(ctx context.Context, txID string, since time.Time) []event.Event {
	s := b.shardFor(txID)

	s.mu.Lock()
	ring := append([]event.Event(nil), s.rings[txID]...)
	s.mu.Unlock()

	if len(ring) == 0 {
		ring = b.restore(ctx, txID)
	}

	cutoff := float64(since.UnixNano()) / float64(time.Second)
	out := make([]event.Event, 0, len(ring))
	for _, ev := range ring {
		if ev.Timestamp >= cutoff {
			out = append(out, ev)
		}
	}
	return out
}

// restore reads the mirrored ring from the store and re-seeds memory with it.
func (b *Buffer) restore(ctx context.Context, txID string) []event.Event {
	data, ok, err := b.store.Get(ctx, keyPrefix+txID)
	if err != nil {
		b.logger.Warn().Err(err).Str("transaction_id", txID).Msg("replay buffer restore failed")
		return nil
	}
	if !ok {
		return nil
	}

	var ring []event.Event
	if err := json.Unmarshal(data, &ring); err != nil {
		b.logger.Warn().Err(err).Str("transaction_id", txID).Msg("replay buffer restore decode failed")
		return nil
	}

	s := b.shardFor(txID)
	s.mu.Lock()
	if len(s.rings[txID]) == 0 {
		s.rings[txID] = append([]event.Event(nil), ring...)
	}
	s.mu.Unlock()

	return ring
}

// Len returns the total number of buffered events across all transactions.
func (b *Buffer) Len() int {
	total := 0
	for i := range b.shards {
		s := &b.shards[i]
		s.mu.Lock()
		for _, ring := range s.rings {
			total += len(ring)
		}
		s.mu.Unlock()
	}
	return total
}
