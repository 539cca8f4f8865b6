// SPDX-License-Identifier: MIT

package pubsub

import (
	"context"
	"sync"

	"github.com/closingdesk/txstream/internal/metrics"
)

// MemoryTransport is an in-memory pub/sub used for unit tests and local
// prototyping. It is not durable and provides best-effort in-process
// delivery.
type MemoryTransport struct {
	mu   sync.RWMutex
	subs map[string][]*memSub
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string][]*memSub)}
}

// Publish delivers the payload to every subscriber of the channel. Sends are
// non-blocking: a full subscriber buffer drops the message for that
// subscriber only, mirroring the backpressure policy of a real broker client.
func (t *MemoryTransport) Publish(_ context.Context, channel string, payload []byte) error {
	t.mu.RLock()
	subs := append([]*memSub(nil), t.subs[channel]...)
	t.mu.RUnlock()

	for _, s := range subs {
		s.send(Message{Channel: channel, Payload: payload})
	}
	return nil
}

// Subscribe registers one buffered tap across all requested channels.
func (t *MemoryTransport) Subscribe(_ context.Context, channels ...string) (Subscriber, error) {
	sub := &memSub{
		t:        t,
		channels: channels,
		ch:       make(chan Message, 256),
	}

	t.mu.Lock()
	for _, c := range channels {
		t.subs[c] = append(t.subs[c], sub)
	}
	t.mu.Unlock()

	return sub, nil
}

type memSub struct {
	t        *MemoryTransport
	channels []string
	ch       chan Message

	mu     sync.Mutex
	closed bool
}

func (s *memSub) send(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		metrics.IncDropped("transport_full")
	}
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

func (s *memSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.t.mu.Lock()
	for _, c := range s.channels {
		lst := s.t.subs[c]
		out := lst[:0]
		for _, other := range lst {
			if other != s {
				out = append(out, other)
			}
		}
		if len(out) == 0 {
			delete(s.t.subs, c)
		} else {
			s.t.subs[c] = out
		}
	}
	s.t.mu.Unlock()

	close(s.ch)
	return nil
}

var _ Transport = (*MemoryTransport)(nil)
