// SPDX-License-Identifier: MIT

// Package pubsub abstracts the broadcast transport the bus fans out on.
// Production uses Redis pub/sub; tests use the in-memory transport.
package pubsub

import "context"

// Message is one record received on a subscribed channel.
type Message struct {
	Channel string
	Payload []byte
}

// Subscriber is a live multi-channel subscription on the transport.
type Subscriber interface {
	// C returns a read-only message channel. It is closed when the
	// subscription ends.
	C() <-chan Message
	// Close unsubscribes.
	Close() error
}

// Transport is the broadcast abstraction: at-least-once fan-out publish plus
// a blocking subscribe-stream primitive.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscriber, error)
}
