// SPDX-License-Identifier: MIT

package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvMessage(t *testing.T, sub Subscriber) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestMemoryTransport_FanOut(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()

	sub1, err := tr.Subscribe(ctx, "updates")
	require.NoError(t, err)
	sub2, err := tr.Subscribe(ctx, "updates", "celebrations")
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, "updates", []byte("a")))

	assert.Equal(t, "a", string(recvMessage(t, sub1).Payload))
	assert.Equal(t, "a", string(recvMessage(t, sub2).Payload))

	// Channel-scoped: only sub2 listens on celebrations.
	require.NoError(t, tr.Publish(ctx, "celebrations", []byte("b")))
	msg := recvMessage(t, sub2)
	assert.Equal(t, "celebrations", msg.Channel)

	select {
	case m := <-sub1.C():
		t.Fatalf("sub1 should not receive celebrations, got %q", m.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryTransport_Ordering(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()

	sub, err := tr.Subscribe(ctx, "TXN-1:events")
	require.NoError(t, err)

	for _, p := range []string{"1", "2", "3"} {
		require.NoError(t, tr.Publish(ctx, "TXN-1:events", []byte(p)))
	}

	for _, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, string(recvMessage(t, sub).Payload))
	}
}

func TestMemoryTransport_Close(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()

	sub, err := tr.Subscribe(ctx, "updates")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	// Closing twice is safe, and publishing after close does not panic.
	require.NoError(t, sub.Close())
	require.NoError(t, tr.Publish(ctx, "updates", []byte("x")))

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")
}

func TestMemoryTransport_PublishWithoutSubscribers(t *testing.T) {
	tr := NewMemoryTransport()
	assert.NoError(t, tr.Publish(context.Background(), "nowhere", []byte("x")))
}
