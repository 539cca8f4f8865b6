// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/closingdesk/txstream/internal/config"
	"github.com/closingdesk/txstream/internal/pubsub"
	"github.com/closingdesk/txstream/internal/registry"
	"github.com/closingdesk/txstream/internal/store"
)

// TestShutdown_NoGoroutineLeak verifies that Close tears down the background
// loops and every subscriber pump.
func TestShutdown_NoGoroutineLeak(t *testing.T) {
	opt := goleak.IgnoreCurrent()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisStore(client, zerolog.Nop())

	b := New(config.Defaults(), pubsub.NewMemoryTransport(), st, zerolog.Nop())

	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := b.Subscribe(context.Background(), id, []string{"TXN-1"}, registry.UserClient, "")
		require.NoError(t, err)
	}

	b.Close()
	require.NoError(t, client.Close())
	mr.Close()

	goleak.VerifyNone(t, opt)
}
