// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closingdesk/txstream/internal/bus"
	"github.com/closingdesk/txstream/internal/config"
	"github.com/closingdesk/txstream/internal/event"
	"github.com/closingdesk/txstream/internal/pubsub"
	"github.com/closingdesk/txstream/internal/registry"
	"github.com/closingdesk/txstream/internal/store"
)

func newTestServer(t *testing.T, health func(context.Context) error) (*httptest.Server, *bus.Bus) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := store.NewRedisStore(client, zerolog.Nop())

	b := bus.New(config.Defaults(), pubsub.NewMemoryTransport(), st, zerolog.Nop())
	t.Cleanup(b.Close)

	srv := httptest.NewServer(NewServer(b, health, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv, b
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestPublishEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/events", map[string]any{
		"transaction_id": "TXN-1",
		"event_type":     "progress_updated",
		"event_name":     "Progress",
		"payload":        map[string]any{"progress_percentage": 40},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Success bool   `json:"success"`
		EventID string `json:"event_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.EventID)
}

func TestPublishEndpoint_Invalid(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/events", map[string]any{
		"event_type": "progress_updated",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/api/events", "application/json", strings.NewReader("{broken"))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestPublishEndpoint_DerivesISOTimestamp(t *testing.T) {
	srv, b := newTestServer(t, nil)

	s, err := b.Subscribe(context.Background(), "obs", []string{"TXN-7"}, registry.UserClient, "")
	require.NoError(t, err)
	defer s.Close()

	resp := postJSON(t, srv.URL+"/api/events", map[string]any{
		"transaction_id": "TXN-7",
		"event_type":     "progress_updated",
		"event_name":     "Progress updated",
		"timestamp":      1700000000.0,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case ev := <-s.Events():
		assert.Equal(t, "2023-11-14T22:13:20Z", ev.ISOTimestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("event was never delivered")
	}
}

func TestAckEndpoint(t *testing.T) {
	srv, b := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/events/ev-1/ack?client_id=c1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, b.Acknowledgments(context.Background(), "ev-1"), "c1")

	resp = postJSON(t, srv.URL+"/api/events/ev-1/ack", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSnapshotEndpoint(t *testing.T) {
	srv, b := newTestServer(t, nil)
	require.True(t, b.Publish(context.Background(),
		event.New("TXN-1", event.TypeStatusChanged, "s", nil)))

	resp, err := http.Get(srv.URL + "/api/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, float64(1), snap["events_published"])
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthz_Degraded(t *testing.T) {
	srv, _ := newTestServer(t, func(context.Context) error {
		return errors.New("redis down")
	})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?" + query
}

func TestWebSocket_Stream(t *testing.T) {
	srv, b := newTestServer(t, nil)

	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "client_id=c1&transactions=TXN-1&user_type=client&user_id=u1"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	published := event.New("TXN-1", event.TypeMilestoneCompleted, "done",
		map[string]any{"milestone": "closing"})
	require.True(t, b.Publish(context.Background(), published))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got event.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, published.ID, got.ID)
	assert.Equal(t, "TXN-1", got.TransactionID)
}

func TestWebSocket_AckMessage(t *testing.T) {
	srv, b := newTestServer(t, nil)

	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "client_id=c1&transactions=TXN-1&user_type=agent"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{
		"action":   "ack",
		"event_id": "ev-9",
	}))

	require.Eventually(t, func() bool {
		acks := b.Acknowledgments(context.Background(), "ev-9")
		return len(acks) == 1 && acks[0] == "c1"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWebSocket_RejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, query := range []string{
		"transactions=TXN-1", // missing client_id
		"client_id=c1",       // missing transactions
		"client_id=c1&transactions=TXN-1&user_type=owner", // unknown user type
	} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
		require.Error(t, err, "query %q should be rejected", query)
		if resp != nil {
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %q", query)
			resp.Body.Close()
		}
	}
}

func TestWebSocket_ClientFramesKeepSubscriptionAlive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := store.NewRedisStore(client, zerolog.Nop())

	cfg := config.Defaults()
	cfg.SweepInterval = 20 * time.Millisecond
	cfg.InactivityTimeout = 100 * time.Millisecond

	b := bus.New(cfg, pubsub.NewMemoryTransport(), st, zerolog.Nop())
	t.Cleanup(b.Close)
	srv := httptest.NewServer(NewServer(b, nil, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "client_id=live&transactions=TXN-1&user_type=client"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// No events flow; the connection stays registered solely because the
	// client keeps sending frames.
	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{}`)))
		require.Equal(t, 1, b.Metrics().ActiveConnections,
			"live client was swept while sending frames")
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	srv, b := newTestServer(t, nil)

	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "client_id=c1&transactions=TXN-1&user_type=client"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return b.Metrics().ActiveConnections == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return b.Metrics().ActiveConnections == 0
	}, 2*time.Second, 20*time.Millisecond)
}
