// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon sits behind the platform's own ingress; origin policy is
	// enforced there.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsInbound is the message shape clients may send upstream. Only explicit
// acknowledgments are understood; everything else counts as liveness.
type wsInbound struct {
	Action  string `json:"action"`
	EventID string `json:"event_id"`
}

// handleWebSocket upgrades the connection and bridges a bus stream onto it.
// GET /api/ws?client_id=C&transactions=T1,T2&user_type=client&user_id=U
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	if clientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	txIDs := parseTransactions(q.Get("transactions"))
	if len(txIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "transactions is required"})
		return
	}
	userType, ok := parseUserType(q.Get("user_type"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown user_type"})
		return
	}
	userID := q.Get("user_id")

	stream, err := s.bus.Subscribe(r.Context(), clientID, txIDs, userType, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("client_id", clientID).Msg("subscribe failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "subscribe failed"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		stream.Close()
		s.logger.Warn().Err(err).Str("client_id", clientID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	defer stream.Close()

	// Reader: consume client frames for liveness and acks; any read error
	// means disconnect.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			stream.Touch()
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
			stream.Touch()

			var msg wsInbound
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Action == "ack" && msg.EventID != "" {
				s.bus.Acknowledge(r.Context(), clientID, msg.EventID)
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-stream.Events():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug().Err(err).Str("client_id", clientID).Msg("websocket write failed")
				return
			}
		}
	}
}
