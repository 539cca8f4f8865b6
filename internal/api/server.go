// SPDX-License-Identifier: MIT

// Package api exposes the bus over HTTP: a JSON publish endpoint, an
// acknowledgment endpoint, a websocket subscribe stream, and the metrics and
// health surfaces.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/closingdesk/txstream/internal/bus"
	"github.com/closingdesk/txstream/internal/event"
	"github.com/closingdesk/txstream/internal/registry"
)

// Server carries the handler dependencies.
type Server struct {
	bus    *bus.Bus
	health func(context.Context) error
	logger zerolog.Logger
}

// NewServer creates the API server. health is invoked by /healthz and should
// ping the backing store.
func NewServer(b *bus.Bus, health func(context.Context) error, logger zerolog.Logger) *Server {
	return &Server{bus: b, health: health, logger: logger}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(httprate.LimitByIP(100, time.Second)).Post("/events", s.handlePublish)
		r.Post("/events/{eventID}/ack", s.handleAck)
		r.Get("/metrics", s.handleSnapshot)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event body"})
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Priority == "" {
		ev.Priority = event.PriorityMedium
	}
	if ev.Timestamp == 0 {
		now := time.Now()
		ev.Timestamp = float64(now.UnixNano()) / float64(time.Second)
		ev.ISOTimestamp = now.UTC().Format(time.RFC3339)
	}
	if ev.ISOTimestamp == "" {
		at := time.Unix(0, int64(ev.Timestamp*float64(time.Second)))
		ev.ISOTimestamp = at.UTC().Format(time.RFC3339)
	}
	if err := ev.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if !s.bus.Publish(r.Context(), ev) {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success":  false,
			"event_id": ev.ID,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":  true,
		"event_id": ev.ID,
	})
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		var body struct {
			ClientID string `json:"client_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		clientID = body.ClientID
	}

	if !s.bus.Acknowledge(r.Context(), clientID, eventID) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"acknowledged": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.Metrics())
}

// parseTransactions splits the comma-separated transactions query parameter.
func parseTransactions(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseUserType(raw string) (registry.UserType, bool) {
	ut := registry.UserType(raw)
	if ut == "" {
		ut = registry.UserClient
	}
	return ut, ut.IsValid()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
