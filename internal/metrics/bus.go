// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txstream_events_published_total",
		Help: "Total number of events published by event type",
	}, []string{"event_type"})

	PublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txstream_publish_failures_total",
		Help: "Total number of per-channel publish failures",
	}, []string{"channel"})

	EventsDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txstream_events_delivered_total",
		Help: "Total number of events delivered to subscribers",
	})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txstream_events_dropped_total",
		Help: "Total number of events dropped by reason (backpressure, decode)",
	}, []string{"reason"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "txstream_active_connections",
		Help: "Number of live subscriber connections",
	})

	ReplayedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txstream_replayed_events_total",
		Help: "Total number of events delivered from the replay buffer on (re)connect",
	})

	DeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "txstream_publish_latency_seconds",
		Help:    "Time taken to fan out one event to all of its channels",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	SweptSubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txstream_swept_subscriptions_total",
		Help: "Total number of subscriptions removed by the inactivity sweep",
	})
)

// IncDropped records a dropped event with a concrete reason.
func IncDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	EventsDroppedTotal.WithLabelValues(reason).Inc()
}
