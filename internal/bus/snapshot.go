// SPDX-License-Identifier: MIT

package bus

import "github.com/closingdesk/txstream/internal/registry"

// Snapshot is a point-in-time view of the bus counters. It reads only
// in-memory state and never blocks on I/O.
type Snapshot struct {
	EventsPublished      int64                     `json:"events_published"`
	EventsDelivered      int64                     `json:"events_delivered"`
	EventsDropped        int64                     `json:"events_dropped"`
	FailedPublishes      int64                     `json:"failed_publishes"`
	ActiveConnections    int                       `json:"active_connections"`
	AvgDeliveryLatencyMs float64                   `json:"avg_delivery_latency_ms"`
	BufferedEventCount   int                       `json:"buffered_event_count"`
	SubscriptionsByType  map[registry.UserType]int `json:"subscriptions_by_user_type"`
}

// Metrics returns the current snapshot.
func (b *Bus) Metrics() Snapshot {
	b.latencyMu.Lock()
	avg := b.avgLatencyMs
	b.latencyMu.Unlock()

	return Snapshot{
		EventsPublished:      b.stats.published.Load(),
		EventsDelivered:      b.stats.delivered.Load(),
		EventsDropped:        b.stats.dropped.Load(),
		FailedPublishes:      b.stats.failed.Load(),
		ActiveConnections:    b.registry.Count(),
		AvgDeliveryLatencyMs: avg,
		BufferedEventCount:   b.buffer.Len(),
		SubscriptionsByType:  b.registry.CountByUserType(),
	}
}
