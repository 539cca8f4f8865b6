// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/closingdesk/txstream/internal/event"
	"github.com/closingdesk/txstream/internal/metrics"
)

// Publish fans one event out to every channel the router names, concurrently,
// and appends it to the replay buffer. It returns false if the event is
// structurally invalid or if any channel publish failed; the bus never
// retries on its own (callers decide, to avoid unbounded duplicate
// amplification).
func (b *Bus) Publish(ctx context.Context, ev event.Event) bool {
	if err := ev.Validate(); err != nil {
		b.stats.failed.Add(1)
		b.logger.Error().Err(err).Msg("rejected malformed event")
		return false
	}

	payload, err := event.Encode(ev)
	if err != nil {
		b.stats.failed.Add(1)
		b.logger.Error().Err(err).Str("event_id", ev.ID).Msg("event encode failed")
		return false
	}

	start := time.Now()
	channels := event.Channels(ev)

	var wg sync.WaitGroup
	failures := make([]error, len(channels))
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch string) {
			defer wg.Done()
			failures[i] = b.transport.Publish(ctx, ch, payload)
		}(i, ch)
	}
	wg.Wait()

	// The replay append happens regardless of channel failures so a
	// reconnecting subscriber can still catch up once the transport heals.
	b.buffer.Append(ctx, ev)

	ok := true
	for i, err := range failures {
		if err == nil {
			continue
		}
		ok = false
		metrics.PublishFailuresTotal.WithLabelValues(channels[i]).Inc()
		b.logger.Warn().
			Err(err).
			Str("event_id", ev.ID).
			Str("channel", channels[i]).
			Msg("channel publish failed")
	}

	b.observeLatency(time.Since(start))
	b.stats.published.Add(1)
	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type)).Inc()
	if !ok {
		b.stats.failed.Add(1)
	}

	evt := b.logger.Debug()
	if ev.Priority == event.PriorityCritical || ev.Priority == event.PriorityHigh {
		evt = b.logger.Info()
	}
	evt.Str("event_id", ev.ID).
		Str("transaction_id", ev.TransactionID).
		Str("event_type", string(ev.Type)).
		Str("priority", string(ev.Priority)).
		Int("channels", len(channels)).
		Bool("success", ok).
		Msg("event published")

	return ok
}

// Acknowledge records that clientID has seen eventID. The acknowledgment set
// lives in the key/value store under a TTL; a missing ack is observable but
// never blocks delivery to other subscribers.
func (b *Bus) Acknowledge(ctx context.Context, clientID, eventID string) bool {
	if clientID == "" || eventID == "" {
		b.logger.Error().
			Str("client_id", clientID).
			Str("event_id", eventID).
			Msg("rejected acknowledgment with empty identifier")
		return false
	}
	if err := b.store.SetAdd(ctx, ackKey(eventID), clientID, b.cfg.AckTTL); err != nil {
		b.logger.Warn().Err(err).Str("event_id", eventID).Msg("acknowledgment write failed")
		return false
	}
	return true
}

// Acknowledgments returns the clients that have acknowledged eventID.
func (b *Bus) Acknowledgments(ctx context.Context, eventID string) []string {
	members, err := b.store.SetMembers(ctx, ackKey(eventID))
	if err != nil {
		b.logger.Warn().Err(err).Str("event_id", eventID).Msg("acknowledgment read failed")
		return nil
	}
	return members
}

func ackKey(eventID string) string {
	return "eventAcks:" + eventID
}

// PublishMilestoneCompletion emits the milestone_completed event, a matching
// progress_updated event, and, when a celebration message is supplied, a
// celebration_triggered event. Each underlying publish is independent; the
// composite succeeds iff the primary milestone event published.
func (b *Bus) PublishMilestoneCompletion(ctx context.Context, txID, milestone string, progressPct float64, celebrationMsg string) bool {
	primary := b.Publish(ctx, event.New(txID, event.TypeMilestoneCompleted,
		"Milestone completed",
		map[string]any{
			"milestone":           milestone,
			"progress_percentage": progressPct,
		},
		event.WithPriority(event.PriorityHigh),
	))

	b.Publish(ctx, event.New(txID, event.TypeProgressUpdated,
		"Progress updated",
		map[string]any{
			"progress_percentage": progressPct,
			"milestone":           milestone,
		},
	))

	if celebrationMsg != "" {
		b.Publish(ctx, event.New(txID, event.TypeCelebrationTriggered,
			"Celebration",
			map[string]any{
				"message":   celebrationMsg,
				"milestone": milestone,
			},
			event.WithPriority(event.PriorityHigh),
		))
	}

	return primary
}

// PublishPredictionAlert emits a prediction_alert event. Predictions are an
// agent-facing signal and are not client visible.
func (b *Bus) PublishPredictionAlert(ctx context.Context, txID, prediction string, confidence float64, details map[string]any) bool {
	payload := map[string]any{
		"prediction": prediction,
		"confidence": confidence,
	}
	for k, v := range details {
		payload[k] = v
	}
	return b.Publish(ctx, event.New(txID, event.TypePredictionAlert,
		"Prediction alert",
		payload,
		event.WithPriority(event.PriorityHigh),
		event.WithVisibility(false, true),
	))
}

// PublishHealthScoreChange emits a health_score_changed event and, when the
// score dropped below the alert threshold, a critical action_required event
// for agents. The composite succeeds iff the score-change event published.
func (b *Bus) PublishHealthScoreChange(ctx context.Context, txID string, oldScore, newScore float64) bool {
	primary := b.Publish(ctx, event.New(txID, event.TypeHealthScoreChanged,
		"Health score changed",
		map[string]any{
			"old_score":    oldScore,
			"new_score":    newScore,
			"health_score": newScore,
		},
	))

	if newScore < event.HealthAlertThreshold && newScore < oldScore {
		b.Publish(ctx, event.New(txID, event.TypeActionRequired,
			"Transaction health degraded",
			map[string]any{
				"health_score": newScore,
				"previous":     oldScore,
			},
			event.WithPriority(event.PriorityCritical),
			event.WithVisibility(false, true),
			event.WithAck(),
		))
	}

	return primary
}
