// SPDX-License-Identifier: MIT

// Package event defines the immutable transaction event value object, its
// JSON wire contract, and the pure routing rules that map an event to the
// broadcast channels it must be published on.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type enumerates every transaction lifecycle event kind.
type Type string

const (
	TypeTransactionCreated   Type = "transaction_created"
	TypeMilestoneStarted     Type = "milestone_started"
	TypeMilestoneCompleted   Type = "milestone_completed"
	TypeMilestoneDelayed     Type = "milestone_delayed"
	TypeProgressUpdated      Type = "progress_updated"
	TypeStatusChanged        Type = "status_changed"
	TypeCelebrationTriggered Type = "celebration_triggered"
	TypePredictionAlert      Type = "prediction_alert"
	TypeHealthScoreChanged   Type = "health_score_changed"
	TypeActionRequired       Type = "action_required"
	TypeClientMessage        Type = "client_message"
)

// Types lists all valid event types in declaration order.
var Types = []Type{
	TypeTransactionCreated,
	TypeMilestoneStarted,
	TypeMilestoneCompleted,
	TypeMilestoneDelayed,
	TypeProgressUpdated,
	TypeStatusChanged,
	TypeCelebrationTriggered,
	TypePredictionAlert,
	TypeHealthScoreChanged,
	TypeActionRequired,
	TypeClientMessage,
}

// IsValid reports whether t is a known event type.
func (t Type) IsValid() bool {
	switch t {
	case TypeTransactionCreated, TypeMilestoneStarted, TypeMilestoneCompleted,
		TypeMilestoneDelayed, TypeProgressUpdated, TypeStatusChanged,
		TypeCelebrationTriggered, TypePredictionAlert, TypeHealthScoreChanged,
		TypeActionRequired, TypeClientMessage:
		return true
	}
	return false
}

// Priority classifies how aggressively an event is logged and which auxiliary
// channels receive it. It never affects ordering.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Event is the immutable unit of communication on the bus. The bus never
// mutates payload or metadata after construction, only wraps and serializes.
type Event struct {
	ID            string         `json:"event_id"`
	TransactionID string         `json:"transaction_id"`
	Type          Type           `json:"event_type"`
	Name          string         `json:"event_name"`
	Payload       map[string]any `json:"payload"`
	Priority      Priority       `json:"priority"`
	Timestamp     float64        `json:"timestamp"`
	ISOTimestamp  string         `json:"iso_timestamp"`
	ClientVisible bool           `json:"client_visible"`
	AgentVisible  bool           `json:"agent_visible"`
	RequiresAck   bool           `json:"requires_acknowledgment"`
}

// Option adjusts a freshly constructed event.
type Option func(*Event)

// WithPriority overrides the default medium priority.
func WithPriority(p Priority) Option {
	return func(e *Event) { e.Priority = p }
}

// WithVisibility sets the delivery filtering flags.
func WithVisibility(client, agent bool) Option {
	return func(e *Event) {
		e.ClientVisible = client
		e.AgentVisible = agent
	}
}

// WithAck marks the event as requiring subscriber acknowledgment.
func WithAck() Option {
	return func(e *Event) { e.RequiresAck = true }
}

// WithTimestamp overrides the creation timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.Timestamp = float64(t.UnixNano()) / float64(time.Second)
		e.ISOTimestamp = t.UTC().Format(time.RFC3339)
	}
}

// New constructs an event with a generated ID and the current timestamp.
// Both visibility flags default to true and priority defaults to medium.
func New(txID string, typ Type, name string, payload map[string]any, opts ...Option) Event {
	now := time.Now()
	e := Event{
		ID:            uuid.NewString(),
		TransactionID: txID,
		Type:          typ,
		Name:          name,
		Payload:       payload,
		Priority:      PriorityMedium,
		Timestamp:     float64(now.UnixNano()) / float64(time.Second),
		ISOTimestamp:  now.UTC().Format(time.RFC3339),
		ClientVisible: true,
		AgentVisible:  true,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// At returns the event timestamp as a time.Time.
func (e Event) At() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Validate checks the minimal structural contract the bus enforces. Business
// semantics are the publisher's responsibility.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event: empty event_id")
	}
	if e.TransactionID == "" {
		return fmt.Errorf("event: empty transaction_id")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("event: unknown event_type %q", e.Type)
	}
	return nil
}

// numericPayload extracts a numeric payload field, tolerating the types
// encoding/json produces on decode.
func (e Event) numericPayload(keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := e.Payload[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// HealthScore returns the numeric health score carried by a
// health_score_changed payload, if present.
func (e Event) HealthScore() (float64, bool) {
	return e.numericPayload("health_score", "new_score")
}
