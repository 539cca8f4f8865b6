// SPDX-License-Identifier: MIT

// Package registry tracks the authoritative set of live subscriptions and
// answers whether a given subscriber should receive a given event.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/closingdesk/txstream/internal/event"
)

// UserType classifies a subscriber for visibility filtering.
type UserType string

const (
	UserClient UserType = "client"
	UserAgent  UserType = "agent"
	UserAdmin  UserType = "admin"
)

// IsValid reports whether u is a known user type.
func (u UserType) IsValid() bool {
	switch u {
	case UserClient, UserAgent, UserAdmin:
		return true
	}
	return false
}

// Subscription is the registry's record of one live connection. It is owned
// exclusively by the registry for its lifetime; callers get copies.
type Subscription struct {
	ClientID       string
	TransactionIDs map[string]struct{}
	Channels       []string
	ConnectionTime time.Time
	LastHeartbeat  time.Time
	UserType       UserType
	UserID         string
}

// Registry is the mutex-guarded map of clientID -> Subscription.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		subs:   make(map[string]*Subscription),
		logger: logger,
		now:    time.Now,
	}
}

// Register stores a new subscription and returns the channel set it should
// listen on: the global channel, the celebrations channel, and one channel
// per requested transaction. Re-registering an existing clientID replaces the
// previous subscription.
func (r *Registry) Register(clientID string, txIDs []string, userType UserType, userID string) ([]string, error) {
	if clientID == "" {
		return nil, fmt.Errorf("registry: empty client_id")
	}
	if !userType.IsValid() {
		return nil, fmt.Errorf("registry: unknown user_type %q", userType)
	}

	channels := []string{event.GlobalChannel, event.CelebrationsChannel}
	txSet := make(map[string]struct{}, len(txIDs))
	for _, tx := range txIDs {
		if tx == "" {
			continue
		}
		if _, dup := txSet[tx]; dup {
			continue
		}
		txSet[tx] = struct{}{}
		channels = append(channels, event.TransactionChannel(tx))
	}

	now := r.now()
	sub := &Subscription{
		ClientID:       clientID,
		TransactionIDs: txSet,
		Channels:       channels,
		ConnectionTime: now,
		LastHeartbeat:  now,
		UserType:       userType,
		UserID:         userID,
	}

	r.mu.Lock()
	r.subs[clientID] = sub
	r.mu.Unlock()

	return channels, nil
}

// ShouldDeliver applies transaction-interest and visibility filtering.
// Admins see every event matching their transaction set regardless of
// visibility flags.
func (r *Registry) ShouldDeliver(ev event.Event, clientID string) bool {
	r.mu.RLock()
	sub, ok := r.subs[clientID]
	if !ok {
		r.mu.RUnlock()
		return false
	}
	_, interested := sub.TransactionIDs[ev.TransactionID]
	userType := sub.UserType
	r.mu.RUnlock()

	if !interested {
		return false
	}
	switch userType {
	case UserClient:
		return ev.ClientVisible
	case UserAgent:
		return ev.AgentVisible
	case UserAdmin:
		return true
	}
	return false
}

// Touch refreshes the subscription's heartbeat. A Touch racing a sweep that
// already removed the subscription is a no-op: removal wins.
func (r *Registry) Touch(clientID string) {
	now := r.now()
	r.mu.Lock()
	if sub, ok := r.subs[clientID]; ok {
		sub.LastHeartbeat = now
	}
	r.mu.Unlock()
}

// Unregister removes a subscription. It reports whether the subscription
// existed, so callers can avoid double-decrementing connection gauges.
func (r *Registry) Unregister(clientID string) bool {
	r.mu.Lock()
	_, ok := r.subs[clientID]
	delete(r.subs, clientID)
	r.mu.Unlock()
	return ok
}

// Get returns a copy of the subscription for clientID.
func (r *Registry) Get(clientID string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[clientID]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// SweepInactive removes and returns every subscription whose heartbeat is
// older than timeout. Calling it twice in a row with no intervening
// heartbeats removes each stale subscription exactly once.
func (r *Registry) SweepInactive(timeout time.Duration) []string {
	cutoff := r.now().Add(-timeout)

	r.mu.Lock()
	var removed []string
	for id, sub := range r.subs {
		if sub.LastHeartbeat.Before(cutoff) {
			delete(r.subs, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	if len(removed) > 0 {
		r.logger.Info().
			Int("removed", len(removed)).
			Dur("timeout", timeout).
			Msg("swept inactive subscriptions")
	}
	return removed
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// CountByUserType returns live subscription counts grouped by user type.
func (r *Registry) CountByUserType() map[UserType]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[UserType]int)
	for _, sub := range r.subs {
		counts[sub.UserType]++
	}
	return counts
}
