// SPDX-License-Identifier: MIT

// Package store provides the TTL key/value and set-membership primitives the
// bus needs: replay buffer mirroring and acknowledgment tracking.
package store

import (
	"context"
	"time"
)

// Store is a key/value store with expiry semantics.
type Store interface {
	// Set upserts a value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value for key, or ok=false if absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// SetAdd adds a member to the set at key and refreshes the set's TTL.
	SetAdd(ctx context.Context, key, member string, ttl time.Duration) error
	// SetMembers returns all members of the set at key.
	SetMembers(ctx context.Context, key string) ([]string, error)
	// Close releases the underlying connection.
	Close() error
}
