// Package kv defines the expiring key-value store contract the pipeline
// relies on for snapshots, dedup keys, cooldowns, and hourly rate counters.
// Correctness under concurrent orchestrator passes is delegated entirely to
// these primitives; no caller holds its own lock over them.
package kv

import (
	"context"
	"time"
)

// Store is the shared expiring key-value collaborator.
type Store interface {
	// Get returns the value for key and whether it exists and is unexpired.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetTTL stores value under key with the given time-to-live.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key does not already exist, reporting
	// whether the set happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr atomically increments the integer at key and returns the new value.
	// A missing key counts from zero.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the time-to-live of an existing key, reporting whether the
	// key was present.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Close stops background maintenance routines.
	Close()
}
