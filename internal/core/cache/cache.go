// Package cache provides the key/value cache used for search results, the
// global search version counter and token revocation entries.
package cache

import (
	"context"
	"time"
)

// Store is a key/value cache with TTL expiry and atomic counters.
type Store interface {
	// Get returns the value for key. A missing or expired key is a clean
	// miss, not an error.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Increment atomically adds one to the integer at key, creating it at
	// zero first, and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)

	// GetInt returns the integer at key, or 0 when the key is missing.
	GetInt(ctx context.Context, key string) (int64, error)

	Close() error
}

// Remember returns the cached value for key, or computes it with fn and
// stores it for ttl. The bool result reports whether the value came from the
// cache. A failing Get falls through to fn; a failing Set is returned to the
// caller alongside the computed value so it can decide whether that matters.
func Remember(ctx context.Context, s Store, key string, ttl time.Duration, fn func() (string, error)) (string, bool, error) {
	if value, ok, err := s.Get(ctx, key); err == nil && ok {
		return value, true, nil
	}

	value, err := fn()
	if err != nil {
		return "", false, err
	}
	if err := s.Set(ctx, key, value, ttl); err != nil {
		return value, false, err
	}
	return value, false, nil
}
