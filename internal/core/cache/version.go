package cache

import (
	"context"
	"log/slog"
)

const defaultVersionKey = "search:version"

// VersionCounter is the global search version. Every post mutation bumps it;
// the search engine folds the current value into its cache keys, so a bump
// makes every older entry unreachable in O(1) without touching them.
type VersionCounter struct {
	store Store
	key   string
}

// NewVersionCounter creates a counter on the given store.
func NewVersionCounter(store Store) *VersionCounter {
	return &VersionCounter{store: store, key: defaultVersionKey}
}

// Current returns the version read at call time. Concurrent bumps may make
// the value stale by one, which only costs an extra cache miss. A store error
// reads as version zero so that searches degrade to uncached queries instead
// of failing.
func (v *VersionCounter) Current(ctx context.Context) int64 {
	value, err := v.store.GetInt(ctx, v.key)
	if err != nil {
		slog.Warn("search version read failed, treating as zero", "error", err)
		return 0
	}
	return value
}

// Bump advances the version. Best effort: the write that triggered the bump
// has already committed, so a counter failure is logged and swallowed rather
// than failing the mutation.
func (v *VersionCounter) Bump(ctx context.Context) {
	if _, err := v.store.Increment(ctx, v.key); err != nil {
		slog.Warn("search version bump failed", "error", err)
	}
}
