// Package sharding maps users and posts to physical shards.
//
// The user-based mappings are pure: shard placement is a deterministic
// function of the user identifier, so the write path and any later read path
// agree on placement without coordination. Post-based resolution goes through
// the global lookup index, because a post identifier alone does not encode
// its shard.
//
// The shard count is fixed at construction. Changing it reroutes every user,
// stranding existing rows; resharding needs a migration path this design does
// not have.
package sharding

import (
	"context"
	"database/sql"
	"fmt"

	"pressd/internal/core/storage/types"
)

// Shard is one partition of the post store.
type Shard struct {
	// Num is the shard number in [0, shardCount).
	Num int

	// DB is the shard's connection handle.
	DB *sql.DB

	// Index is the full-text index name covering this shard's posts.
	Index string

	// Posts is the post store bound to this shard.
	Posts types.PostStore
}

// IndexName returns the full-text index name for a shard number.
func IndexName(shard int) string {
	return fmt.Sprintf("posts_idx_shard_%d", shard)
}

// Router resolves shard placement.
type Router struct {
	shards []*Shard
	lookup types.LookupStore
}

// NewRouter creates a Router over the given shards. Shards must be ordered by
// shard number, starting at zero.
func NewRouter(shards []*Shard, lookup types.LookupStore) (*Router, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("at least one shard is required")
	}
	for i, s := range shards {
		if s.Num != i {
			return nil, fmt.Errorf("shard at position %d has number %d", i, s.Num)
		}
	}
	return &Router{shards: shards, lookup: lookup}, nil
}

// ShardFor returns the shard number owning the user's posts.
func (r *Router) ShardFor(userID int64) int {
	n := userID % int64(len(r.shards))
	if n < 0 {
		n += int64(len(r.shards))
	}
	return int(n)
}

// For returns the shard owning the user's posts.
func (r *Router) For(userID int64) *Shard {
	return r.shards[r.ShardFor(userID)]
}

// IndexFor returns the full-text index name for the user's shard.
func (r *Router) IndexFor(userID int64) string {
	return r.For(userID).Index
}

// ForPost resolves the shard owning a post via the lookup index. A missing
// lookup entry, and an entry pointing at an unknown shard, both surface as
// types.ErrPostNotFound: from the caller's point of view the post does not
// exist.
func (r *Router) ForPost(ctx context.Context, postID int64) (*Shard, error) {
	entry, err := r.lookup.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if entry.Shard < 0 || entry.Shard >= len(r.shards) {
		return nil, types.ErrPostNotFound
	}
	return r.shards[entry.Shard], nil
}

// Default returns shard zero, which doubles as the shard scanned by the
// unfiltered listing and filter-only search paths.
func (r *Router) Default() *Shard {
	return r.shards[0]
}

// All returns every shard in shard-number order.
func (r *Router) All() []*Shard {
	return r.shards
}

// Count returns the number of shards.
func (r *Router) Count() int {
	return len(r.shards)
}
