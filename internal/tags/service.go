// Package tags lists tags with their published-post counts. Tag rows are
// global; the counts come from the per-shard associations, summed across all
// shards.
package tags

import (
	"context"
	"sort"
	"strings"

	"pressd/internal/core/storage"
	"pressd/internal/core/storage/sharding"
)

const (
	// MaxLimit is the listing size cap.
	MaxLimit = 200

	// DefaultLimit applies when the request does not name one.
	DefaultLimit = 50
)

// Service aggregates tag usage across shards.
type Service struct {
	router *sharding.Router
	tags   storage.TagStore
}

// NewService creates a Service.
func NewService(router *sharding.Router, tags storage.TagStore) *Service {
	return &Service{router: router, tags: tags}
}

// List returns tags carrying at least one published post, ordered by count
// descending then name ascending. q, when non-empty, narrows to tags whose
// name or slug contains it.
func (s *Service) List(ctx context.Context, q string, limit int) ([]storage.TagCount, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	q = strings.ToLower(strings.TrimSpace(q))

	counts := make(map[int64]int64)
	for _, shard := range s.router.All() {
		shardCounts, err := shard.Posts.CountPublishedByTag(ctx)
		if err != nil {
			return nil, err
		}
		for tagID, n := range shardCounts {
			counts[tagID] += n
		}
	}
	if len(counts) == 0 {
		return []storage.TagCount{}, nil
	}

	ids := make([]int64, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	rows, err := s.tags.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]storage.TagCount, 0, len(rows))
	for _, tag := range rows {
		if q != "" && !strings.Contains(tag.Name, q) && !strings.Contains(tag.Slug, q) {
			continue
		}
		if counts[tag.ID] <= 0 {
			continue
		}
		result = append(result, storage.TagCount{Tag: tag, PostCount: counts[tag.ID]})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].PostCount != result[j].PostCount {
			return result[i].PostCount > result[j].PostCount
		}
		return result[i].Name < result[j].Name
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
