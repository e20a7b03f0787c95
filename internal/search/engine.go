// Package search implements the cached, versioned search over the sharded
// post store. Free-text requests go through the full-text index and are
// re-hydrated in relevance order; requests without query text fall back to an
// ordered relational scan. Either way the result is cached under a key that
// embeds the global search version, so writes invalidate by bumping the
// version rather than evicting anything.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"pressd/internal/core/cache"
	"pressd/internal/core/storage"
)

const (
	// MaxLimit is the page size cap.
	MaxLimit = 50

	// DefaultLimit applies when the request does not name one.
	DefaultLimit = 10
)

// Config configures the search engine.
type Config struct {
	// Index is the full-text index queried by the global search path.
	Index string `yaml:"index"`

	// CacheTTL bounds how long a cached result page lives, independent of
	// version bumps. Default 5m.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the default search configuration.
func DefaultConfig() Config {
	return Config{
		Index:    "posts_idx",
		CacheTTL: 5 * time.Minute,
	}
}

// Request is a search query as it arrives from the boundary layer.
type Request struct {
	Query    string
	Limit    int
	Page     int
	AuthorID *int64
	Tags     []string
	From     *time.Time
	To       *time.Time
}

// PostSource is the slice of the post repository the engine reads through.
type PostSource interface {
	ScanPublished(ctx context.Context, f storage.SearchFilters, limit, offset int) ([]*storage.Post, error)
	HydratePublishedByIDs(ctx context.Context, ids []int64, f storage.SearchFilters) ([]*storage.Post, error)
	SearchByUser(ctx context.Context, userID int64, q string, limit int) ([]*storage.Post, error)
}

// TagResolver resolves tag slugs to rows on the global store.
type TagResolver interface {
	GetBySlugs(ctx context.Context, slugs []string) ([]storage.Tag, error)
}

// Searcher is the full-text index service.
type Searcher interface {
	SearchIDs(ctx context.Context, index, query string, limit, offset int, f storage.SearchFilters) ([]int64, error)
}

// Engine serves cached, filtered, paginated search results.
type Engine struct {
	cfg     Config
	source  PostSource
	tags    TagResolver
	index   Searcher
	cache   cache.Store
	version *cache.VersionCounter
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, source PostSource, tags TagResolver, index Searcher, store cache.Store, version *cache.VersionCounter) *Engine {
	if cfg.Index == "" {
		cfg.Index = "posts_idx"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Engine{
		cfg:     cfg,
		source:  source,
		tags:    tags,
		index:   index,
		cache:   store,
		version: version,
	}
}

// Search runs the request, consulting the cache first. Identical requests
// within the TTL and without an intervening write return the same cached
// page.
func (e *Engine) Search(ctx context.Context, req Request) ([]*storage.Post, error) {
	norm := normalize(req)
	key := e.cacheKey(ctx, norm)

	if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		return decodePosts(raw)
	} else if err != nil {
		slog.Warn("search cache read failed", "error", err)
	}

	posts, err := e.run(ctx, norm)
	if err != nil {
		return nil, err
	}

	raw, err := encodePosts(posts)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, key, raw, e.cfg.CacheTTL); err != nil {
		slog.Warn("search cache write failed", "error", err)
	}
	return posts, nil
}

// SearchByUser is the per-user search path: no full-text index, no cache,
// just a substring match on the caller's own shard.
func (e *Engine) SearchByUser(ctx context.Context, userID int64, q string, limit int) ([]*storage.Post, error) {
	limit = clampLimit(limit)
	return e.source.SearchByUser(ctx, userID, strings.TrimSpace(q), limit)
}

func (e *Engine) run(ctx context.Context, norm normalized) ([]*storage.Post, error) {
	filters, empty, err := e.resolveFilters(ctx, norm)
	if err != nil {
		return nil, err
	}
	if empty {
		return []*storage.Post{}, nil
	}
	posts, err := e.strategyFor(norm, filters).run(ctx)
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []*storage.Post{}
	}
	return posts, nil
}

// strategyFor selects the query plan: an ordered relational scan when there
// is no query text, the full-text path otherwise.
func (e *Engine) strategyFor(norm normalized, f storage.SearchFilters) strategy {
	if norm.query == "" {
		return &scanStrategy{
			source: e.source,
			f:      f,
			limit:  norm.limit,
			offset: norm.offset,
		}
	}
	return &fulltextStrategy{
		source: e.source,
		index:  e.index,
		name:   e.cfg.Index,
		query:  norm.query,
		f:      f,
		limit:  norm.limit,
		offset: norm.offset,
	}
}

// resolveFilters translates tag slugs to IDs. The second result reports that
// the filters cannot match anything (every requested tag is unknown), which
// short-circuits to an empty page.
func (e *Engine) resolveFilters(ctx context.Context, norm normalized) (storage.SearchFilters, bool, error) {
	f := storage.SearchFilters{
		AuthorID: norm.authorID,
		From:     norm.from,
		To:       norm.to,
	}
	if len(norm.slugs) == 0 {
		return f, false, nil
	}
	tags, err := e.tags.GetBySlugs(ctx, norm.slugs)
	if err != nil {
		return f, false, err
	}
	if len(tags) == 0 {
		return f, true, nil
	}
	f.TagIDs = make([]int64, len(tags))
	for i, t := range tags {
		f.TagIDs[i] = t.ID
	}
	return f, false, nil
}

type strategy interface {
	run(ctx context.Context) ([]*storage.Post, error)
}

// scanStrategy is the filter-only plan: published posts on the default shard,
// ordered by published_at descending then id descending for deterministic
// pagination.
type scanStrategy struct {
	source PostSource
	f      storage.SearchFilters
	limit  int
	offset int
}

func (s *scanStrategy) run(ctx context.Context) ([]*storage.Post, error) {
	return s.source.ScanPublished(ctx, s.f, s.limit, s.offset)
}

// fulltextStrategy delegates ranking to the index and re-hydrates rows from
// the owning shards in exactly the id order the index returned. Tag filters
// are applied relationally during hydration; the index has no tag attributes.
type fulltextStrategy struct {
	source PostSource
	index  Searcher
	name   string
	query  string
	f      storage.SearchFilters
	limit  int
	offset int
}

func (s *fulltextStrategy) run(ctx context.Context) ([]*storage.Post, error) {
	ids, err := s.index.SearchIDs(ctx, s.name, s.query, s.limit, s.offset, s.f)
	if err != nil {
		return nil, err
	}
	return s.source.HydratePublishedByIDs(ctx, ids, s.f)
}

type normalized struct {
	query    string
	limit    int
	page     int
	offset   int
	authorID *int64
	slugs    []string
	from     *time.Time
	to       *time.Time
}

func normalize(req Request) normalized {
	limit := clampLimit(req.Limit)
	page := req.Page
	if page < 1 {
		page = 1
	}

	slugSet := make(map[string]struct{})
	var slugs []string
	for _, name := range req.Tags {
		s := slug.Make(strings.TrimSpace(name))
		if s == "" {
			continue
		}
		if _, ok := slugSet[s]; ok {
			continue
		}
		slugSet[s] = struct{}{}
		slugs = append(slugs, s)
	}
	// Sorted so that equal tag sets produce equal cache keys.
	sort.Strings(slugs)

	return normalized{
		query:    strings.ToLower(strings.TrimSpace(req.Query)),
		limit:    limit,
		page:     page,
		offset:   (page - 1) * limit,
		authorID: req.AuthorID,
		slugs:    slugs,
		from:     req.From,
		to:       req.To,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// cacheKey embeds the version read at request time. Bumping the version makes
// every key minted before the bump unreachable; stale entries just age out of
// the store's TTL eviction.
func (e *Engine) cacheKey(ctx context.Context, norm normalized) string {
	author := "-"
	if norm.authorID != nil {
		author = fmt.Sprintf("%d", *norm.authorID)
	}
	from, to := "-", "-"
	if norm.from != nil {
		from = norm.from.UTC().Format(time.RFC3339)
	}
	if norm.to != nil {
		to = norm.to.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("search:v%d:q=%s:limit=%d:page=%d:author=%s:tags=%s:from=%s:to=%s",
		e.version.Current(ctx), norm.query, norm.limit, norm.page,
		author, strings.Join(norm.slugs, ","), from, to)
}

func encodePosts(posts []*storage.Post) (string, error) {
	data, err := json.Marshal(posts)
	if err != nil {
		return "", fmt.Errorf("encode search results: %w", err)
	}
	return string(data), nil
}

func decodePosts(raw string) ([]*storage.Post, error) {
	var posts []*storage.Post
	if err := json.Unmarshal([]byte(raw), &posts); err != nil {
		return nil, fmt.Errorf("decode cached search results: %w", err)
	}
	return posts, nil
}
