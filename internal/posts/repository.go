// Package posts implements the sharded post repository: every mutation runs
// on the shard owning the post, keeps the global lookup index in step, bumps
// the search version and schedules a reindex of the shard's full-text index.
package posts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"pressd/internal/core/cache"
	"pressd/internal/core/storage"
	"pressd/internal/core/storage/sharding"
)

// ReindexScheduler requests a deferred rebuild of a full-text index.
type ReindexScheduler interface {
	Schedule(index string)
}

// CreateInput is the payload for Create.
type CreateInput struct {
	Title  string
	Body   string
	Status storage.PostStatus
	Tags   []string
}

// UpdateInput is the payload for Update. Nil fields keep their prior value.
// Tags distinguishes "not provided" (nil, associations untouched) from
// "provided empty" (clear all associations).
type UpdateInput struct {
	Title  *string
	Body   *string
	Status *storage.PostStatus
	Tags   *[]string
}

// Repository coordinates the sharded post stores with the global tag, lookup
// and user stores.
type Repository struct {
	router  *sharding.Router
	tags    storage.TagStore
	lookup  storage.LookupStore
	users   storage.UserStore
	version *cache.VersionCounter
	reindex ReindexScheduler
	now     func() time.Time
}

// NewRepository creates a Repository.
func NewRepository(
	router *sharding.Router,
	tags storage.TagStore,
	lookup storage.LookupStore,
	users storage.UserStore,
	version *cache.VersionCounter,
	reindex ReindexScheduler,
) *Repository {
	return &Repository{
		router:  router,
		tags:    tags,
		lookup:  lookup,
		users:   users,
		version: version,
		reindex: reindex,
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// Create inserts a post on the shard owned by userID and records its lookup
// entry. The post insert and the lookup insert are separate writes on
// separate stores; a crash between them leaves the post unreachable by id.
// That window is a known gap of this design, not reconciled here.
func (r *Repository) Create(ctx context.Context, userID int64, in CreateInput) (*storage.Post, error) {
	status := in.Status
	if status == "" {
		status = storage.StatusDraft
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid post status %q", status)
	}

	post := &storage.Post{
		UserID: userID,
		Title:  in.Title,
		Body:   in.Body,
		Status: status,
	}
	if status == storage.StatusPublished {
		now := r.now()
		post.PublishedAt = &now
	}

	tagRows, tagIDs, err := r.resolveTags(ctx, in.Tags)
	if err != nil {
		return nil, err
	}

	shard := r.router.For(userID)
	if err := shard.Posts.Create(ctx, post, tagIDs); err != nil {
		return nil, err
	}

	if err := r.lookup.Insert(ctx, storage.LookupEntry{
		PostID: post.ID,
		Shard:  shard.Num,
		UserID: userID,
	}); err != nil {
		return nil, fmt.Errorf("post %d created on shard %d but lookup insert failed: %w",
			post.ID, shard.Num, err)
	}

	r.invalidate(ctx, shard)

	post.Tags = tagRows
	if err := r.attachAuthors(ctx, []*storage.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

// Update applies a partial update on the shard that already owns the post.
// Ownership routing never changes on update.
func (r *Repository) Update(ctx context.Context, postID int64, in UpdateInput) (*storage.Post, error) {
	shard, err := r.router.ForPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	post, err := shard.Posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		post.Title = *in.Title
	}
	if in.Body != nil {
		post.Body = *in.Body
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, fmt.Errorf("invalid post status %q", *in.Status)
		}
		post.Status = *in.Status
	}

	// Publishing stamps the timestamp once; re-publishing keeps the original.
	// Moving out of published clears it.
	if post.Status == storage.StatusPublished {
		if post.PublishedAt == nil {
			now := r.now()
			post.PublishedAt = &now
		}
	} else {
		post.PublishedAt = nil
	}

	var (
		tagIDs  *[]int64
		tagRows []storage.Tag
	)
	if in.Tags != nil {
		rows, ids, err := r.resolveTags(ctx, *in.Tags)
		if err != nil {
			return nil, err
		}
		tagRows = rows
		tagIDs = &ids
	}

	if err := shard.Posts.Update(ctx, post, tagIDs); err != nil {
		return nil, err
	}

	r.invalidate(ctx, shard)

	if in.Tags != nil {
		post.Tags = tagRows
		if err := r.attachAuthors(ctx, []*storage.Post{post}); err != nil {
			return nil, err
		}
		return post, nil
	}
	if err := r.hydrate(ctx, shard, []*storage.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

// Delete soft-deletes the post on its shard.
func (r *Repository) Delete(ctx context.Context, postID int64) error {
	shard, err := r.router.ForPost(ctx, postID)
	if err != nil {
		return err
	}
	if err := shard.Posts.MarkDeleted(ctx, postID, r.now()); err != nil {
		return err
	}
	r.invalidate(ctx, shard)
	return nil
}

// Restore clears the soft-delete marker.
func (r *Repository) Restore(ctx context.Context, postID int64) (*storage.Post, error) {
	shard, err := r.router.ForPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := shard.Posts.Restore(ctx, postID); err != nil {
		return nil, err
	}
	r.invalidate(ctx, shard)

	post, err := shard.Posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, shard, []*storage.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

// Owner returns the post's owning user from the lookup index. Unlike
// FindByID it also answers for soft-deleted posts, which restore needs.
func (r *Repository) Owner(ctx context.Context, postID int64) (int64, error) {
	entry, err := r.lookup.Get(ctx, postID)
	if err != nil {
		return 0, err
	}
	return entry.UserID, nil
}

// FindByID resolves the post's shard through the lookup index and reads it
// there, with tags and author hydrated. Soft-deleted posts are not found.
func (r *Repository) FindByID(ctx context.Context, postID int64) (*storage.Post, error) {
	shard, err := r.router.ForPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	post, err := shard.Posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, shard, []*storage.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

// ListPublished returns published posts from the default shard in descending
// id order, with cursor pagination. The returned cursor is the id to pass as
// beforeID on the next call, or zero when the listing is exhausted.
// Cross-shard listing is a known limitation of this design.
func (r *Repository) ListPublished(ctx context.Context, beforeID int64, limit int) ([]*storage.Post, int64, error) {
	if limit <= 0 {
		limit = 10
	}
	shard := r.router.Default()
	posts, err := shard.Posts.ListPublishedBefore(ctx, beforeID, limit)
	if err != nil {
		return nil, 0, err
	}
	if err := r.hydrate(ctx, shard, posts); err != nil {
		return nil, 0, err
	}
	var next int64
	if len(posts) == limit {
		next = posts[len(posts)-1].ID
	}
	return posts, next, nil
}

// ListByUser returns the user's posts (drafts included) from their shard.
func (r *Repository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*storage.Post, error) {
	if limit <= 0 {
		limit = 15
	}
	if offset < 0 {
		offset = 0
	}
	shard := r.router.For(userID)
	posts, err := shard.Posts.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, shard, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// ScanPublished is the filter-only search path: an ordered scan of the
// default shard's published posts.
func (r *Repository) ScanPublished(ctx context.Context, f storage.SearchFilters, limit, offset int) ([]*storage.Post, error) {
	shard := r.router.Default()
	posts, err := shard.Posts.ScanPublished(ctx, f, limit, offset)
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, shard, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// HydratePublishedByIDs fetches the published posts for ids from whichever
// shards own them and returns them in exactly the order of ids. Posts that
// vanished since indexing (deleted, unpublished, dangling lookup rows) are
// silently dropped.
func (r *Repository) HydratePublishedByIDs(ctx context.Context, ids []int64, f storage.SearchFilters) ([]*storage.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	entries, err := r.lookup.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byShard := make(map[int][]int64)
	for _, e := range entries {
		if e.Shard < 0 || e.Shard >= r.router.Count() {
			slog.Warn("lookup entry points at unknown shard", "post_id", e.PostID, "shard", e.Shard)
			continue
		}
		byShard[e.Shard] = append(byShard[e.Shard], e.PostID)
	}

	found := make(map[int64]*storage.Post, len(ids))
	for shardNum, shardIDs := range byShard {
		shard := r.router.All()[shardNum]
		posts, err := shard.Posts.GetPublishedMany(ctx, shardIDs, f)
		if err != nil {
			return nil, err
		}
		if err := r.hydrate(ctx, shard, posts); err != nil {
			return nil, err
		}
		for _, p := range posts {
			found[p.ID] = p
		}
	}

	// Reassemble in the order the index ranked them.
	result := make([]*storage.Post, 0, len(found))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// SearchByUser is the cheap "my posts" search: a substring match on the
// user's own shard, bypassing the full-text index entirely.
func (r *Repository) SearchByUser(ctx context.Context, userID int64, q string, limit int) ([]*storage.Post, error) {
	if limit <= 0 {
		limit = 10
	}
	shard := r.router.For(userID)
	posts, err := shard.Posts.SearchSubstring(ctx, userID, strings.TrimSpace(q), limit)
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, shard, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// invalidate runs the post-commit side effects of a mutation: bump the search
// version so cached results age out, and schedule the shard's index rotation.
// Both are best effort relative to the committed write.
func (r *Repository) invalidate(ctx context.Context, shard *sharding.Shard) {
	r.version.Bump(ctx)
	if r.reindex != nil {
		r.reindex.Schedule(shard.Index)
	}
}

// resolveTags normalizes tag names (trimmed, lowercased, deduplicated, empty
// dropped) and upserts each on the global store.
func (r *Repository) resolveTags(ctx context.Context, names []string) ([]storage.Tag, []int64, error) {
	normalized := NormalizeTagNames(names)
	if len(normalized) == 0 {
		return []storage.Tag{}, []int64{}, nil
	}
	rows := make([]storage.Tag, 0, len(normalized))
	ids := make([]int64, 0, len(normalized))
	for _, name := range normalized {
		tag, err := r.tags.GetOrCreate(ctx, name, slug.Make(name))
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, *tag)
		ids = append(ids, tag.ID)
	}
	return rows, ids, nil
}

// NormalizeTagNames trims, lowercases and deduplicates tag names, preserving
// first-seen order and dropping empties.
func NormalizeTagNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// hydrate attaches tags and authors to posts from one shard, batching the
// global reads to avoid per-post fan-out.
func (r *Repository) hydrate(ctx context.Context, shard *sharding.Shard, posts []*storage.Post) error {
	if len(posts) == 0 {
		return nil
	}

	postIDs := make([]int64, len(posts))
	for i, p := range posts {
		postIDs[i] = p.ID
	}
	tagIDsByPost, err := shard.Posts.TagIDsFor(ctx, postIDs)
	if err != nil {
		return err
	}

	tagIDSet := make(map[int64]struct{})
	for _, ids := range tagIDsByPost {
		for _, id := range ids {
			tagIDSet[id] = struct{}{}
		}
	}
	allTagIDs := make([]int64, 0, len(tagIDSet))
	for id := range tagIDSet {
		allTagIDs = append(allTagIDs, id)
	}
	tags, err := r.tags.GetMany(ctx, allTagIDs)
	if err != nil {
		return err
	}
	tagByID := make(map[int64]storage.Tag, len(tags))
	for _, t := range tags {
		tagByID[t.ID] = t
	}

	for _, p := range posts {
		p.Tags = make([]storage.Tag, 0, len(tagIDsByPost[p.ID]))
		for _, id := range tagIDsByPost[p.ID] {
			if t, ok := tagByID[id]; ok {
				p.Tags = append(p.Tags, t)
			}
		}
	}

	return r.attachAuthors(ctx, posts)
}

func (r *Repository) attachAuthors(ctx context.Context, posts []*storage.Post) error {
	userIDSet := make(map[int64]struct{})
	for _, p := range posts {
		userIDSet[p.UserID] = struct{}{}
	}
	userIDs := make([]int64, 0, len(userIDSet))
	for id := range userIDSet {
		userIDs = append(userIDs, id)
	}
	authors, err := r.users.GetAuthors(ctx, userIDs)
	if err != nil {
		return err
	}
	byID := make(map[int64]storage.Author, len(authors))
	for _, a := range authors {
		byID[a.ID] = a
	}
	for _, p := range posts {
		if a, ok := byID[p.UserID]; ok {
			author := a
			p.Author = &author
		}
		if p.Tags == nil {
			p.Tags = []storage.Tag{}
		}
	}
	return nil
}
