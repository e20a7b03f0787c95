package posts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressd/internal/core/cache"
	"pressd/internal/core/storage"
	"pressd/internal/core/storage/sharding"
)

// fakePostStore mimics one shard: offset sequences so IDs stay globally
// unique across shards, soft deletes, tag associations.
type fakePostStore struct {
	mu     sync.Mutex
	nextID int64
	step   int64
	posts  map[int64]*storage.Post
	tags   map[int64][]int64

	// lastUpdateTags records the tagIDs argument of the last Update call,
	// to observe the nil-versus-empty distinction.
	lastUpdateTags    *[]int64
	lastUpdateTagsSet bool
}

func newFakePostStore(shard, shardCount int) *fakePostStore {
	return &fakePostStore{
		nextID: int64(shard + 1),
		step:   int64(shardCount),
		posts:  make(map[int64]*storage.Post),
		tags:   make(map[int64][]int64),
	}
}

func (s *fakePostStore) Create(_ context.Context, post *storage.Post, tagIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	post.ID = s.nextID
	s.nextID += s.step
	post.CreatedAt = time.Now()
	post.UpdatedAt = post.CreatedAt
	clone := *post
	s.posts[post.ID] = &clone
	s.tags[post.ID] = append([]int64(nil), tagIDs...)
	return nil
}

func (s *fakePostStore) Update(_ context.Context, post *storage.Post, tagIDs *[]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdateTags = tagIDs
	s.lastUpdateTagsSet = true
	existing, ok := s.posts[post.ID]
	if !ok || existing.DeletedAt != nil {
		return storage.ErrPostNotFound
	}
	post.UpdatedAt = time.Now()
	clone := *post
	clone.DeletedAt = existing.DeletedAt
	s.posts[post.ID] = &clone
	if tagIDs != nil {
		s.tags[post.ID] = append([]int64(nil), (*tagIDs)...)
	}
	return nil
}

func (s *fakePostStore) MarkDeleted(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok || p.DeletedAt != nil {
		return storage.ErrPostNotFound
	}
	p.DeletedAt = &at
	return nil
}

func (s *fakePostStore) Restore(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok || p.DeletedAt == nil {
		return storage.ErrPostNotFound
	}
	p.DeletedAt = nil
	return nil
}

func (s *fakePostStore) Get(_ context.Context, id int64) (*storage.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok || p.DeletedAt != nil {
		return nil, storage.ErrPostNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *fakePostStore) ListByUser(_ context.Context, userID int64, limit, offset int) ([]*storage.Post, error) {
	var out []*storage.Post
	for _, p := range s.sorted() {
		if p.UserID == userID && p.DeletedAt == nil {
			clone := *p
			out = append(out, &clone)
		}
	}
	return page(out, limit, offset), nil
}

func (s *fakePostStore) ListPublishedBefore(_ context.Context, beforeID int64, limit int) ([]*storage.Post, error) {
	var out []*storage.Post
	for _, p := range s.sorted() {
		if p.Status != storage.StatusPublished || p.DeletedAt != nil {
			continue
		}
		if beforeID > 0 && p.ID >= beforeID {
			continue
		}
		clone := *p
		out = append(out, &clone)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakePostStore) ScanPublished(_ context.Context, f storage.SearchFilters, limit, offset int) ([]*storage.Post, error) {
	var out []*storage.Post
	for _, p := range s.sorted() {
		if p.Status != storage.StatusPublished || p.DeletedAt != nil {
			continue
		}
		if f.AuthorID != nil && p.UserID != *f.AuthorID {
			continue
		}
		clone := *p
		out = append(out, &clone)
	}
	return page(out, limit, offset), nil
}

func (s *fakePostStore) GetPublishedMany(_ context.Context, ids []int64, _ storage.SearchFilters) ([]*storage.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.Post
	for _, id := range ids {
		if p, ok := s.posts[id]; ok && p.Status == storage.StatusPublished && p.DeletedAt == nil {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *fakePostStore) SearchSubstring(_ context.Context, userID int64, q string, limit int) ([]*storage.Post, error) {
	var out []*storage.Post
	for _, p := range s.sorted() {
		if p.UserID != userID || p.DeletedAt != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(p.Title), strings.ToLower(q)) &&
			!strings.Contains(strings.ToLower(p.Body), strings.ToLower(q)) {
			continue
		}
		clone := *p
		out = append(out, &clone)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakePostStore) TagIDsFor(_ context.Context, postIDs []int64) (map[int64][]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64][]int64)
	for _, id := range postIDs {
		if ids, ok := s.tags[id]; ok {
			out[id] = append([]int64(nil), ids...)
		}
	}
	return out, nil
}

func (s *fakePostStore) CountPublishedByTag(_ context.Context) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[int64]int64)
	for id, p := range s.posts {
		if p.Status != storage.StatusPublished || p.DeletedAt != nil {
			continue
		}
		for _, tagID := range s.tags[id] {
			counts[tagID]++
		}
	}
	return counts, nil
}

func (s *fakePostStore) sorted() []*storage.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.Post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func page(posts []*storage.Post, limit, offset int) []*storage.Post {
	if offset >= len(posts) {
		return nil
	}
	posts = posts[offset:]
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts
}

type fakeTagStore struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]storage.Tag
}

func newFakeTagStore() *fakeTagStore {
	return &fakeTagStore{byName: make(map[string]storage.Tag)}
}

func (s *fakeTagStore) GetOrCreate(_ context.Context, name, slug string) (*storage.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tag, ok := s.byName[name]; ok {
		return &tag, nil
	}
	s.nextID++
	tag := storage.Tag{ID: s.nextID, Name: name, Slug: slug}
	s.byName[name] = tag
	return &tag, nil
}

func (s *fakeTagStore) GetMany(_ context.Context, ids []int64) ([]storage.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []storage.Tag
	for _, tag := range s.byName {
		if _, ok := want[tag.ID]; ok {
			out = append(out, tag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeTagStore) GetBySlugs(_ context.Context, slugs []string) ([]storage.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Tag
	for _, tag := range s.byName {
		for _, slug := range slugs {
			if tag.Slug == slug {
				out = append(out, tag)
			}
		}
	}
	return out, nil
}

type fakeLookupStore struct {
	mu      sync.Mutex
	entries map[int64]storage.LookupEntry
}

func newFakeLookupStore() *fakeLookupStore {
	return &fakeLookupStore{entries: make(map[int64]storage.LookupEntry)}
}

func (s *fakeLookupStore) Insert(_ context.Context, e storage.LookupEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.PostID] = e
	return nil
}

func (s *fakeLookupStore) Get(_ context.Context, postID int64) (*storage.LookupEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[postID]
	if !ok {
		return nil, storage.ErrPostNotFound
	}
	return &e, nil
}

func (s *fakeLookupStore) GetMany(_ context.Context, postIDs []int64) ([]storage.LookupEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.LookupEntry
	for _, id := range postIDs {
		if e, ok := s.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeLookupStore) Delete(_ context.Context, postID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, postID)
	return nil
}

type fakeUserStore struct {
	users map[int64]storage.User
}

func (s *fakeUserStore) Create(_ context.Context, user *storage.User) error {
	s.users[user.ID] = *user
	return nil
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*storage.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			clone := u
			return &clone, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (s *fakeUserStore) GetByID(_ context.Context, id int64) (*storage.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := u
	return &clone, nil
}

func (s *fakeUserStore) GetAuthors(_ context.Context, ids []int64) ([]storage.Author, error) {
	var out []storage.Author
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, storage.Author{ID: u.ID, Name: u.Name})
		}
	}
	return out, nil
}

type fakeScheduler struct {
	mu      sync.Mutex
	indexes []string
}

func (s *fakeScheduler) Schedule(index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = append(s.indexes, index)
}

func (s *fakeScheduler) scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.indexes...)
}

type repoFixture struct {
	repo      *Repository
	shards    []*fakePostStore
	lookup    *fakeLookupStore
	tags      *fakeTagStore
	users     *fakeUserStore
	store     *cache.Memory
	scheduler *fakeScheduler
}

func newRepoFixture(t *testing.T, shardCount int) *repoFixture {
	t.Helper()

	fakes := make([]*fakePostStore, shardCount)
	shards := make([]*sharding.Shard, shardCount)
	for i := 0; i < shardCount; i++ {
		fakes[i] = newFakePostStore(i, shardCount)
		shards[i] = &sharding.Shard{Num: i, Index: sharding.IndexName(i), Posts: fakes[i]}
	}

	lookup := newFakeLookupStore()
	router, err := sharding.NewRouter(shards, lookup)
	require.NoError(t, err)

	tags := newFakeTagStore()
	users := &fakeUserStore{users: map[int64]storage.User{
		2: {ID: 2, Name: "ada", Email: "ada@example.com"},
		3: {ID: 3, Name: "grace", Email: "grace@example.com"},
	}}
	store := cache.NewMemory()
	scheduler := &fakeScheduler{}

	repo := NewRepository(router, tags, lookup, users, cache.NewVersionCounter(store), scheduler)
	return &repoFixture{
		repo:      repo,
		shards:    fakes,
		lookup:    lookup,
		tags:      tags,
		users:     users,
		store:     store,
		scheduler: scheduler,
	}
}

func (f *repoFixture) version(t *testing.T) int64 {
	t.Helper()
	n, err := f.store.GetInt(context.Background(), "search:version")
	require.NoError(t, err)
	return n
}

func TestCreateDefaultsToDraft(t *testing.T) {
	f := newRepoFixture(t, 2)

	post, err := f.repo.Create(context.Background(), 2, CreateInput{Title: "t", Body: "b"})
	require.NoError(t, err)

	assert.Equal(t, storage.StatusDraft, post.Status)
	assert.Nil(t, post.PublishedAt)
	assert.Equal(t, "ada", post.Author.Name)
}

func TestCreatePublishedRoutesAndIndexes(t *testing.T) {
	f := newRepoFixture(t, 2)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.repo.SetClock(func() time.Time { return now })

	post, err := f.repo.Create(context.Background(), 3, CreateInput{
		Title:  "sharded systems",
		Body:   "body",
		Status: storage.StatusPublished,
	})
	require.NoError(t, err)

	// User 3 of 2 shards lands on shard 1.
	require.NotNil(t, post.PublishedAt)
	assert.Equal(t, now, *post.PublishedAt)
	assert.Len(t, f.shards[1].posts, 1)
	assert.Empty(t, f.shards[0].posts)

	entry, err := f.lookup.Get(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Shard)
	assert.Equal(t, int64(3), entry.UserID)

	assert.Equal(t, []string{"posts_idx_shard_1"}, f.scheduler.scheduled())
	assert.Equal(t, int64(1), f.version(t))
}

func TestCreateInvalidStatus(t *testing.T) {
	f := newRepoFixture(t, 2)
	_, err := f.repo.Create(context.Background(), 2, CreateInput{Title: "t", Body: "b", Status: "archived"})
	assert.Error(t, err)
}

func TestCreateNormalizesTags(t *testing.T) {
	f := newRepoFixture(t, 2)

	post, err := f.repo.Create(context.Background(), 2, CreateInput{
		Title: "t", Body: "b",
		Tags: []string{" Go ", "go", "Distributed Systems"},
	})
	require.NoError(t, err)

	require.Len(t, post.Tags, 2)
	assert.Equal(t, "go", post.Tags[0].Name)
	assert.Equal(t, "distributed systems", post.Tags[1].Name)
	assert.Equal(t, "distributed-systems", post.Tags[1].Slug)
}

func TestUpdatePublishStampsOnce(t *testing.T) {
	f := newRepoFixture(t, 2)
	ctx := context.Background()

	t1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.repo.SetClock(func() time.Time { return t1 })
	post, err := f.repo.Create(ctx, 2, CreateInput{Title: "t", Body: "b", Status: storage.StatusPublished})
	require.NoError(t, err)

	// Re-publishing later must keep the original timestamp.
	t2 := t1.Add(48 * time.Hour)
	f.repo.SetClock(func() time.Time { return t2 })
	published := storage.StatusPublished
	updated, err := f.repo.Update(ctx, post.ID, UpdateInput{Status: &published})
	require.NoError(t, err)
	require.NotNil(t, updated.PublishedAt)
	assert.Equal(t, t1, *updated.PublishedAt)

	// Unpublishing clears it; publishing again stamps fresh.
	draft := storage.StatusDraft
	updated, err = f.repo.Update(ctx, post.ID, UpdateInput{Status: &draft})
	require.NoError(t, err)
	assert.Nil(t, updated.PublishedAt)

	t3 := t2.Add(time.Hour)
	f.repo.SetClock(func() time.Time { return t3 })
	updated, err = f.repo.Update(ctx, post.ID, UpdateInput{Status: &published})
	require.NoError(t, err)
	require.NotNil(t, updated.PublishedAt)
	assert.Equal(t, t3, *updated.PublishedAt)
}

func TestUpdateTagSemantics(t *testing.T) {
	f := newRepoFixture(t, 2)
	ctx := context.Background()

	post, err := f.repo.Create(ctx, 2, CreateInput{Title: "t", Body: "b", Tags: []string{"go"}})
	require.NoError(t, err)
	shard := f.shards[0]

	// Omitted tags leave the associations untouched.
	title := "new title"
	_, err = f.repo.Update(ctx, post.ID, UpdateInput{Title: &title})
	require.NoError(t, err)
	require.True(t, shard.lastUpdateTagsSet)
	assert.Nil(t, shard.lastUpdateTags)
	assert.Len(t, shard.tags[post.ID], 1)

	// An explicit empty set clears them.
	empty := []string{}
	updated, err := f.repo.Update(ctx, post.ID, UpdateInput{Tags: &empty})
	require.NoError(t, err)
	require.NotNil(t, shard.lastUpdateTags)
	assert.Empty(t, *shard.lastUpdateTags)
	assert.Empty(t, shard.tags[post.ID])
	assert.Empty(t, updated.Tags)
}

func TestUpdateMissingPost(t *testing.T) {
	f := newRepoFixture(t, 2)
	title := "x"
	_, err := f.repo.Update(context.Background(), 999, UpdateInput{Title: &title})
	assert.ErrorIs(t, err, storage.ErrPostNotFound)
}

func TestDeleteAndRestore(t *testing.T) {
	f := newRepoFixture(t, 2)
	ctx := context.Background()

	post, err := f.repo.Create(ctx, 2, CreateInput{Title: "t", Body: "b", Status: storage.StatusPublished})
	require.NoError(t, err)

	require.NoError(t, f.repo.Delete(ctx, post.ID))
	_, err = f.repo.FindByID(ctx, post.ID)
	assert.ErrorIs(t, err, storage.ErrPostNotFound)

	// Ownership still resolves for the deleted post via the lookup index.
	owner, err := f.repo.Owner(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), owner)

	restored, err := f.repo.Restore(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, post.ID, restored.ID)

	// Create, delete and restore each invalidate.
	assert.Equal(t, int64(3), f.version(t))
	assert.Len(t, f.scheduler.scheduled(), 3)
}

func TestOwnerMissing(t *testing.T) {
	f := newRepoFixture(t, 2)
	_, err := f.repo.Owner(context.Background(), 404)
	assert.ErrorIs(t, err, storage.ErrPostNotFound)
}

func TestHydratePublishedByIDsPreservesOrder(t *testing.T) {
	f := newRepoFixture(t, 2)
	ctx := context.Background()

	// Interleave posts across both shards.
	a, err := f.repo.Create(ctx, 2, CreateInput{Title: "a", Body: "b", Status: storage.StatusPublished})
	require.NoError(t, err)
	b, err := f.repo.Create(ctx, 3, CreateInput{Title: "b", Body: "b", Status: storage.StatusPublished})
	require.NoError(t, err)
	c, err := f.repo.Create(ctx, 2, CreateInput{Title: "c", Body: "b", Status: storage.StatusPublished})
	require.NoError(t, err)

	ids := []int64{c.ID, a.ID, b.ID}
	posts, err := f.repo.HydratePublishedByIDs(ctx, ids, storage.SearchFilters{})
	require.NoError(t, err)

	require.Len(t, posts, 3)
	assert.Equal(t, c.ID, posts[0].ID)
	assert.Equal(t, a.ID, posts[1].ID)
	assert.Equal(t, b.ID, posts[2].ID)
}

func TestHydratePublishedByIDsDropsVanished(t *testing.T) {
	f := newRepoFixture(t, 2)
	ctx := context.Background()

	a, err := f.repo.Create(ctx, 2, CreateInput{Title: "a", Body: "b", Status: storage.StatusPublished})
	require.NoError(t, err)
	b, err := f.repo.Create(ctx, 2, CreateInput{Title: "b", Body: "b", Status: storage.StatusPublished})
	require.NoError(t, err)
	require.NoError(t, f.repo.Delete(ctx, b.ID))

	posts, err := f.repo.HydratePublishedByIDs(ctx, []int64{b.ID, a.ID, 12345}, storage.SearchFilters{})
	require.NoError(t, err)

	require.Len(t, posts, 1)
	assert.Equal(t, a.ID, posts[0].ID)
}

func TestListPublishedCursor(t *testing.T) {
	f := newRepoFixture(t, 2)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		p, err := f.repo.Create(ctx, 2, CreateInput{Title: "t", Body: "b", Status: storage.StatusPublished})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	page1, next, err := f.repo.ListPublished(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, ids[2], page1[0].ID)
	assert.Equal(t, ids[1], page1[1].ID)
	assert.Equal(t, ids[1], next)

	page2, next, err := f.repo.ListPublished(ctx, next, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, ids[0], page2[0].ID)
	assert.Zero(t, next)
}

func TestNormalizeTagNames(t *testing.T) {
	got := NormalizeTagNames([]string{" Go ", "go", "", "  ", "SQL", "sql"})
	assert.Equal(t, []string{"go", "sql"}, got)
}
