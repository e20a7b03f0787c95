package types

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrTagNotFound  = errors.New("tag not found")
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// PostStatus is the publication state of a post.
type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusPublished PostStatus = "published"
)

// Valid reports whether s is a known publication state.
func (s PostStatus) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

// Post is a blog post row. A post lives on exactly one shard, chosen at
// creation time by the owning user's identifier, and never moves.
type Post struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Status      PostStatus `json:"status"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"`

	// Hydrated relations. Author lives on the global store, tag names are
	// global while the associations are shard-local.
	Author *Author `json:"author,omitempty"`
	Tags   []Tag   `json:"tags"`
}

// Author is the subset of a user hydrated into post responses.
type Author struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Tag is a globally unique, normalized label. Names are stored trimmed and
// lowercased; the slug is the URL-safe form derived from the name.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// TagCount is a tag together with its published-post count.
type TagCount struct {
	Tag
	PostCount int64 `json:"post_count"`
}

// LookupEntry maps a post identifier to the shard that owns it. Entries are
// created with the post and never updated; a post never changes shards.
type LookupEntry struct {
	PostID int64
	Shard  int
	UserID int64
}

// User is an account row on the global store.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SearchFilters are the structured narrowing clauses shared by the scan and
// full-text search paths. Tag slugs are resolved to IDs before the filters
// reach a shard store, since tag rows live on the global store.
type SearchFilters struct {
	AuthorID *int64
	TagIDs   []int64
	From     *time.Time
	To       *time.Time
}

// Empty reports whether no filter clause is set.
func (f SearchFilters) Empty() bool {
	return f.AuthorID == nil && len(f.TagIDs) == 0 && f.From == nil && f.To == nil
}

// PostStore is the per-shard post storage. Implementations run each mutation
// inside a transaction on that shard's connection.
type PostStore interface {
	// Create inserts the post and its tag associations, assigning ID,
	// CreatedAt and UpdatedAt from the shard's sequence and clock.
	Create(ctx context.Context, post *Post, tagIDs []int64) error

	// Update rewrites the post row. A nil tagIDs leaves the associations
	// untouched; a non-nil (possibly empty) set replaces them entirely.
	Update(ctx context.Context, post *Post, tagIDs *[]int64) error

	// MarkDeleted soft-deletes the post. Returns ErrPostNotFound if the post
	// does not exist or is already deleted.
	MarkDeleted(ctx context.Context, id int64, at time.Time) error

	// Restore clears the soft-delete marker. Returns ErrPostNotFound if the
	// post does not exist or is not deleted.
	Restore(ctx context.Context, id int64) error

	// Get returns the post row, excluding soft-deleted rows.
	Get(ctx context.Context, id int64) (*Post, error)

	// ListByUser returns the user's posts (drafts included, deleted excluded)
	// newest first.
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Post, error)

	// ListPublishedBefore returns published posts with id < beforeID in
	// descending id order. beforeID <= 0 means "from the top".
	ListPublishedBefore(ctx context.Context, beforeID int64, limit int) ([]*Post, error)

	// ScanPublished returns published posts matching the filters, ordered by
	// published_at descending then id descending.
	ScanPublished(ctx context.Context, f SearchFilters, limit, offset int) ([]*Post, error)

	// GetPublishedMany returns the published, non-deleted posts among ids that
	// still match the filters. Order is unspecified; callers reorder.
	GetPublishedMany(ctx context.Context, ids []int64, f SearchFilters) ([]*Post, error)

	// SearchSubstring is the cheap per-user search: a case-insensitive
	// substring match over title and body, newest first.
	SearchSubstring(ctx context.Context, userID int64, q string, limit int) ([]*Post, error)

	// TagIDsFor returns the tag IDs associated with each of the given posts.
	TagIDsFor(ctx context.Context, postIDs []int64) (map[int64][]int64, error)

	// CountPublishedByTag returns, per tag ID, the number of published
	// non-deleted posts on this shard carrying that tag.
	CountPublishedByTag(ctx context.Context) (map[int64]int64, error)
}

// TagStore is the global tag storage.
type TagStore interface {
	// GetOrCreate upserts a tag by its normalized name and returns the row.
	GetOrCreate(ctx context.Context, name, slug string) (*Tag, error)

	// GetMany returns the tags with the given IDs, ordered by name.
	GetMany(ctx context.Context, ids []int64) ([]Tag, error)

	// GetBySlugs returns the tags matching the given slugs. Unknown slugs are
	// simply absent from the result.
	GetBySlugs(ctx context.Context, slugs []string) ([]Tag, error)
}

// LookupStore is the global post-to-shard index.
type LookupStore interface {
	Insert(ctx context.Context, e LookupEntry) error

	// Get returns the entry for the post, or ErrPostNotFound.
	Get(ctx context.Context, postID int64) (*LookupEntry, error)

	// GetMany returns the entries that exist for the given post IDs.
	GetMany(ctx context.Context, postIDs []int64) ([]LookupEntry, error)

	// Delete removes an entry. Only exercised when a post row is permanently
	// purged, which soft-delete never does.
	Delete(ctx context.Context, postID int64) error
}

// UserStore is the global account storage.
type UserStore interface {
	// Create inserts the user, assigning ID and timestamps. Returns
	// ErrUserExists when the email is taken.
	Create(ctx context.Context, user *User) error

	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetAuthors returns the (id, name) projections for the given user IDs.
	GetAuthors(ctx context.Context, ids []int64) ([]Author, error)
}
