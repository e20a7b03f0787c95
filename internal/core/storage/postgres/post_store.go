package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"pressd/internal/core/storage/types"
)

const postColumns = `id, user_id, title, body, status, published_at, created_at, updated_at`

type postStore struct {
	db *sql.DB
}

// NewPostStore creates a PostStore bound to one shard's connection.
func NewPostStore(db *sql.DB) types.PostStore {
	return &postStore{db: db}
}

func (s *postStore) Create(ctx context.Context, post *types.Post, tagIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO posts (user_id, title, body, status, published_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		post.UserID, post.Title, post.Body, string(post.Status), post.PublishedAt,
	).Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}

	if len(tagIDs) > 0 {
		if err := insertPostTags(ctx, tx, post.ID, tagIDs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

func (s *postStore) Update(ctx context.Context, post *types.Post, tagIDs *[]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`UPDATE posts
		 SET title = $2, body = $3, status = $4, published_at = $5, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING updated_at`,
		post.ID, post.Title, post.Body, string(post.Status), post.PublishedAt,
	).Scan(&post.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrPostNotFound
		}
		return fmt.Errorf("update post %d: %w", post.ID, err)
	}

	// nil means the caller did not supply tags at all; an empty set is an
	// explicit request to clear the associations.
	if tagIDs != nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM post_tag WHERE post_id = $1`, post.ID,
		); err != nil {
			return fmt.Errorf("clear post %d tags: %w", post.ID, err)
		}
		if len(*tagIDs) > 0 {
			if err := insertPostTags(ctx, tx, post.ID, *tagIDs); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update tx: %w", err)
	}
	return nil
}

func insertPostTags(ctx context.Context, tx *sql.Tx, postID int64, tagIDs []int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO post_tag (post_id, tag_id) SELECT $1, unnest($2::bigint[])`,
		postID, pq.Array(tagIDs),
	)
	if err != nil {
		return fmt.Errorf("insert post %d tags: %w", postID, err)
	}
	return nil
}

func (s *postStore) MarkDeleted(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("soft-delete post %d: %w", id, err)
	}
	return requireAffected(res, id)
}

func (s *postStore) Restore(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET deleted_at = NULL, updated_at = NOW() WHERE id = $1 AND deleted_at IS NOT NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("restore post %d: %w", id, err)
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for post %d: %w", id, err)
	}
	if n == 0 {
		return types.ErrPostNotFound
	}
	return nil
}

func (s *postStore) Get(ctx context.Context, id int64) (*types.Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrPostNotFound
		}
		return nil, fmt.Errorf("get post %d: %w", id, err)
	}
	return post, nil
}

func (s *postStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*types.Post, error) {
	return s.queryPosts(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE user_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
}

func (s *postStore) ListPublishedBefore(ctx context.Context, beforeID int64, limit int) ([]*types.Post, error) {
	return s.queryPosts(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE status = 'published' AND deleted_at IS NULL AND ($1 <= 0 OR id < $1)
		 ORDER BY id DESC
		 LIMIT $2`,
		beforeID, limit,
	)
}

func (s *postStore) ScanPublished(ctx context.Context, f types.SearchFilters, limit, offset int) ([]*types.Post, error) {
	where, args := filterClauses(f)
	args = append(args, limit, offset)
	query := fmt.Sprintf(
		`SELECT %s FROM posts WHERE %s ORDER BY published_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		postColumns, strings.Join(where, " AND "), len(args)-1, len(args),
	)
	return s.queryPosts(ctx, query, args...)
}

func (s *postStore) GetPublishedMany(ctx context.Context, ids []int64, f types.SearchFilters) ([]*types.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where, args := filterClauses(f)
	args = append(args, pq.Array(ids))
	where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
	query := fmt.Sprintf(
		`SELECT %s FROM posts WHERE %s`,
		postColumns, strings.Join(where, " AND "),
	)
	return s.queryPosts(ctx, query, args...)
}

// filterClauses renders the shared published-post predicate plus any
// structured filters. Placeholders are numbered from $1 in clause order.
func filterClauses(f types.SearchFilters) ([]string, []any) {
	where := []string{"status = 'published'", "deleted_at IS NULL"}
	var args []any
	if f.AuthorID != nil {
		args = append(args, *f.AuthorID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(f.TagIDs) > 0 {
		args = append(args, pq.Array(f.TagIDs))
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM post_tag pt WHERE pt.post_id = posts.id AND pt.tag_id = ANY($%d))",
			len(args),
		))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("published_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("published_at <= $%d", len(args)))
	}
	return where, args
}

func (s *postStore) SearchSubstring(ctx context.Context, userID int64, q string, limit int) ([]*types.Post, error) {
	pattern := "%" + q + "%"
	return s.queryPosts(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE user_id = $1 AND deleted_at IS NULL AND (title ILIKE $2 OR body ILIKE $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		userID, pattern, limit,
	)
}

func (s *postStore) TagIDsFor(ctx context.Context, postIDs []int64) (map[int64][]int64, error) {
	result := make(map[int64][]int64)
	if len(postIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, tag_id FROM post_tag WHERE post_id = ANY($1) ORDER BY post_id, tag_id`,
		pq.Array(postIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("load post tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var postID, tagID int64
		if err := rows.Scan(&postID, &tagID); err != nil {
			return nil, fmt.Errorf("scan post tag row: %w", err)
		}
		result[postID] = append(result[postID], tagID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post tag rows: %w", err)
	}
	return result, nil
}

func (s *postStore) CountPublishedByTag(ctx context.Context) (map[int64]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pt.tag_id, COUNT(*)
		 FROM post_tag pt
		 JOIN posts p ON p.id = pt.post_id
		 WHERE p.status = 'published' AND p.deleted_at IS NULL
		 GROUP BY pt.tag_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("count posts by tag: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var tagID, count int64
		if err := rows.Scan(&tagID, &count); err != nil {
			return nil, fmt.Errorf("scan tag count row: %w", err)
		}
		counts[tagID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag count rows: %w", err)
	}
	return counts, nil
}

func (s *postStore) queryPosts(ctx context.Context, query string, args ...any) ([]*types.Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []*types.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post row: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post rows: %w", err)
	}
	return posts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*types.Post, error) {
	var (
		post        types.Post
		status      string
		publishedAt sql.NullTime
	)
	err := row.Scan(
		&post.ID, &post.UserID, &post.Title, &post.Body, &status,
		&publishedAt, &post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	post.Status = types.PostStatus(status)
	if publishedAt.Valid {
		t := publishedAt.Time
		post.PublishedAt = &t
	}
	return &post, nil
}
