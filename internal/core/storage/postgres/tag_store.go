package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"pressd/internal/core/storage/types"
)

type tagStore struct {
	db *sql.DB
}

// NewTagStore creates a TagStore on the global connection.
func NewTagStore(db *sql.DB) types.TagStore {
	return &tagStore{db: db}
}

func (s *tagStore) GetOrCreate(ctx context.Context, name, slug string) (*types.Tag, error) {
	// The no-op DO UPDATE makes the statement return the existing row on
	// conflict, so first use and subsequent uses are a single round trip.
	var tag types.Tag
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tags (name, slug) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET slug = EXCLUDED.slug
		 RETURNING id, name, slug`,
		name, slug,
	).Scan(&tag.ID, &tag.Name, &tag.Slug)
	if err != nil {
		return nil, fmt.Errorf("get or create tag %q: %w", name, err)
	}
	return &tag, nil
}

func (s *tagStore) GetMany(ctx context.Context, ids []int64) ([]types.Tag, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryTags(ctx,
		`SELECT id, name, slug FROM tags WHERE id = ANY($1) ORDER BY name`,
		pq.Array(ids),
	)
}

func (s *tagStore) GetBySlugs(ctx context.Context, slugs []string) ([]types.Tag, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	return s.queryTags(ctx,
		`SELECT id, name, slug FROM tags WHERE slug = ANY($1) ORDER BY name`,
		pq.Array(slugs),
	)
}

func (s *tagStore) queryTags(ctx context.Context, query string, args ...any) ([]types.Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []types.Tag
	for rows.Next() {
		var tag types.Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Slug); err != nil {
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag rows: %w", err)
	}
	return tags, nil
}
