package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"pressd/internal/core/storage/types"
)

type lookupStore struct {
	db *sql.DB
}

// NewLookupStore creates a LookupStore on the global connection.
func NewLookupStore(db *sql.DB) types.LookupStore {
	return &lookupStore{db: db}
}

func (s *lookupStore) Insert(ctx context.Context, e types.LookupEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO post_lookup (post_id, shard, user_id) VALUES ($1, $2, $3)`,
		e.PostID, e.Shard, e.UserID,
	)
	if err != nil {
		return fmt.Errorf("insert lookup entry for post %d: %w", e.PostID, err)
	}
	return nil
}

func (s *lookupStore) Get(ctx context.Context, postID int64) (*types.LookupEntry, error) {
	var e types.LookupEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT post_id, shard, user_id FROM post_lookup WHERE post_id = $1`,
		postID,
	).Scan(&e.PostID, &e.Shard, &e.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrPostNotFound
		}
		return nil, fmt.Errorf("get lookup entry for post %d: %w", postID, err)
	}
	return &e, nil
}

func (s *lookupStore) GetMany(ctx context.Context, postIDs []int64) ([]types.LookupEntry, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, shard, user_id FROM post_lookup WHERE post_id = ANY($1)`,
		pq.Array(postIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("get lookup entries: %w", err)
	}
	defer rows.Close()

	var entries []types.LookupEntry
	for rows.Next() {
		var e types.LookupEntry
		if err := rows.Scan(&e.PostID, &e.Shard, &e.UserID); err != nil {
			return nil, fmt.Errorf("scan lookup row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lookup rows: %w", err)
	}
	return entries, nil
}

func (s *lookupStore) Delete(ctx context.Context, postID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM post_lookup WHERE post_id = $1`, postID,
	)
	if err != nil {
		return fmt.Errorf("delete lookup entry for post %d: %w", postID, err)
	}
	return nil
}
