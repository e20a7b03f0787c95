// Package postgres implements the storage interfaces on PostgreSQL via
// database/sql and lib/pq. Post rows and post_tag associations live on the
// shard databases; tags, the post lookup index and users live on the global
// database.
package postgres

import (
	"database/sql"
	"fmt"
)

// EnsureShardSchema creates the per-shard tables. The id sequence is offset by
// the shard number and strides by the shard count, so identifiers are
// monotonic per shard and globally unique without coordination.
func EnsureShardSchema(db *sql.DB, shard, shardCount int) error {
	if shardCount < 1 {
		return fmt.Errorf("shard count must be positive, got %d", shardCount)
	}
	if shard < 0 || shard >= shardCount {
		return fmt.Errorf("shard %d out of range [0,%d)", shard, shardCount)
	}

	seq := fmt.Sprintf(
		`CREATE SEQUENCE IF NOT EXISTS posts_id_seq START WITH %d INCREMENT BY %d`,
		shard+1, shardCount,
	)
	if _, err := db.Exec(seq); err != nil {
		return fmt.Errorf("create posts sequence: %w", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS posts (
    id              BIGINT PRIMARY KEY DEFAULT nextval('posts_id_seq'),
    user_id         BIGINT NOT NULL,
    title           TEXT NOT NULL,
    body            TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'published')),
    published_at    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id);
CREATE INDEX IF NOT EXISTS idx_posts_status_published_at ON posts(status, published_at);
CREATE INDEX IF NOT EXISTS idx_posts_deleted_at ON posts(deleted_at) WHERE deleted_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS post_tag (
    post_id         BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    tag_id          BIGINT NOT NULL,
    PRIMARY KEY (post_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_post_tag_tag_id ON post_tag(tag_id);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create shard schema: %w", err)
	}
	return nil
}

// EnsureGlobalSchema creates the unsharded tables: tags, the post lookup
// index and users.
func EnsureGlobalSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS tags (
    id              BIGSERIAL PRIMARY KEY,
    name            TEXT NOT NULL,
    slug            TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tags_name ON tags(name);
CREATE INDEX IF NOT EXISTS idx_tags_slug ON tags(slug);

CREATE TABLE IF NOT EXISTS post_lookup (
    post_id         BIGINT PRIMARY KEY,
    shard           SMALLINT NOT NULL,
    user_id         BIGINT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_post_lookup_shard ON post_lookup(shard);
CREATE INDEX IF NOT EXISTS idx_post_lookup_user_id ON post_lookup(user_id);

CREATE TABLE IF NOT EXISTS users (
    id              BIGSERIAL PRIMARY KEY,
    name            TEXT NOT NULL,
    email           TEXT NOT NULL,
    password_hash   TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create global schema: %w", err)
	}
	return nil
}
