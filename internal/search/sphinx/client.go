// Package sphinx queries the full-text index daemon over SphinxQL, the
// MySQL-protocol dialect spoken by Sphinx and Manticore. The daemon is only
// ever read here; index data is rebuilt out of band by the indexer binary.
package sphinx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"pressd/internal/core/storage/types"
)

// Config configures the SphinxQL connection.
type Config struct {
	// Addr is the daemon's SphinxQL listener, host:port. Default
	// 127.0.0.1:9306.
	Addr string `yaml:"addr"`

	// SearchIndex is the index searched by the global search path. With
	// per-shard indexes this is the distributed index aggregating them.
	SearchIndex string `yaml:"search_index"`
}

// DefaultConfig returns the default SphinxQL configuration.
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:9306",
		SearchIndex: "posts_idx",
	}
}

// Client issues SphinxQL queries.
type Client struct {
	db *sql.DB
}

// New opens a SphinxQL connection pool. The daemon does not support
// server-side prepared statements, so parameters are interpolated
// client-side.
func New(cfg Config) (*Client, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:9306"
	}
	dsn := fmt.Sprintf("tcp(%s)/?interpolateParams=true", addr)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sphinxql connection: %w", err)
	}
	db.SetConnMaxIdleTime(time.Minute)
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing handle, mainly for tests.
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// SearchIDs runs a full-text match over the named index and returns post
// identifiers in the engine's relevance order. Author and date filters are
// pushed down as attribute clauses; tag filters are not (the index carries no
// tag attributes), callers narrow those relationally.
func (c *Client) SearchIDs(ctx context.Context, index, query string, limit, offset int, f types.SearchFilters) ([]int64, error) {
	var sb strings.Builder
	sb.WriteString("SELECT id FROM ")
	sb.WriteString(index)
	sb.WriteString(" WHERE MATCH(?) AND is_published = 1")
	args := []any{escapeMatch(query)}

	if f.AuthorID != nil {
		sb.WriteString(" AND user_id = ?")
		args = append(args, *f.AuthorID)
	}
	if f.From != nil {
		sb.WriteString(" AND published_ts >= ?")
		args = append(args, f.From.Unix())
	}
	if f.To != nil {
		sb.WriteString(" AND published_ts <= ?")
		args = append(args, f.To.Unix())
	}

	sb.WriteString(" LIMIT ?, ?")
	args = append(args, offset, limit)

	rows, err := c.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sphinxql search on %s: %w", index, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sphinxql row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sphinxql rows: %w", err)
	}
	return ids, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// escapeMatch neutralizes the extended match syntax so user input is matched
// as plain words.
var matchEscaper = strings.NewReplacer(
	`\`, `\\`, `(`, `\(`, `)`, `\)`, `|`, `\|`, `-`, `\-`,
	`!`, `\!`, `@`, `\@`, `~`, `\~`, `"`, `\"`, `&`, `\&`,
	`/`, `\/`, `^`, `\^`, `$`, `\$`, `=`, `\=`, `<`, `\<`,
)

func escapeMatch(q string) string {
	return matchEscaper.Replace(q)
}
