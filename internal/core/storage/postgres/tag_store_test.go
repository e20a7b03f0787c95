package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressd/internal/core/storage/types"
)

func newMockTagStore(t *testing.T) (types.TagStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTagStore(db), mock
}

func TestGetOrCreateUpserts(t *testing.T) {
	store, mock := newMockTagStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO tags (name, slug) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET slug = EXCLUDED.slug RETURNING id, name, slug",
	)).
		WithArgs("distributed systems", "distributed-systems").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug"}).
			AddRow(4, "distributed systems", "distributed-systems"))

	tag, err := store.GetOrCreate(context.Background(), "distributed systems", "distributed-systems")
	require.NoError(t, err)
	assert.Equal(t, int64(4), tag.ID)
	assert.Equal(t, "distributed-systems", tag.Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetManyEmptyInput(t *testing.T) {
	store, _ := newMockTagStore(t)
	tags, err := store.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestGetBySlugs(t *testing.T) {
	store, mock := newMockTagStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT id, name, slug FROM tags WHERE slug = ANY($1) ORDER BY name",
	)).
		WithArgs(pq.Array([]string{"go", "unknown"})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug"}).AddRow(1, "go", "go"))

	tags, err := store.GetBySlugs(context.Background(), []string{"go", "unknown"})
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "go", tags[0].Slug)
}
