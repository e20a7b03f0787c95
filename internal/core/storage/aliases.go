// Package storage re-exports the storage model so that callers outside the
// storage tree import a single package.
package storage

import (
	"pressd/internal/core/storage/types"
)

type Post = types.Post
type PostStatus = types.PostStatus
type Author = types.Author
type Tag = types.Tag
type TagCount = types.TagCount
type LookupEntry = types.LookupEntry
type User = types.User
type SearchFilters = types.SearchFilters
type PostStore = types.PostStore
type TagStore = types.TagStore
type LookupStore = types.LookupStore
type UserStore = types.UserStore

const (
	StatusDraft     = types.StatusDraft
	StatusPublished = types.StatusPublished
)

var (
	ErrPostNotFound = types.ErrPostNotFound
	ErrTagNotFound  = types.ErrTagNotFound
	ErrUserNotFound = types.ErrUserNotFound
	ErrUserExists   = types.ErrUserExists
)
