// Package services wires the application together: databases, cache, job
// queue, search, and the HTTP server, with ordered startup and shutdown.
package services

import (
	"database/sql"
	"net/http"
	"sync"

	"pressd/internal/config"
	"pressd/internal/core/cache"
	natspubsub "pressd/internal/core/pubsub/nats"
	"pressd/internal/core/storage/sharding"
	"pressd/internal/identity"
	"pressd/internal/posts"
	"pressd/internal/search"
	"pressd/internal/search/indexer"
	"pressd/internal/search/sphinx"
	"pressd/internal/tags"
)

// Manager owns the application's services and their lifecycles.
type Manager struct {
	cfg *config.Config

	globalDB *sql.DB
	shardDBs []*sql.DB
	router   *sharding.Router

	cache        cache.Store
	natsProvider *natspubsub.Provider
	scheduler    *indexer.Scheduler
	worker       *indexer.Worker
	sphinxClient *sphinx.Client

	repo    *posts.Repository
	engine  *search.Engine
	tagsSvc *tags.Service
	authSvc *identity.Service

	server *http.Server
	wg     sync.WaitGroup
}

// NewManager creates a Manager. Init must be called before Start.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg}
}

// Posts returns the post repository.
func (m *Manager) Posts() *posts.Repository {
	return m.repo
}

// Search returns the search engine.
func (m *Manager) Search() *search.Engine {
	return m.engine
}
