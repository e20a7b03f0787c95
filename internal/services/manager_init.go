package services

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	_ "github.com/lib/pq"

	"pressd/internal/core/cache"
	"pressd/internal/core/pubsub"
	natspubsub "pressd/internal/core/pubsub/nats"
	"pressd/internal/core/storage/postgres"
	"pressd/internal/core/storage/sharding"
	"pressd/internal/gateway/rest"
	"pressd/internal/identity"
	"pressd/internal/posts"
	"pressd/internal/search"
	"pressd/internal/search/indexer"
	"pressd/internal/search/sphinx"
	"pressd/internal/tags"
)

// Init builds every service in dependency order. A failure leaves the
// manager partially built; Shutdown is still safe to call.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.initStorage(ctx); err != nil {
		return err
	}

	m.cache = cache.NewRedis(m.cfg.Redis.Addr, m.cfg.Redis.Password, m.cfg.Redis.DB)
	version := cache.NewVersionCounter(m.cache)

	if err := m.initReindex(ctx); err != nil {
		return err
	}

	globalTags := postgres.NewTagStore(m.globalDB)
	lookup := postgres.NewLookupStore(m.globalDB)
	users := postgres.NewUserStore(m.globalDB)

	m.repo = posts.NewRepository(m.router, globalTags, lookup, users, version, m.scheduler)

	sphinxClient, err := sphinx.New(m.cfg.Sphinx)
	if err != nil {
		return fmt.Errorf("connect to sphinx: %w", err)
	}
	m.sphinxClient = sphinxClient

	m.engine = search.NewEngine(m.cfg.Search, m.repo, globalTags, sphinxClient, m.cache, version)
	m.tagsSvc = tags.NewService(m.router, globalTags)
	m.authSvc = identity.NewService(m.cfg.Auth, users, m.cache)

	handler := rest.NewHandler(m.repo, m.engine, m.tagsSvc, m.authSvc)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	m.server = &http.Server{
		Addr:    m.cfg.Server.Addr,
		Handler: mux,
	}

	return nil
}

// initStorage opens the global database and every shard, applies schemas and
// builds the router. Shard order follows the configured DSN order.
func (m *Manager) initStorage(ctx context.Context) error {
	global, err := openDB(ctx, m.cfg.Storage.GlobalDSN)
	if err != nil {
		return fmt.Errorf("open global database: %w", err)
	}
	m.globalDB = global
	if err := postgres.EnsureGlobalSchema(global); err != nil {
		return fmt.Errorf("apply global schema: %w", err)
	}

	shardCount := len(m.cfg.Storage.ShardDSNs)
	shards := make([]*sharding.Shard, 0, shardCount)
	for i, dsn := range m.cfg.Storage.ShardDSNs {
		db, err := openDB(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open shard %d: %w", i, err)
		}
		m.shardDBs = append(m.shardDBs, db)
		if err := postgres.EnsureShardSchema(db, i, shardCount); err != nil {
			return fmt.Errorf("apply schema on shard %d: %w", i, err)
		}
		shards = append(shards, &sharding.Shard{
			Num:   i,
			DB:    db,
			Index: sharding.IndexName(i),
			Posts: postgres.NewPostStore(db),
		})
	}

	lookup := postgres.NewLookupStore(global)
	router, err := sharding.NewRouter(shards, lookup)
	if err != nil {
		return err
	}
	m.router = router
	return nil
}

// initReindex connects the job queue and builds the debounced scheduler plus
// the rotation worker.
func (m *Manager) initReindex(ctx context.Context) error {
	provider := natspubsub.NewProvider(m.cfg.Nats.URL)
	if err := provider.Connect(); err != nil {
		return err
	}
	m.natsProvider = provider

	pub, err := provider.NewPublisher(ctx, pubsub.PublisherOptions{
		StreamName:    indexer.StreamName,
		RetryAttempts: 2,
	})
	if err != nil {
		return err
	}
	m.scheduler = indexer.NewScheduler(pub, m.cfg.Indexer.Debounce)

	consumer, err := provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:   indexer.StreamName,
		ConsumerName: "reindex-worker",
	})
	if err != nil {
		return err
	}
	runner := indexer.NewRunner(m.cfg.Indexer.Runner)
	m.worker = indexer.NewWorker(m.cfg.Indexer.Worker, consumer, runner)
	return nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
