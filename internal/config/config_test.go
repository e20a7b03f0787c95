package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Len(t, cfg.Storage.ShardDSNs, 2)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "nats://localhost:4222", cfg.Nats.URL)
	assert.Equal(t, "127.0.0.1:9306", cfg.Sphinx.Addr)
	assert.Equal(t, 5*time.Second, cfg.Indexer.Debounce)
	assert.Equal(t, 3, cfg.Indexer.Worker.MaxDeliveries)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "posts_idx", cfg.Search.Index)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PRESSD_ADDR", ":9999")
	t.Setenv("PRESSD_SHARD_DSNS", "postgres://one, postgres://two ,postgres://three")
	t.Setenv("PRESSD_AUTH_SECRET", "from-env")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, []string{"postgres://one", "postgres://two", "postgres://three"}, cfg.Storage.ShardDSNs)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Secret = "s"
	require.NoError(t, cfg.Validate())

	cfg.Auth.Secret = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Auth.Secret = "s"
	cfg.Storage.ShardDSNs = nil
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Auth.Secret = "s"
	cfg.Indexer.Debounce = 0
	assert.Error(t, cfg.Validate())
}
