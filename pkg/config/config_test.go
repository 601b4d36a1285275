package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "bolt", cfg.Storage.Engine)
	assert.Equal(t, 5*time.Second, cfg.Indexer.DisposeTimeout)
	assert.Equal(t, 50, cfg.Indexer.MaxErrors)
	assert.Equal(t, int64(25*1024*1024), cfg.Indexer.TempIndexMaxBytes)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
storage:
  engine: memory
indexer:
  runInMemory: true
  disposeTimeout: 2s
search:
  defaultPageSize: 10
  maxPageSize: 100
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("DIE_LOGGING_LEVEL", "debug")
	t.Setenv("DIE_REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Engine)
	assert.True(t, cfg.Indexer.RunInMemory)
	assert.Equal(t, 2*time.Second, cfg.Indexer.DisposeTimeout)
	assert.Equal(t, 10, cfg.Search.DefaultPageSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	cfg := defaultConfig()
	cfg.Storage.Engine = "leveldb"
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Search.DefaultPageSize = 5000
	assert.Error(t, cfg.Validate())
}
