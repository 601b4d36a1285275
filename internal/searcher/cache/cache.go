// Package cache keeps executed query pages in Redis. Keys carry the index
// snapshot version, so a page is never served across a commit, and commits
// also drop the index's keys eagerly.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/redis"
)

const keyPrefix = "query:"

// Backend is the key/value store pages live in. *redis.Client implements it.
type Backend interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

var _ Backend = (*pkgredis.Client)(nil)

// Page is one cached query answer.
type Page struct {
	Results []executor.Result `msgpack:"results"`
	Stats   executor.Stats    `msgpack:"stats"`
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

var _ indexer.Listener = (*QueryCache)(nil)

func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key names the page of q against version of index.
func Key(index string, version int64, q executor.Query) (string, error) {
	raw, err := msgpack.Marshal(&q)
	if err != nil {
		return "", fmt.Errorf("encoding query for cache key: %w", err)
	}
	return indexPrefix(index) + strconv.FormatInt(version, 10) + ":" +
		strconv.FormatUint(xxhash.Sum64(raw), 16), nil
}

func indexPrefix(index string) string {
	return keyPrefix + index + ":"
}

func (c *QueryCache) Get(ctx context.Context, key string) (*Page, bool) {
	data, err := c.backend.GetBytes(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var page Page
	if err := msgpack.Unmarshal(data, &page); err != nil {
		c.logger.Error("cache decode failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	c.logger.Debug("cache hit", "key", key)
	return &page, true
}

func (c *QueryCache) Set(ctx context.Context, key string, page *Page) {
	data, err := msgpack.Marshal(page)
	if err != nil {
		c.logger.Error("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page of q or computes it once, however
// many callers ask for it concurrently. The bool reports a cache hit. A
// computed page is stored under the snapshot version it was read from,
// which may be newer than version if a commit landed in between.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	index string,
	version int64,
	q executor.Query,
	compute func() (*Page, error),
) (*Page, bool, error) {
	key, err := Key(index, version, q)
	if err != nil {
		return nil, false, err
	}
	if page, ok := c.Get(ctx, key); ok {
		return page, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		page, err := compute()
		if err != nil {
			return nil, err
		}
		store := key
		if page.Stats.SnapshotVersion != version {
			if store, err = Key(index, page.Stats.SnapshotVersion, q); err != nil {
				return nil, err
			}
		}
		c.Set(ctx, store, page)
		return page, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Page), false, nil
}

// Invalidate drops every cached page of index.
func (c *QueryCache) Invalidate(ctx context.Context, index string) error {
	deleted, err := c.backend.DeletePrefix(ctx, indexPrefix(index))
	if err != nil {
		return fmt.Errorf("invalidating cache of %s: %w", index, err)
	}
	c.logger.Debug("cache invalidated", "index", index, "keys_deleted", deleted)
	return nil
}

// IndexChanged drops the pages of an index after each commit.
func (c *QueryCache) IndexChanged(ctx context.Context, index string, _ *indexer.WriteBatch) {
	if err := c.Invalidate(ctx, index); err != nil {
		c.logger.Warn("cache invalidation failed", "index", index, "error", err)
	}
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMiss()
}
