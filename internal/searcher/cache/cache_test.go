package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/executor"
)

type fakeBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte)}
}

func (f *fakeBackend) GetBytes(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (f *fakeBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeBackend) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func TestKeyDependsOnQueryAndVersion(t *testing.T) {
	q := executor.Query{Query: "Name:oren", PageSize: 10}
	k1, err := Key("Users", 1, q)
	require.NoError(t, err)
	k2, err := Key("Users", 1, q)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "query:Users:1:"))

	k3, err := Key("Users", 2, q)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	q.Start = 10
	k4, err := Key("Users", 1, q)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestGetOrComputeCachesPages(t *testing.T) {
	c := New(newFakeBackend(), time.Minute, nil)
	ctx := context.Background()
	q := executor.Query{Query: "Name:oren"}

	var calls atomic.Int32
	compute := func() (*Page, error) {
		calls.Add(1)
		return &Page{
			Results: []executor.Result{{
				Key:        "users/1",
				Score:      1.5,
				Projection: document.NewObject(document.P("Name", document.String("Oren"))),
			}},
			Stats: executor.Stats{TotalResults: 1, SnapshotVersion: 3},
		}, nil
	}

	page, hit, err := c.GetOrCompute(ctx, "Users", 3, q, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, page.Results, 1)

	page, hit, err = c.GetOrCompute(ctx, "Users", 3, q, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, page.Results, 1)
	assert.Equal(t, "users/1", page.Results[0].Key)
	assert.Equal(t, float32(1.5), page.Results[0].Score)
	assert.Equal(t, "Oren", page.Results[0].Projection.Field("Name").Text())
	assert.Equal(t, 1, page.Stats.TotalResults)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestInvalidateDropsOnlyThatIndex(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, time.Minute, nil)
	ctx := context.Background()
	q := executor.Query{Query: "*:*"}
	page := func() (*Page, error) { return &Page{Stats: executor.Stats{SnapshotVersion: 1}}, nil }

	_, _, err := c.GetOrCompute(ctx, "Users", 1, q, page)
	require.NoError(t, err)
	_, _, err = c.GetOrCompute(ctx, "Orders", 1, q, page)
	require.NoError(t, err)

	c.IndexChanged(ctx, "Users", nil)

	_, hit, err := c.GetOrCompute(ctx, "Users", 1, q, page)
	require.NoError(t, err)
	assert.False(t, hit)
	_, hit, err = c.GetOrCompute(ctx, "Orders", 1, q, page)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestComputedPageIsKeyedBySnapshotRead(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, time.Minute, nil)
	ctx := context.Background()
	q := executor.Query{Query: "Name:oren"}

	// a commit lands between reading the version and taking the snapshot
	newer := func() (*Page, error) {
		return &Page{Stats: executor.Stats{TotalResults: 2, SnapshotVersion: 8}}, nil
	}
	page, hit, err := c.GetOrCompute(ctx, "Users", 7, q, newer)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(8), page.Stats.SnapshotVersion)

	stale, err := Key("Users", 7, q)
	require.NoError(t, err)
	_, err = backend.GetBytes(ctx, stale)
	assert.ErrorIs(t, err, redis.Nil)

	var calls atomic.Int32
	compute := func() (*Page, error) {
		calls.Add(1)
		return &Page{Stats: executor.Stats{SnapshotVersion: 8}}, nil
	}
	page, hit, err = c.GetOrCompute(ctx, "Users", 8, q, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 2, page.Stats.TotalResults)
	assert.Zero(t, calls.Load())
}
