package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

func usersByName() *definition.Index {
	return &definition.Index{
		Name:   "Users/ByName",
		Fields: []string{"Name"},
		Maps: []definition.MapFunc{func(doc document.Document) ([]*document.Object, error) {
			if doc.Data.Field("Explode").Bool() {
				panic("boom")
			}
			return []*document.Object{doc.Data.Select("Name")}, nil
		}},
	}
}

func countByCategory() *definition.Index {
	return &definition.Index{
		Name:   "Count/ByCategory",
		Fields: []string{"Category", "Count"},
		Maps: []definition.MapFunc{func(doc document.Document) ([]*document.Object, error) {
			return []*document.Object{document.NewObject(
				document.P("Category", doc.Data.Field("Category")),
				document.P("Count", document.Int64(1)),
			)}, nil
		}},
		Reduce: func(records []*document.Object) ([]*document.Object, error) {
			counts := map[string]int64{}
			var order []string
			for _, r := range records {
				c := r.Field("Category").Text()
				if _, ok := counts[c]; !ok {
					order = append(order, c)
				}
				counts[c] += r.Field("Count").Int()
			}
			out := make([]*document.Object, 0, len(order))
			for _, c := range order {
				out = append(out, document.NewObject(
					document.P("Category", document.String(c)),
					document.P("Count", document.Int64(counts[c])),
				))
			}
			return out, nil
		},
		GroupBy: func(r *document.Object) document.Value { return r.Field("Category") },
	}
}

func user(id, name string) document.Document {
	return document.Document{ID: id, Data: document.NewObject(
		document.P("Name", document.String(name)),
	)}
}

func post(id, category string) document.Document {
	return document.Document{ID: id, Data: document.NewObject(
		document.P("Category", document.String(category)),
	)}
}

func openSimple(t *testing.T, opts Options) *SimpleIndex {
	t.Helper()
	opts.RunInMemory = true
	idx, err := Open(usersByName(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Dispose() })
	return NewSimpleIndex(idx)
}

func search(t *testing.T, idx *Index, q string) []executor.Result {
	t.Helper()
	res, err := idx.Query(context.Background(), executor.Query{Query: q})
	require.NoError(t, err)
	out, err := res.Collect()
	require.NoError(t, err)
	return out
}

type recordingListener struct {
	mu      sync.Mutex
	changes []int
}

func (l *recordingListener) IndexChanged(_ context.Context, _ string, batch *WriteBatch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, batch.Changed)
}

func TestReindexReplacesEntries(t *testing.T) {
	s := openSimple(t, Options{})
	ctx := context.Background()
	require.NoError(t, s.IndexDocuments(ctx, []document.Document{user("users/1", "Oren"), user("users/2", "Ayende")}))
	require.NoError(t, s.IndexDocuments(ctx, []document.Document{user("users/1", "Arava")}))

	assert.Empty(t, search(t, s.Index, "Name:oren"))
	hits := search(t, s.Index, "Name:arava")
	require.Len(t, hits, 1)
	assert.Equal(t, "users/1", hits[0].Key)
	assert.Equal(t, 2, s.Stats().Documents)

	require.NoError(t, s.Remove(ctx, []string{"USERS/2"}))
	assert.Empty(t, search(t, s.Index, "Name:ayende"))
	assert.Equal(t, 1, s.Stats().Documents)
}

func TestSnapshotIsolation(t *testing.T) {
	s := openSimple(t, Options{})
	ctx := context.Background()
	require.NoError(t, s.IndexDocuments(ctx, []document.Document{user("users/1", "Oren")}))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Release()
	before := snap.Version()

	require.NoError(t, s.IndexDocuments(ctx, []document.Document{user("users/2", "Ayende")}))
	assert.Equal(t, 1, snap.Reader().NumDocs())
	assert.Equal(t, before, snap.Version())
	assert.Greater(t, s.Version(), before)
	assert.Equal(t, 2, s.Stats().Documents)
}

func TestQueryTakesSnapshotWhenIterated(t *testing.T) {
	s := openSimple(t, Options{})
	ctx := context.Background()
	res, err := s.Query(ctx, executor.Query{Query: "Name:oren"})
	require.NoError(t, err)

	require.NoError(t, s.IndexDocuments(ctx, []document.Document{user("users/1", "Oren")}))
	hits, err := res.Collect()
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, s.Version(), res.Stats().SnapshotVersion)
	assert.Equal(t, 1, res.Stats().TotalResults)
	assert.False(t, s.LastQueryTime().IsZero())

	_, err = res.Collect()
	assert.ErrorIs(t, err, executor.ErrSequenceConsumed)
}

func TestQueryRejectsInvalidInput(t *testing.T) {
	s := openSimple(t, Options{})
	_, err := s.Query(context.Background(), executor.Query{Query: "Name:oren", Start: -1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation) || errors.Is(err, apperrors.ErrInvalidInput))
}

func TestMapPanicIsRecorded(t *testing.T) {
	s := openSimple(t, Options{})
	bad := document.Document{ID: "users/9", Data: document.NewObject(
		document.P("Name", document.String("Bad")),
		document.P("Explode", document.Bool(true)),
	)}
	require.NoError(t, s.IndexDocuments(context.Background(), []document.Document{user("users/1", "Oren"), bad}))

	assert.Len(t, search(t, s.Index, "Name:oren"), 1)
	assert.Empty(t, search(t, s.Index, "Name:bad"))
	errs := s.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "users/9", errs[0].Key)
	assert.Equal(t, "Map", errs[0].Action)
	assert.Contains(t, errs[0].Message, "boom")
}

func TestErrorLogIsBounded(t *testing.T) {
	s := openSimple(t, Options{MaxErrors: 3})
	for n := range 5 {
		s.AddError(fmt.Sprintf("users/%d", n), "Index", errors.New("bad value"))
	}
	errs := s.Errors()
	require.Len(t, errs, 3)
	assert.Equal(t, "users/2", errs[0].Key)
	assert.Equal(t, "users/4", errs[2].Key)
}

func TestWritesAreSerialised(t *testing.T) {
	s := openSimple(t, Options{})
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docs := make([]document.Document, 0, 10)
			for n := range 10 {
				docs = append(docs, user(fmt.Sprintf("users/%d-%d", w, n), "Oren"))
			}
			assert.NoError(t, s.IndexDocuments(context.Background(), docs))
		}()
	}
	wg.Wait()
	assert.Equal(t, 80, s.Stats().Documents)
	assert.Len(t, search(t, s.Index, "Name:oren"), 80)
}

func TestListenersSeeCommits(t *testing.T) {
	l := &recordingListener{}
	s := openSimple(t, Options{Listeners: []Listener{l}})
	ctx := context.Background()
	require.NoError(t, s.IndexDocuments(ctx, []document.Document{user("users/1", "Oren")}))
	require.NoError(t, s.Remove(ctx, nil))
	require.NoError(t, s.Remove(ctx, []string{"users/1"}))
	// one delete marker plus one entry, then one delete
	assert.Equal(t, []int{2, 1}, l.changes)
}

func TestDisposeWaitsForReaders(t *testing.T) {
	s := openSimple(t, Options{DisposeTimeout: time.Second})
	snap, err := s.Snapshot()
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		snap.Release()
	}()
	require.NoError(t, s.Dispose())
	assert.True(t, s.Disposed())

	_, err = s.Query(context.Background(), executor.Query{Query: "Name:oren"})
	assert.True(t, errors.Is(err, apperrors.ErrDisposed))
	err = s.IndexDocuments(context.Background(), []document.Document{user("users/1", "Oren")})
	assert.True(t, errors.Is(err, apperrors.ErrDisposed))
	_, err = s.Snapshot()
	assert.True(t, errors.Is(err, apperrors.ErrDisposed))
	assert.NoError(t, s.Dispose())
}

func TestDisposeTimesOutOnHeldSnapshot(t *testing.T) {
	s := openSimple(t, Options{DisposeTimeout: 20 * time.Millisecond})
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Release()

	err = s.Dispose()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConcurrencyTimeout))
	assert.True(t, s.Disposed())
	assert.Equal(t, 0, snap.Reader().NumDocs())
}

type failingDirectory struct {
	index.RAMDirectory
	fail bool
}

func (d *failingDirectory) Persist(int64, []*index.Segment) error {
	if d.fail {
		return errors.New("disk full")
	}
	return nil
}

func (d *failingDirectory) Persistent() bool { return true }

func TestWriterOpenFailure(t *testing.T) {
	_, err := Open(usersByName(), Options{
		OpenDirectory: func(string) (index.Directory, error) { return nil, errors.New("permission denied") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestCommitFailureKeepsLastSnapshot(t *testing.T) {
	dir := &failingDirectory{}
	idx, err := Open(usersByName(), Options{
		OpenDirectory: func(string) (index.Directory, error) { return dir, nil },
	})
	require.NoError(t, err)
	defer idx.Dispose()
	s := NewSimpleIndex(idx)
	ctx := context.Background()
	require.NoError(t, s.IndexDocuments(ctx, []document.Document{user("users/1", "Oren")}))
	version := s.Version()

	dir.fail = true
	err = s.IndexDocuments(ctx, []document.Document{user("users/2", "Ayende")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrCommit))
	assert.Equal(t, version, s.Version())
	assert.Len(t, search(t, s.Index, "Name:oren"), 1)
	assert.Equal(t, "Commit", s.Errors()[0].Action)

	dir.fail = false
	require.NoError(t, s.IndexDocuments(ctx, []document.Document{user("users/2", "Ayende")}))
	assert.Len(t, search(t, s.Index, "Name:ayende"), 1)
}

func TestTempIndexMaterializes(t *testing.T) {
	dataDir := t.TempDir()
	def := usersByName()
	def.IsTemp = true
	idx, err := Open(def, Options{DataDir: dataDir, TempIndexMaxBytes: 1})
	require.NoError(t, err)
	assert.True(t, idx.inMemory)

	s := NewSimpleIndex(idx)
	require.NoError(t, s.IndexDocuments(context.Background(), []document.Document{user("users/1", "Oren")}))
	assert.False(t, idx.inMemory)
	require.NoError(t, idx.Dispose())

	reopened, err := Open(usersByName(), Options{DataDir: dataDir})
	require.NoError(t, err)
	defer reopened.Dispose()
	assert.Len(t, search(t, reopened, "Name:oren"), 1)
}

func TestMergeSegments(t *testing.T) {
	s := openSimple(t, Options{})
	ctx := context.Background()
	for n := range 3 {
		require.NoError(t, s.IndexDocuments(ctx, []document.Document{user(fmt.Sprintf("users/%d", n), "Oren")}))
	}
	assert.Equal(t, 3, s.SegmentCount())
	require.NoError(t, s.MergeSegments(ctx))
	assert.Equal(t, 1, s.SegmentCount())
	assert.Len(t, search(t, s.Index, "Name:oren"), 3)
	require.NotEmpty(t, s.PerformanceStats())
}

func openMapReduce(t *testing.T) (*MapReduceIndex, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	idx, err := Open(countByCategory(), Options{RunInMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Dispose() })
	return NewMapReduceIndex(idx, store), store
}

func count(t *testing.T, idx *Index, category string) (int64, bool) {
	t.Helper()
	hits := search(t, idx, "Category:"+category)
	if len(hits) == 0 {
		return 0, false
	}
	require.Len(t, hits, 1)
	return hits[0].Projection.Field("Count").Int(), true
}

func TestMapReduceCountsByCategory(t *testing.T) {
	m, _ := openMapReduce(t)
	ctx := context.Background()
	require.NoError(t, m.IndexDocuments(ctx, []document.Document{
		post("posts/1", "go"),
		post("posts/2", "go"),
		post("posts/3", "rust"),
	}))
	n, ok := count(t, m.Index, "go")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	// re-indexing the same document does not double count
	require.NoError(t, m.IndexDocuments(ctx, []document.Document{post("posts/1", "go")}))
	n, _ = count(t, m.Index, "go")
	assert.Equal(t, int64(2), n)

	require.NoError(t, m.IndexDocuments(ctx, []document.Document{post("posts/2", "rust")}))
	n, _ = count(t, m.Index, "go")
	assert.Equal(t, int64(1), n)
	n, _ = count(t, m.Index, "rust")
	assert.Equal(t, int64(2), n)

	require.NoError(t, m.Remove(ctx, []string{"posts/1"}))
	_, ok = count(t, m.Index, "go")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Stats().Documents)
	assert.True(t, m.Stats().MapReduce)
}

func TestMapReduceFailedReduceKeepsPreviousEntries(t *testing.T) {
	var failing atomic.Bool
	def := countByCategory()
	reduce := def.Reduce
	def.Reduce = func(records []*document.Object) ([]*document.Object, error) {
		for _, r := range records {
			if failing.Load() && r.Field("Category").Text() == "bad" {
				return nil, errors.New("cannot count bad posts")
			}
		}
		return reduce(records)
	}
	idx, err := Open(def, Options{RunInMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Dispose() })
	m := NewMapReduceIndex(idx, storage.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, m.IndexDocuments(ctx, []document.Document{
		post("posts/1", "bad"),
		post("posts/2", "bad"),
		post("posts/3", "good"),
	}))
	n, _ := count(t, m.Index, "bad")
	assert.Equal(t, int64(2), n)
	require.Empty(t, m.Errors())

	failing.Store(true)
	require.NoError(t, m.IndexDocuments(ctx, []document.Document{
		post("posts/2", "bad"),
		post("posts/4", "good"),
	}))
	n, _ = count(t, m.Index, "good")
	assert.Equal(t, int64(2), n)
	n, ok := count(t, m.Index, "bad")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	var keys []string
	for _, e := range m.Errors() {
		assert.Equal(t, "Reduce", e.Action)
		assert.Contains(t, e.Message, "cannot count bad posts")
		keys = append(keys, e.Key)
	}
	assert.Contains(t, keys, "posts/2")
	assert.Contains(t, keys, "bad")

	failing.Store(false)
	require.NoError(t, m.IndexDocuments(ctx, []document.Document{post("posts/2", "bad")}))
	n, _ = count(t, m.Index, "bad")
	assert.Equal(t, int64(2), n)
	n, _ = count(t, m.Index, "good")
	assert.Equal(t, int64(2), n)
}

func TestMapReduceAcrossManyBuckets(t *testing.T) {
	m, _ := openMapReduce(t)
	ctx := context.Background()
	categories := []string{"go", "rust", "zig", "java", "ruby"}

	owner := map[string]string{}
	var docs []document.Document
	for n := range 3000 {
		id := fmt.Sprintf("posts/%d", n)
		owner[id] = categories[n%len(categories)]
		docs = append(docs, post(id, owner[id]))
	}
	for start := 0; start < len(docs); start += 500 {
		require.NoError(t, m.IndexDocuments(ctx, docs[start:start+500]))
	}
	expect := func() {
		t.Helper()
		want := map[string]int64{}
		for _, c := range owner {
			want[c]++
		}
		for _, c := range categories {
			n, ok := count(t, m.Index, c)
			if want[c] == 0 {
				assert.False(t, ok, c)
				continue
			}
			require.True(t, ok, c)
			assert.Equal(t, want[c], n, c)
		}
	}
	expect()

	var removed []string
	for n := 0; n < 3000; n += 7 {
		id := fmt.Sprintf("posts/%d", n)
		removed = append(removed, id)
		delete(owner, id)
	}
	require.NoError(t, m.Remove(ctx, removed))
	expect()

	var moved []document.Document
	for n := 1; n < 3000; n += 3 {
		id := fmt.Sprintf("posts/%d", n)
		owner[id] = categories[(n+1)%len(categories)]
		moved = append(moved, post(id, owner[id]))
	}
	require.NoError(t, m.IndexDocuments(ctx, moved))
	expect()

	var gone []string
	for id, c := range owner {
		if c == "zig" {
			gone = append(gone, id)
			delete(owner, id)
		}
	}
	require.NoError(t, m.Remove(ctx, gone))
	expect()
	assert.Equal(t, 4, m.Stats().Documents)
	assert.Empty(t, m.Errors())
}
