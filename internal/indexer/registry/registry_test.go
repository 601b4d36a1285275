package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

func usersByName() *definition.Index {
	return &definition.Index{
		Name:   "UsersByName",
		Fields: []string{"Name"},
		Maps: []definition.MapFunc{func(doc document.Document) ([]*document.Object, error) {
			return []*document.Object{doc.Data.Select("Name")}, nil
		}},
	}
}

func countByCategory() *definition.Index {
	return &definition.Index{
		Name:   "CountByCategory",
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

func newRegistry(t *testing.T) (*Registry, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	r := New(store, config.IndexerConfig{}, indexer.Options{RunInMemory: true})
	t.Cleanup(func() { r.Close(context.Background()) })
	return r, store
}

func doc(id, name, category string) document.Document {
	return document.Document{ID: id, Data: document.NewObject(
		document.P("Name", document.String(name)),
		document.P("Category", document.String(category)),
	)}
}

func query(t *testing.T, r *Registry, name, q string) []executor.Result {
	t.Helper()
	ix, err := r.Get(name)
	require.NoError(t, err)
	res, err := ix.Base().Query(context.Background(), executor.Query{Query: q})
	require.NoError(t, err)
	out, err := res.Collect()
	require.NoError(t, err)
	return out
}

func TestPutAndDeleteReachEveryIndex(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	_, err := r.Register(usersByName())
	require.NoError(t, err)
	_, err = r.Register(countByCategory())
	require.NoError(t, err)
	assert.Equal(t, []string{"CountByCategory", "UsersByName"}, r.Names())

	require.NoError(t, r.Put(ctx, []document.Document{
		doc("users/1", "Oren", "admin"),
		doc("users/2", "Ayende", "admin"),
		doc("users/3", "Fitzchak", "dev"),
	}))

	hits := query(t, r, "UsersByName", "Name:oren")
	require.Len(t, hits, 1)
	assert.Equal(t, "users/1", hits[0].Key)

	hits = query(t, r, "CountByCategory", "Category:admin")
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].Projection.Field("Count").Int())

	require.NoError(t, r.Delete(ctx, []string{"users/1"}))
	assert.Empty(t, query(t, r, "UsersByName", "Name:oren"))
	hits = query(t, r, "CountByCategory", "Category:admin")
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].Projection.Field("Count").Int())
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Register(usersByName())
	require.NoError(t, err)
	_, err = r.Register(usersByName())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestUnknownIndex(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Get("Nope")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.True(t, errors.Is(r.Unregister("Nope"), apperrors.ErrNotFound))
}

func TestBackfillIndexesStoredDocuments(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Put(ctx, []document.Document{
		doc("users/1", "Oren", "admin"),
		doc("users/2", "Ayende", "dev"),
	}))

	_, err := r.Register(usersByName())
	require.NoError(t, err)
	assert.Empty(t, query(t, r, "UsersByName", "Name:ayende"))

	require.NoError(t, r.Backfill(ctx, "UsersByName"))
	hits := query(t, r, "UsersByName", "Name:ayende")
	require.Len(t, hits, 1)
	assert.Equal(t, "users/2", hits[0].Key)
}

func TestUnregisterDisposes(t *testing.T) {
	r, _ := newRegistry(t)
	ix, err := r.Register(usersByName())
	require.NoError(t, err)
	require.NoError(t, r.Unregister("UsersByName"))
	assert.True(t, ix.Base().Disposed())
	assert.Empty(t, r.Names())
}

func TestMaintenanceLoops(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	_, err := r.Register(usersByName())
	require.NoError(t, err)
	for _, id := range []string{"users/1", "users/2", "users/3"} {
		require.NoError(t, r.Put(ctx, []document.Document{doc(id, "Oren", "admin")}))
	}
	ix, err := r.Get("UsersByName")
	require.NoError(t, err)
	assert.Greater(t, ix.Base().SegmentCount(), 1)

	require.NoError(t, r.FlushAll(ctx))
	require.NoError(t, r.ReduceAll(ctx))
	require.NoError(t, r.MergeAll(ctx))
	assert.Equal(t, 1, ix.Base().SegmentCount())
	assert.Len(t, query(t, r, "UsersByName", "Name:oren"), 3)
}
