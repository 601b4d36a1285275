// Package storagetest holds the behaviour every storage.Store must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
)

// Run exercises a fresh store produced by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"Documents", testDocuments},
		{"BatchRollsBack", testBatchRollsBack},
		{"MappedResults", testMappedResults},
		{"ScheduledReductions", testScheduledReductions},
		{"ReducedResults", testReducedResults},
		{"DeleteIndex", testDeleteIndex},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			c.fn(t, s)
		})
	}
}

func obj(key string, n int) *document.Object {
	return document.NewObject(
		document.P("Key", document.String(key)),
		document.P("Count", document.Int32(int32(n))),
	)
}

func batch(t *testing.T, s storage.Store, fn func(a storage.Actions) error) {
	t.Helper()
	require.NoError(t, s.Batch(context.Background(), fn))
}

func testDocuments(t *testing.T, s storage.Store) {
	batch(t, s, func(a storage.Actions) error {
		if err := a.PutDocument(document.Document{ID: "Users/2", Data: obj("b", 2)}); err != nil {
			return err
		}
		return a.PutDocument(document.Document{ID: "Users/1", Data: obj("a", 1)})
	})

	batch(t, s, func(a storage.Actions) error {
		doc, err := a.GetDocument("users/1")
		require.NoError(t, err)
		assert.Equal(t, "Users/1", doc.ID)
		assert.True(t, doc.Data.Equal(obj("a", 1)))

		var ids []string
		require.NoError(t, a.ScanDocuments(func(d document.Document) error {
			ids = append(ids, d.ID)
			return nil
		}))
		assert.Equal(t, []string{"Users/1", "Users/2"}, ids)

		require.NoError(t, a.DeleteDocument("USERS/2"))
		_, err = a.GetDocument("Users/2")
		assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
		return nil
	})
}

func testBatchRollsBack(t *testing.T, s storage.Store) {
	batch(t, s, func(a storage.Actions) error {
		return a.PutDocument(document.Document{ID: "keep", Data: obj("k", 1)})
	})

	boom := errors.New("boom")
	err := s.Batch(context.Background(), func(a storage.Actions) error {
		if err := a.PutDocument(document.Document{ID: "keep", Data: obj("changed", 9)}); err != nil {
			return err
		}
		if err := a.PutDocument(document.Document{ID: "new", Data: obj("n", 1)}); err != nil {
			return err
		}
		if err := a.PutMappedResult(storage.MappedResult{
			Index: "idx", DocumentID: "new", ReduceKey: "n", Bucket: 3, Data: obj("n", 1), Timestamp: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	batch(t, s, func(a storage.Actions) error {
		doc, err := a.GetDocument("keep")
		require.NoError(t, err)
		assert.True(t, doc.Data.Equal(obj("k", 1)))
		_, err = a.GetDocument("new")
		assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
		rows, err := a.GetMappedResults("idx", "n", 3)
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	})
}

func testMappedResults(t *testing.T, s storage.Store) {
	now := time.Now()
	batch(t, s, func(a storage.Actions) error {
		for _, r := range []storage.MappedResult{
			{Index: "idx", DocumentID: "d/1", ReduceKey: "books", Bucket: 7, Data: obj("books", 1), Timestamp: now},
			{Index: "idx", DocumentID: "d/1", ReduceKey: "music", Bucket: 7, Data: obj("music", 1), Timestamp: now},
			{Index: "idx", DocumentID: "d/2", ReduceKey: "books", Bucket: 7, Data: obj("books", 1), Timestamp: now},
			{Index: "other", DocumentID: "d/1", ReduceKey: "books", Bucket: 7, Data: obj("books", 5), Timestamp: now},
		} {
			if err := a.PutMappedResult(r); err != nil {
				return err
			}
		}
		return nil
	})

	batch(t, s, func(a storage.Actions) error {
		rows, err := a.GetMappedResults("idx", "books", 7)
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		touched, err := a.DeleteMappedResultsForDocument("idx", "D/1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []storage.ReduceKeyAndBucket{
			{Bucket: 7, ReduceKey: "books"},
			{Bucket: 7, ReduceKey: "music"},
		}, touched)

		rows, err = a.GetMappedResults("idx", "books", 7)
		require.NoError(t, err)
		require.Len(t, rows, 1)

		rows, err = a.GetMappedResults("other", "books", 7)
		require.NoError(t, err)
		assert.Len(t, rows, 1)

		touched, err = a.DeleteMappedResultsForDocument("idx", "d/unknown")
		require.NoError(t, err)
		assert.Empty(t, touched)
		return nil
	})
}

func testScheduledReductions(t *testing.T, s storage.Store) {
	keys := []storage.ReduceKeyAndBucket{{Bucket: 2, ReduceKey: "b"}, {Bucket: 1, ReduceKey: "a"}}
	batch(t, s, func(a storage.Actions) error {
		if err := a.ScheduleReductions("idx", 0, keys); err != nil {
			return err
		}
		return a.ScheduleReductions("idx", 0, keys[:1])
	})

	batch(t, s, func(a storage.Actions) error {
		got, err := a.ScheduledReductions("idx", 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, keys, got)

		got, err = a.ScheduledReductions("idx", 1)
		require.NoError(t, err)
		assert.Empty(t, got)

		require.NoError(t, a.DeleteScheduledReductions("idx", 0, keys[1:]))
		got, err = a.ScheduledReductions("idx", 0)
		require.NoError(t, err)
		assert.Equal(t, keys[:1], got)
		return nil
	})
}

func testReducedResults(t *testing.T, s storage.Store) {
	now := time.Now()
	batch(t, s, func(a storage.Actions) error {
		for _, r := range []storage.ReducedResult{
			{Index: "idx", ReduceKey: "books", Level: 1, SourceBucket: 10, Bucket: 0, Data: obj("books", 2), Timestamp: now},
			{Index: "idx", ReduceKey: "books", Level: 1, SourceBucket: 2000, Bucket: 1, Data: obj("books", 3), Timestamp: now},
			{Index: "idx", ReduceKey: "books", Level: 2, SourceBucket: 0, Bucket: 0, Data: obj("books", 2), Timestamp: now},
		} {
			if err := a.PutReducedResult(r); err != nil {
				return err
			}
		}
		return nil
	})

	batch(t, s, func(a storage.Actions) error {
		rows, err := a.GetReducedResults("idx", "books", 1, 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Equal(obj("books", 2)))

		rows, err = a.GetReducedResults("idx", "books", 1, storage.AllBuckets)
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		require.NoError(t, a.DeleteReducedResults("idx", "books", 1, 10))
		rows, err = a.GetReducedResults("idx", "books", 1, storage.AllBuckets)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Equal(obj("books", 3)))

		rows, err = a.GetReducedResults("idx", "books", 2, 0)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		return nil
	})
}

func testDeleteIndex(t *testing.T, s storage.Store) {
	now := time.Now()
	batch(t, s, func(a storage.Actions) error {
		for _, name := range []string{"gone", "kept"} {
			if err := a.PutMappedResult(storage.MappedResult{
				Index: name, DocumentID: "d/1", ReduceKey: "k", Bucket: 1, Data: obj("k", 1), Timestamp: now,
			}); err != nil {
				return err
			}
			if err := a.ScheduleReductions(name, 0, []storage.ReduceKeyAndBucket{{Bucket: 1, ReduceKey: "k"}}); err != nil {
				return err
			}
			if err := a.PutReducedResult(storage.ReducedResult{
				Index: name, ReduceKey: "k", Level: 1, SourceBucket: 1, Bucket: 0, Data: obj("k", 1), Timestamp: now,
			}); err != nil {
				return err
			}
		}
		return a.DeleteIndex("gone")
	})

	batch(t, s, func(a storage.Actions) error {
		for name, want := range map[string]int{"gone": 0, "kept": 1} {
			rows, err := a.GetMappedResults(name, "k", 1)
			require.NoError(t, err)
			assert.Len(t, rows, want, name)
			sched, err := a.ScheduledReductions(name, 0)
			require.NoError(t, err)
			assert.Len(t, sched, want, name)
			reduced, err := a.GetReducedResults(name, "k", 1, storage.AllBuckets)
			require.NoError(t, err)
			assert.Len(t, reduced, want, name)
		}
		return nil
	})
}
