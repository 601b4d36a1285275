package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
)

var benchTerms = []string{"snapshot", "reduce", "segment", "analyzer", "highlight", "merge", "commit", "query"}

func articles() *definition.Index {
	return &definition.Index{
		Name:    "Articles",
		Fields:  []string{"Title", "Body"},
		Indexes: map[string]definition.Indexing{"Body": definition.IndexingAnalyzed},
		Maps: []definition.MapFunc{func(doc document.Document) ([]*document.Object, error) {
			return []*document.Object{doc.Data.Select("Title", "Body")}, nil
		}},
	}
}

func article(n int) document.Document {
	return document.Document{ID: fmt.Sprintf("articles/%d", n), Data: document.NewObject(
		document.P("Title", document.String(benchTerms[n%len(benchTerms)])),
		document.P("Body", document.String(fmt.Sprintf("this article covers %s %s and %s in production",
			benchTerms[n%len(benchTerms)], benchTerms[(n+2)%len(benchTerms)], benchTerms[(n+3)%len(benchTerms)]))),
	)}
}

func loadedIndex(b *testing.B, docs int) *SimpleIndex {
	b.Helper()
	idx, err := Open(articles(), Options{RunInMemory: true})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { idx.Dispose() })
	s := NewSimpleIndex(idx)
	batch := make([]document.Document, 0, docs)
	for n := range docs {
		batch = append(batch, article(n))
	}
	if err := s.IndexDocuments(context.Background(), batch); err != nil {
		b.Fatal(err)
	}
	return s
}

// BenchmarkIndexDocuments measures write sessions of varying batch size.
func BenchmarkIndexDocuments(b *testing.B) {
	for _, size := range []int{1, 100, 1000} {
		b.Run(fmt.Sprintf("batch_%d", size), func(b *testing.B) {
			s := loadedIndex(b, 0)
			b.ReportAllocs()
			n := 0
			for b.Loop() {
				batch := make([]document.Document, size)
				for i := range batch {
					batch[i] = article(n)
					n++
				}
				if err := s.IndexDocuments(context.Background(), batch); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkQuery(b *testing.B) {
	s := loadedIndex(b, 10000)
	b.ReportAllocs()
	n := 0
	for b.Loop() {
		res, err := s.Query(context.Background(), executor.Query{Query: "Body:" + benchTerms[n%len(benchTerms)], PageSize: 10})
		if err != nil {
			b.Fatal(err)
		}
		if _, err := res.Collect(); err != nil {
			b.Fatal(err)
		}
		n++
	}
}

func BenchmarkQueryParallel(b *testing.B) {
	s := loadedIndex(b, 10000)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		n := 0
		for pb.Next() {
			res, err := s.Query(context.Background(), executor.Query{Query: "Body:" + benchTerms[n%len(benchTerms)], PageSize: 10})
			if err != nil {
				b.Fatal(err)
			}
			if _, err := res.Collect(); err != nil {
				b.Fatal(err)
			}
			n++
		}
	})
}

func BenchmarkSnapshot(b *testing.B) {
	s := loadedIndex(b, 1000)
	b.ReportAllocs()
	for b.Loop() {
		snap, err := s.Snapshot()
		if err != nil {
			b.Fatal(err)
		}
		snap.Release()
	}
}

func BenchmarkMapReduce(b *testing.B) {
	idx, err := Open(countByCategory(), Options{RunInMemory: true})
	if err != nil {
		b.Fatal(err)
	}
	defer idx.Dispose()
	m := NewMapReduceIndex(idx, storage.NewMemoryStore())
	b.ReportAllocs()
	n := 0
	for b.Loop() {
		batch := make([]document.Document, 100)
		for i := range batch {
			batch[i] = post(fmt.Sprintf("posts/%d", n), benchTerms[n%len(benchTerms)])
			n++
		}
		if err := m.IndexDocuments(context.Background(), batch); err != nil {
			b.Fatal(err)
		}
	}
}
