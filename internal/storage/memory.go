package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
)

type reducedKey struct {
	reduceKey    string
	level        int
	sourceBucket int
}

type memoryIndex struct {
	mapped    map[string][]MappedResult
	reduced   map[reducedKey][]ReducedResult
	scheduled map[int]map[ReduceKeyAndBucket]time.Time
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{
		mapped:    make(map[string][]MappedResult),
		reduced:   make(map[reducedKey][]ReducedResult),
		scheduled: make(map[int]map[ReduceKeyAndBucket]time.Time),
	}
}

// MemoryStore keeps everything in process memory. Batches are serialised
// and undone on failure.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]document.Document
	indexes map[string]*memoryIndex
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]document.Document),
		indexes: make(map[string]*memoryIndex),
	}
}

func (s *MemoryStore) Batch(ctx context.Context, fn func(Actions) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	tx := &memoryActions{store: s}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memoryActions struct {
	store *MemoryStore
	undo  []func()
}

var _ Actions = (*memoryActions)(nil)

func (a *memoryActions) index(name string) *memoryIndex {
	idx, ok := a.store.indexes[name]
	if !ok {
		idx = newMemoryIndex()
		a.store.indexes[name] = idx
		a.undo = append(a.undo, func() { delete(a.store.indexes, name) })
	}
	return idx
}

func (a *memoryActions) GetDocument(id string) (document.Document, error) {
	doc, ok := a.store.docs[strings.ToLower(id)]
	if !ok {
		return document.Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return document.Document{ID: doc.ID, Data: doc.Data.Clone()}, nil
}

func (a *memoryActions) PutDocument(doc document.Document) error {
	key := strings.ToLower(doc.ID)
	prev, existed := a.store.docs[key]
	a.store.docs[key] = document.Document{ID: doc.ID, Data: doc.Data.Clone()}
	a.undo = append(a.undo, func() {
		if existed {
			a.store.docs[key] = prev
		} else {
			delete(a.store.docs, key)
		}
	})
	return nil
}

func (a *memoryActions) DeleteDocument(id string) error {
	key := strings.ToLower(id)
	prev, existed := a.store.docs[key]
	if !existed {
		return nil
	}
	delete(a.store.docs, key)
	a.undo = append(a.undo, func() { a.store.docs[key] = prev })
	return nil
}

func (a *memoryActions) ScanDocuments(fn func(document.Document) error) error {
	keys := make([]string, 0, len(a.store.docs))
	for k := range a.store.docs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		doc := a.store.docs[k]
		if err := fn(document.Document{ID: doc.ID, Data: doc.Data.Clone()}); err != nil {
			return err
		}
	}
	return nil
}

func (a *memoryActions) PutMappedResult(r MappedResult) error {
	idx := a.index(r.Index)
	docKey := strings.ToLower(r.DocumentID)
	prev := idx.mapped[docKey]
	r.Data = r.Data.Clone()
	idx.mapped[docKey] = append(slices.Clone(prev), r)
	a.undo = append(a.undo, func() { a.restoreMapped(idx, docKey, prev) })
	return nil
}

func (a *memoryActions) restoreMapped(idx *memoryIndex, docKey string, prev []MappedResult) {
	if prev == nil {
		delete(idx.mapped, docKey)
		return
	}
	idx.mapped[docKey] = prev
}

func (a *memoryActions) DeleteMappedResultsForDocument(index, documentID string) ([]ReduceKeyAndBucket, error) {
	idx := a.index(index)
	docKey := strings.ToLower(documentID)
	prev, ok := idx.mapped[docKey]
	if !ok {
		return nil, nil
	}
	keys := make([]ReduceKeyAndBucket, 0, len(prev))
	for _, r := range prev {
		keys = append(keys, ReduceKeyAndBucket{Bucket: r.Bucket, ReduceKey: r.ReduceKey})
	}
	delete(idx.mapped, docKey)
	a.undo = append(a.undo, func() { idx.mapped[docKey] = prev })
	return DedupeKeys(keys), nil
}

func (a *memoryActions) GetMappedResults(index, reduceKey string, bucket int) ([]*document.Object, error) {
	idx := a.index(index)
	docKeys := make([]string, 0, len(idx.mapped))
	for k := range idx.mapped {
		docKeys = append(docKeys, k)
	}
	slices.Sort(docKeys)
	var out []*document.Object
	for _, k := range docKeys {
		for _, r := range idx.mapped[k] {
			if r.ReduceKey == reduceKey && r.Bucket == bucket {
				out = append(out, r.Data.Clone())
			}
		}
	}
	return out, nil
}

func (a *memoryActions) ScheduleReductions(index string, level int, keys []ReduceKeyAndBucket) error {
	idx := a.index(index)
	set, ok := idx.scheduled[level]
	if !ok {
		set = make(map[ReduceKeyAndBucket]time.Time)
		idx.scheduled[level] = set
	}
	now := time.Now()
	for _, k := range keys {
		prev, had := set[k]
		set[k] = now
		a.undo = append(a.undo, func() {
			if had {
				set[k] = prev
			} else {
				delete(set, k)
			}
		})
	}
	return nil
}

func (a *memoryActions) ScheduledReductions(index string, level int) ([]ReduceKeyAndBucket, error) {
	idx := a.index(index)
	out := make([]ReduceKeyAndBucket, 0, len(idx.scheduled[level]))
	for k := range idx.scheduled[level] {
		out = append(out, k)
	}
	slices.SortFunc(out, CompareKeys)
	return out, nil
}

func (a *memoryActions) DeleteScheduledReductions(index string, level int, keys []ReduceKeyAndBucket) error {
	set := a.index(index).scheduled[level]
	for _, k := range keys {
		prev, had := set[k]
		if !had {
			continue
		}
		delete(set, k)
		a.undo = append(a.undo, func() { set[k] = prev })
	}
	return nil
}

func (a *memoryActions) PutReducedResult(r ReducedResult) error {
	idx := a.index(r.Index)
	key := reducedKey{reduceKey: r.ReduceKey, level: r.Level, sourceBucket: r.SourceBucket}
	prev := idx.reduced[key]
	r.Data = r.Data.Clone()
	idx.reduced[key] = append(slices.Clone(prev), r)
	a.undo = append(a.undo, func() { a.restoreReduced(idx, key, prev) })
	return nil
}

func (a *memoryActions) restoreReduced(idx *memoryIndex, key reducedKey, prev []ReducedResult) {
	if prev == nil {
		delete(idx.reduced, key)
		return
	}
	idx.reduced[key] = prev
}

func (a *memoryActions) DeleteReducedResults(index, reduceKey string, level, sourceBucket int) error {
	idx := a.index(index)
	key := reducedKey{reduceKey: reduceKey, level: level, sourceBucket: sourceBucket}
	prev, ok := idx.reduced[key]
	if !ok {
		return nil
	}
	delete(idx.reduced, key)
	a.undo = append(a.undo, func() { idx.reduced[key] = prev })
	return nil
}

func (a *memoryActions) GetReducedResults(index, reduceKey string, level, bucket int) ([]*document.Object, error) {
	idx := a.index(index)
	var keys []reducedKey
	for k, rows := range idx.reduced {
		if k.reduceKey != reduceKey || k.level != level || len(rows) == 0 {
			continue
		}
		if bucket != AllBuckets && rows[0].Bucket != bucket {
			continue
		}
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y reducedKey) int { return x.sourceBucket - y.sourceBucket })
	var out []*document.Object
	for _, k := range keys {
		for _, r := range idx.reduced[k] {
			out = append(out, r.Data.Clone())
		}
	}
	return out, nil
}

func (a *memoryActions) DeleteIndex(index string) error {
	prev, ok := a.store.indexes[index]
	if !ok {
		return nil
	}
	delete(a.store.indexes, index)
	a.undo = append(a.undo, func() { a.store.indexes[index] = prev })
	return nil
}

func (a *memoryActions) MaybePulse() {}
