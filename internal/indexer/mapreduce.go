package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/encoder"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/reducekey"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

// Reduce levels. Level 0 reduces map output per bucket, level 1 reduces
// level-0 output per parent bucket and the final level writes the index.
const (
	levelMapped = 0
	levelFirst  = 1
	levelFinal  = 2
)

// MapReduceIndex maps documents into the record store and reduces them
// incrementally: only reduce keys touched since the last pass are
// recomputed, and only in the buckets that changed.
type MapReduceIndex struct {
	*Index
	store storage.Store
}

var _ Indexer = (*MapReduceIndex)(nil)

func NewMapReduceIndex(idx *Index, store storage.Store) *MapReduceIndex {
	return &MapReduceIndex{Index: idx, store: store}
}

func (m *MapReduceIndex) Base() *Index { return m.Index }

// IndexDocuments replaces the map output of each document and runs a full
// reduce pass.
func (m *MapReduceIndex) IndexDocuments(ctx context.Context, docs []document.Document) error {
	if m.disposed.Load() {
		return apperrors.Disposed(m.def.Name)
	}
	start := time.Now()
	stats := &WorkStats{}
	err := m.store.Batch(ctx, func(a storage.Actions) error {
		var changed []storage.ReduceKeyAndBucket
		now := time.Now().UTC()
		for _, doc := range docs {
			touched, err := a.DeleteMappedResultsForDocument(m.def.Name, doc.ID)
			if err != nil {
				return fmt.Errorf("deleting map output of %s: %w", doc.ID, err)
			}
			changed = append(changed, touched...)

			records, err := m.runMaps(doc, stats)
			if err != nil {
				continue
			}
			// reduce the document's own output first so the store keeps one
			// row per key rather than one per mapped record
			records, err = m.runReduce(doc.ID, records, stats)
			if err != nil {
				continue
			}
			bucket := reducekey.Bucket(doc.ID)
			for _, rec := range records {
				key, ok := m.reduceKey(doc.ID, rec)
				if !ok {
					continue
				}
				err := a.PutMappedResult(storage.MappedResult{
					Index:      m.def.Name,
					DocumentID: doc.ID,
					ReduceKey:  key,
					Bucket:     bucket,
					Data:       rec,
					Timestamp:  now,
				})
				if err != nil {
					return fmt.Errorf("saving map output of %s: %w", doc.ID, err)
				}
				changed = append(changed, storage.ReduceKeyAndBucket{Bucket: bucket, ReduceKey: key})
			}
			stats.IndexingSuccesses++
			a.MaybePulse()
		}
		return a.ScheduleReductions(m.def.Name, levelMapped, storage.DedupeKeys(changed))
	})
	if err != nil {
		m.AddError("", "Map", err)
		return fmt.Errorf("mapping documents into %s: %w", m.def.Name, err)
	}
	m.AddPerformanceStats(PerformanceStats{Operation: "Map", Count: len(docs), Duration: time.Since(start), Started: start})
	return m.Reduce(ctx)
}

// Remove drops the map output of the documents and reduces what they touched.
func (m *MapReduceIndex) Remove(ctx context.Context, ids []string) error {
	if m.disposed.Load() {
		return apperrors.Disposed(m.def.Name)
	}
	err := m.store.Batch(ctx, func(a storage.Actions) error {
		var changed []storage.ReduceKeyAndBucket
		for _, id := range ids {
			touched, err := a.DeleteMappedResultsForDocument(m.def.Name, id)
			if err != nil {
				return fmt.Errorf("deleting map output of %s: %w", id, err)
			}
			changed = append(changed, touched...)
		}
		return a.ScheduleReductions(m.def.Name, levelMapped, storage.DedupeKeys(changed))
	})
	if err != nil {
		return fmt.Errorf("removing documents from %s: %w", m.def.Name, err)
	}
	return m.Reduce(ctx)
}

// Reduce drains every scheduled reduction, level by level, ending with the
// index write.
func (m *MapReduceIndex) Reduce(ctx context.Context) error {
	for level := levelMapped; level <= levelFirst; level++ {
		if err := m.reduceLevel(ctx, level); err != nil {
			return err
		}
	}
	return m.reduceFinal(ctx)
}

// reduceLevel reduces each scheduled (key, bucket) slice of level into the
// next level, replacing whatever that slice produced before.
func (m *MapReduceIndex) reduceLevel(ctx context.Context, level int) error {
	start := time.Now()
	stats := &WorkStats{}
	var groups int
	err := m.store.Batch(ctx, func(a storage.Actions) error {
		scheduled, err := a.ScheduledReductions(m.def.Name, level)
		if err != nil {
			return err
		}
		if len(scheduled) == 0 {
			return nil
		}
		now := time.Now().UTC()
		next := make([]storage.ReduceKeyAndBucket, 0, len(scheduled))
		for _, k := range scheduled {
			var input []*document.Object
			if level == levelMapped {
				input, err = a.GetMappedResults(m.def.Name, k.ReduceKey, k.Bucket)
			} else {
				input, err = a.GetReducedResults(m.def.Name, k.ReduceKey, level, k.Bucket)
			}
			if err != nil {
				return fmt.Errorf("loading level %d input of %s: %w", level, k.ReduceKey, err)
			}
			parent := reducekey.ParentBucket(k.Bucket)
			next = append(next, storage.ReduceKeyAndBucket{Bucket: parent, ReduceKey: k.ReduceKey})
			groups++

			var output []*document.Object
			if len(input) > 0 {
				output, err = m.runReduce(k.ReduceKey, input, stats)
				if err != nil {
					// the slice keeps its previous output
					continue
				}
			}
			if err := a.DeleteReducedResults(m.def.Name, k.ReduceKey, level+1, k.Bucket); err != nil {
				return err
			}
			for _, rec := range output {
				err := a.PutReducedResult(storage.ReducedResult{
					Index:        m.def.Name,
					ReduceKey:    k.ReduceKey,
					Level:        level + 1,
					SourceBucket: k.Bucket,
					Bucket:       parent,
					Data:         rec,
					Timestamp:    now,
				})
				if err != nil {
					return err
				}
			}
			a.MaybePulse()
		}
		if err := a.DeleteScheduledReductions(m.def.Name, level, scheduled); err != nil {
			return err
		}
		return a.ScheduleReductions(m.def.Name, level+1, storage.DedupeKeys(next))
	})
	if err != nil {
		m.AddError("", "Reduce", err)
		return fmt.Errorf("reducing level %d of %s: %w", level, m.def.Name, err)
	}
	if groups > 0 {
		m.metrics.Reduced(m.def.Name, level, groups)
		m.AddPerformanceStats(PerformanceStats{
			Operation: fmt.Sprintf("Reduce Level %d", level),
			Count:     groups,
			Duration:  time.Since(start),
			Started:   start,
		})
	}
	return nil
}

type finalResult struct {
	key     string
	records []*document.Object
}

// reduceFinal reduces every scheduled key across all buckets and replaces
// its index entries. A key whose reduce fails keeps its previous entries.
func (m *MapReduceIndex) reduceFinal(ctx context.Context) error {
	start := time.Now()
	var groups int
	err := m.store.Batch(ctx, func(a storage.Actions) error {
		scheduled, err := a.ScheduledReductions(m.def.Name, levelFinal)
		if err != nil {
			return err
		}
		if len(scheduled) == 0 {
			return nil
		}
		keys := uniqueReduceKeys(scheduled)
		groups = len(keys)

		_, err = m.write(ctx, "Reduce", func(w *index.Writer, stats *WorkStats) (*WriteBatch, error) {
			results := make([]finalResult, 0, len(keys))
			for _, key := range keys {
				input, err := a.GetReducedResults(m.def.Name, key, levelFinal, storage.AllBuckets)
				if err != nil {
					return nil, fmt.Errorf("loading final input of %s: %w", key, err)
				}
				var output []*document.Object
				if len(input) > 0 {
					output, err = m.runReduce(key, input, stats)
					if err != nil {
						continue
					}
				}
				results = append(results, finalResult{key: key, records: output})
				a.MaybePulse()
			}
			return m.writeResults(w, results)
		})
		if err != nil {
			return err
		}
		return a.DeleteScheduledReductions(m.def.Name, levelFinal, scheduled)
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.AddError("", "Reduce", err)
		}
		return fmt.Errorf("reducing final level of %s: %w", m.def.Name, err)
	}
	if groups > 0 {
		m.metrics.Reduced(m.def.Name, levelFinal, groups)
		m.AddPerformanceStats(PerformanceStats{
			Operation: fmt.Sprintf("Reduce Level %d", levelFinal),
			Count:     groups,
			Duration:  time.Since(start),
			Started:   start,
		})
	}
	return nil
}

// writeResults replaces the entries of each reduced key. Changed counts the
// entries written plus the keys touched.
func (m *MapReduceIndex) writeResults(w *index.Writer, results []finalResult) (*WriteBatch, error) {
	enc := encoder.New(m.def)
	batch := &WriteBatch{}
	for _, r := range results {
		if err := w.DeleteDocuments(index.Term{Field: definition.ReduceKeyField, Text: r.key}); err != nil {
			return nil, err
		}
		batch.Changed++
		for _, rec := range r.records {
			d, err := m.encodeEntry(enc, rec, enc.ReduceKeyField(r.key), index.StoreYes)
			if err != nil {
				m.AddError(r.key, "Index", err)
				continue
			}
			if err := w.AddDocument(d); err != nil {
				return nil, err
			}
			batch.Documents = append(batch.Documents, d.Clone())
			batch.Changed++
		}
	}
	return batch, nil
}

// reduceKey extracts the group-by value of rec. Records without one are
// skipped.
func (m *MapReduceIndex) reduceKey(docID string, rec *document.Object) (string, bool) {
	v, err := safeGroupBy(m.def.GroupBy, rec)
	if err != nil {
		m.AddError(docID, "Map", err)
		return "", false
	}
	key, err := reducekey.Encode(v)
	if err != nil {
		m.logger.Debug("skipping map output without reduce key", "doc_id", docID, "error", err)
		return "", false
	}
	return key, true
}

func uniqueReduceKeys(scheduled []storage.ReduceKeyAndBucket) []string {
	seen := make(map[string]struct{}, len(scheduled))
	keys := make([]string, 0, len(scheduled))
	for _, k := range scheduled {
		if _, ok := seen[k.ReduceKey]; ok {
			continue
		}
		seen[k.ReduceKey] = struct{}{}
		keys = append(keys, k.ReduceKey)
	}
	return keys
}

func safeGroupBy(fn definition.GroupByFunc, rec *document.Object) (v document.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("group-by panic: %v", r)
		}
	}()
	return fn(rec), nil
}
