package indexer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/encoder"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

// Indexer is what the registry drives for every index.
type Indexer interface {
	Base() *Index
	IndexDocuments(ctx context.Context, docs []document.Document) error
	Remove(ctx context.Context, ids []string) error
}

// SimpleIndex indexes the map output of each document directly, one index
// entry per output record.
type SimpleIndex struct {
	*Index
}

var _ Indexer = (*SimpleIndex)(nil)

func NewSimpleIndex(idx *Index) *SimpleIndex {
	return &SimpleIndex{Index: idx}
}

func (s *SimpleIndex) Base() *Index { return s.Index }

func documentTerm(id string) index.Term {
	return index.Term{Field: definition.DocumentIDField, Text: strings.ToLower(id)}
}

func (s *SimpleIndex) IndexDocuments(ctx context.Context, docs []document.Document) error {
	start := time.Now()
	var count int
	_, err := s.write(ctx, "IndexDocuments", func(w *index.Writer, stats *WorkStats) (*WriteBatch, error) {
		enc := encoder.New(s.def)
		batch := &WriteBatch{}
		for _, doc := range docs {
			if err := w.DeleteDocuments(documentTerm(doc.ID)); err != nil {
				return nil, err
			}
			batch.Changed++
			count++

			records, err := s.runMaps(doc, stats)
			if err != nil {
				continue
			}
			for _, rec := range records {
				d, err := s.encodeEntry(enc, rec, enc.DocumentIDField(doc.ID), index.StoreNo)
				if err != nil {
					stats.IndexingErrors++
					s.AddError(doc.ID, "Index", err)
					continue
				}
				if err := w.AddDocument(d); err != nil {
					return nil, err
				}
				batch.Documents = append(batch.Documents, d.Clone())
				batch.Changed++
			}
			stats.IndexingSuccesses++
		}
		return batch, nil
	})
	s.AddPerformanceStats(PerformanceStats{Operation: "Index", Count: count, Duration: time.Since(start), Started: start})
	return err
}

func (s *SimpleIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.write(ctx, "Remove", func(w *index.Writer, _ *WorkStats) (*WriteBatch, error) {
		terms := make([]index.Term, len(ids))
		for n, id := range ids {
			terms[n] = documentTerm(id)
		}
		if err := w.DeleteDocuments(terms...); err != nil {
			return nil, err
		}
		return &WriteBatch{Changed: len(ids)}, nil
	})
	return err
}

// encodeEntry builds one index document from a record and the reserved key
// field identifying it. The document must be added before the encoder is
// used again.
func (i *Index) encodeEntry(enc *encoder.Encoder, rec *document.Object, key *index.Field, storage index.Store) (*index.Document, error) {
	fields, err := enc.EncodeObject(rec, storage)
	if err != nil {
		return nil, err
	}
	d := &index.Document{Fields: make([]*index.Field, 0, len(fields)+1)}
	d.Add(key)
	for _, f := range fields {
		d.Add(f)
	}
	return d, nil
}

// runMaps runs every map function of the definition over doc. A failing or
// panicking map skips the whole document.
func (i *Index) runMaps(doc document.Document, stats *WorkStats) ([]*document.Object, error) {
	stats.IndexingAttempts++
	var out []*document.Object
	for n, fn := range i.def.Maps {
		records, err := safeMap(fn, doc)
		if err != nil {
			stats.IndexingErrors++
			mapErr := apperrors.Newf(apperrors.ErrMapEvaluation, http.StatusInternalServerError,
				"map #%d of index %q failed on %s: %v", n, i.def.Name, doc.ID, err)
			i.AddError(doc.ID, "Map", mapErr)
			return nil, mapErr
		}
		out = append(out, records...)
	}
	return out, nil
}

// runReduce applies the reduce function. Failures are recorded against key.
func (i *Index) runReduce(key string, records []*document.Object, stats *WorkStats) ([]*document.Object, error) {
	stats.ReduceAttempts++
	out, err := safeReduce(i.def.Reduce, records)
	if err != nil {
		stats.ReduceErrors++
		reduceErr := apperrors.Newf(apperrors.ErrReduceEvaluation, http.StatusInternalServerError,
			"reduce of index %q failed for %s: %v", i.def.Name, key, err)
		i.AddError(key, "Reduce", reduceErr)
		return nil, reduceErr
	}
	stats.ReduceSuccesses++
	return out, nil
}

func safeMap(fn definition.MapFunc, doc document.Document) (records []*document.Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(doc)
}

func safeReduce(fn definition.ReduceFunc, records []*document.Object) (out []*document.Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(records)
}
