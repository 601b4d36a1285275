// Package boltstore keeps the record store in a single BoltDB file. Each
// batch is one read-write bolt transaction, so failed batches leave no trace.
package boltstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/boltdb/bolt"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
)

var (
	documentsBucket = []byte("documents")

	mappedBucket      = []byte("mapped")
	mappedByDocBucket = []byte("mapped_by_doc")
	reducedBucket     = []byte("reduced")
	scheduledBucket   = []byte("scheduled")
)

func indexBucketName(index string) []byte {
	return []byte("idx:" + index)
}

type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the bolt file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating bolt directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents bucket: %w", err)
	}
	logger := slog.Default().With("component", "bolt-store")
	logger.Info("bolt store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Batch(ctx context.Context, fn func(storage.Actions) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&actions{tx: tx})
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

type actions struct {
	tx *bolt.Tx
}

var _ storage.Actions = (*actions)(nil)

// index returns the nested buckets of an index, creating them on first use.
func (a *actions) index(name string) (*bolt.Bucket, error) {
	b, err := a.tx.CreateBucketIfNotExists(indexBucketName(name))
	if err != nil {
		return nil, fmt.Errorf("creating bucket for index %s: %w", name, err)
	}
	for _, sub := range [][]byte{mappedBucket, mappedByDocBucket, reducedBucket, scheduledBucket} {
		if _, err := b.CreateBucketIfNotExists(sub); err != nil {
			return nil, fmt.Errorf("creating %s bucket for index %s: %w", sub, name, err)
		}
	}
	return b, nil
}

func (a *actions) sub(index string, name []byte) (*bolt.Bucket, error) {
	b, err := a.index(index)
	if err != nil {
		return nil, err
	}
	return b.Bucket(name), nil
}

func (a *actions) GetDocument(id string) (document.Document, error) {
	v := a.tx.Bucket(documentsBucket).Get([]byte(strings.ToLower(id)))
	if v == nil {
		return document.Document{}, fmt.Errorf("%w: %s", storage.ErrDocumentNotFound, id)
	}
	var row documentRow
	if err := decodeRow(v, &row); err != nil {
		return document.Document{}, fmt.Errorf("reading document %s: %w", id, err)
	}
	return document.Document{ID: row.ID, Data: row.Data}, nil
}

func (a *actions) PutDocument(doc document.Document) error {
	v, err := encodeRow(documentRow{ID: doc.ID, Data: doc.Data})
	if err != nil {
		return fmt.Errorf("writing document %s: %w", doc.ID, err)
	}
	return a.tx.Bucket(documentsBucket).Put([]byte(strings.ToLower(doc.ID)), v)
}

func (a *actions) DeleteDocument(id string) error {
	return a.tx.Bucket(documentsBucket).Delete([]byte(strings.ToLower(id)))
}

func (a *actions) ScanDocuments(fn func(document.Document) error) error {
	return a.tx.Bucket(documentsBucket).ForEach(func(k, v []byte) error {
		var row documentRow
		if err := decodeRow(v, &row); err != nil {
			return fmt.Errorf("reading document %s: %w", k, err)
		}
		return fn(document.Document{ID: row.ID, Data: row.Data})
	})
}

func (a *actions) PutMappedResult(r storage.MappedResult) error {
	idx, err := a.index(r.Index)
	if err != nil {
		return err
	}
	mapped := idx.Bucket(mappedBucket)
	seq, err := mapped.NextSequence()
	if err != nil {
		return err
	}
	docKey := strings.ToLower(r.DocumentID)
	primary := newKey().str(r.ReduceKey).num(r.Bucket).str(docKey).seq(seq).build()
	v, err := encodeRow(mappedRow{
		DocumentID: r.DocumentID,
		ReduceKey:  r.ReduceKey,
		Bucket:     r.Bucket,
		Data:       r.Data,
		Timestamp:  r.Timestamp,
	})
	if err != nil {
		return err
	}
	if err := mapped.Put(primary, v); err != nil {
		return fmt.Errorf("writing mapped result: %w", err)
	}
	return idx.Bucket(mappedByDocBucket).Put(newKey().str(docKey).raw(primary).build(), []byte{})
}

func (a *actions) DeleteMappedResultsForDocument(index, documentID string) ([]storage.ReduceKeyAndBucket, error) {
	idx, err := a.index(index)
	if err != nil {
		return nil, err
	}
	mapped, byDoc := idx.Bucket(mappedBucket), idx.Bucket(mappedByDocBucket)
	prefix := newKey().str(strings.ToLower(documentID)).build()

	var secondary, primary [][]byte
	c := byDoc.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		secondary = append(secondary, bytes.Clone(k))
		primary = append(primary, bytes.Clone(k[len(prefix):]))
	}

	keys := make([]storage.ReduceKeyAndBucket, 0, len(primary))
	for _, k := range primary {
		v := mapped.Get(k)
		if v == nil {
			continue
		}
		var row mappedRow
		if err := decodeRow(v, &row); err != nil {
			return nil, err
		}
		keys = append(keys, storage.ReduceKeyAndBucket{Bucket: row.Bucket, ReduceKey: row.ReduceKey})
		if err := mapped.Delete(k); err != nil {
			return nil, err
		}
	}
	for _, k := range secondary {
		if err := byDoc.Delete(k); err != nil {
			return nil, err
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return storage.DedupeKeys(keys), nil
}

func (a *actions) GetMappedResults(index, reduceKey string, bucket int) ([]*document.Object, error) {
	mapped, err := a.sub(index, mappedBucket)
	if err != nil {
		return nil, err
	}
	prefix := newKey().str(reduceKey).num(bucket).build()
	var out []*document.Object
	c := mapped.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var row mappedRow
		if err := decodeRow(v, &row); err != nil {
			return nil, err
		}
		out = append(out, row.Data)
	}
	return out, nil
}

func (a *actions) ScheduleReductions(index string, level int, keys []storage.ReduceKeyAndBucket) error {
	scheduled, err := a.sub(index, scheduledBucket)
	if err != nil {
		return err
	}
	now, err := time.Now().MarshalBinary()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := scheduled.Put(newKey().num(level).str(k.ReduceKey).num(k.Bucket).build(), now); err != nil {
			return fmt.Errorf("scheduling reduction: %w", err)
		}
	}
	return nil
}

func (a *actions) ScheduledReductions(index string, level int) ([]storage.ReduceKeyAndBucket, error) {
	scheduled, err := a.sub(index, scheduledBucket)
	if err != nil {
		return nil, err
	}
	prefix := newKey().num(level).build()
	var out []storage.ReduceKeyAndBucket
	c := scheduled.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		reduceKey, bucket, err := parseScheduledKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.ReduceKeyAndBucket{Bucket: bucket, ReduceKey: reduceKey})
	}
	slices.SortFunc(out, storage.CompareKeys)
	return out, nil
}

func (a *actions) DeleteScheduledReductions(index string, level int, keys []storage.ReduceKeyAndBucket) error {
	scheduled, err := a.sub(index, scheduledBucket)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := scheduled.Delete(newKey().num(level).str(k.ReduceKey).num(k.Bucket).build()); err != nil {
			return err
		}
	}
	return nil
}

func (a *actions) PutReducedResult(r storage.ReducedResult) error {
	reduced, err := a.sub(r.Index, reducedBucket)
	if err != nil {
		return err
	}
	seq, err := reduced.NextSequence()
	if err != nil {
		return err
	}
	v, err := encodeRow(reducedRow{
		ReduceKey:    r.ReduceKey,
		Level:        r.Level,
		SourceBucket: r.SourceBucket,
		Bucket:       r.Bucket,
		Data:         r.Data,
		Timestamp:    r.Timestamp,
	})
	if err != nil {
		return err
	}
	k := newKey().str(r.ReduceKey).num(r.Level).num(r.SourceBucket).seq(seq).build()
	return reduced.Put(k, v)
}

func (a *actions) DeleteReducedResults(index, reduceKey string, level, sourceBucket int) error {
	reduced, err := a.sub(index, reducedBucket)
	if err != nil {
		return err
	}
	prefix := newKey().str(reduceKey).num(level).num(sourceBucket).build()
	var doomed [][]byte
	c := reduced.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		doomed = append(doomed, bytes.Clone(k))
	}
	for _, k := range doomed {
		if err := reduced.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (a *actions) GetReducedResults(index, reduceKey string, level, bucket int) ([]*document.Object, error) {
	reduced, err := a.sub(index, reducedBucket)
	if err != nil {
		return nil, err
	}
	prefix := newKey().str(reduceKey).num(level).build()
	var out []*document.Object
	c := reduced.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var row reducedRow
		if err := decodeRow(v, &row); err != nil {
			return nil, err
		}
		if bucket != storage.AllBuckets && row.Bucket != bucket {
			continue
		}
		out = append(out, row.Data)
	}
	return out, nil
}

func (a *actions) DeleteIndex(index string) error {
	err := a.tx.DeleteBucket(indexBucketName(index))
	if errors.Is(err, bolt.ErrBucketNotFound) {
		return nil
	}
	return err
}

// MaybePulse is a no-op: a bolt transaction cannot be split without losing
// the atomicity of the batch.
func (a *actions) MaybePulse() {}
