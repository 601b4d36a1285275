// Package storage defines the durable record store behind the indexes: raw
// documents, map results, scheduled reductions and intermediate reduce
// results. All access happens inside Store.Batch, which is atomic.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
)

var ErrDocumentNotFound = errors.New("document not found")

// AllBuckets selects reduced results regardless of their bucket.
const AllBuckets = -1

// MappedResult is one record produced by mapping a source document.
type MappedResult struct {
	Index      string
	DocumentID string
	ReduceKey  string
	Bucket     int
	Data       *document.Object
	Timestamp  time.Time
}

// ReducedResult is one record produced by an intermediate reduce level.
// SourceBucket is the bucket it was reduced from and Bucket the one it
// feeds at the next level.
type ReducedResult struct {
	Index        string
	ReduceKey    string
	Level        int
	SourceBucket int
	Bucket       int
	Data         *document.Object
	Timestamp    time.Time
}

// ReduceKeyAndBucket identifies the slice of a reduce key held in one bucket.
type ReduceKeyAndBucket struct {
	Bucket    int
	ReduceKey string
}

// Actions are the operations available inside a batch.
type Actions interface {
	GetDocument(id string) (document.Document, error)
	PutDocument(doc document.Document) error
	DeleteDocument(id string) error
	// ScanDocuments visits every stored document in id order.
	ScanDocuments(fn func(document.Document) error) error

	PutMappedResult(r MappedResult) error
	// DeleteMappedResultsForDocument removes the document's map output for
	// the index and returns the slices it touched.
	DeleteMappedResultsForDocument(index, documentID string) ([]ReduceKeyAndBucket, error)
	GetMappedResults(index, reduceKey string, bucket int) ([]*document.Object, error)

	ScheduleReductions(index string, level int, keys []ReduceKeyAndBucket) error
	ScheduledReductions(index string, level int) ([]ReduceKeyAndBucket, error)
	DeleteScheduledReductions(index string, level int, keys []ReduceKeyAndBucket) error

	PutReducedResult(r ReducedResult) error
	DeleteReducedResults(index, reduceKey string, level, sourceBucket int) error
	// GetReducedResults returns the results of a level feeding bucket, or
	// of every bucket when bucket is AllBuckets.
	GetReducedResults(index, reduceKey string, level, bucket int) ([]*document.Object, error)

	// DeleteIndex drops every row belonging to the index.
	DeleteIndex(index string) error

	// MaybePulse gives long batches a chance to checkpoint.
	MaybePulse()
}

// Store runs batches of actions atomically: either every change of fn is
// kept or, when fn returns an error, none is.
type Store interface {
	Batch(ctx context.Context, fn func(Actions) error) error
	Close() error
}

// DedupeKeys removes repeated keys, keeping first occurrences.
func DedupeKeys(keys []ReduceKeyAndBucket) []ReduceKeyAndBucket {
	seen := make(map[ReduceKeyAndBucket]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// CompareKeys orders keys by reduce key, then bucket.
func CompareKeys(x, y ReduceKeyAndBucket) int {
	if c := strings.Compare(x.ReduceKey, y.ReduceKey); c != 0 {
		return c
	}
	return x.Bucket - y.Bucket
}
