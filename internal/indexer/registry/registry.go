// Package registry owns every open index of the engine. It dispatches
// document changes to each index, backfills new indexes from the record
// store and runs the background flush, reduce and merge loops.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

const backfillBatch = 256

// reducer is implemented by indexes with pending background reductions.
type reducer interface {
	Reduce(ctx context.Context) error
}

type Registry struct {
	indexes *xsync.MapOf[string, indexer.Indexer]
	store   storage.Store
	cfg     config.IndexerConfig
	opts    indexer.Options
	logger  *slog.Logger
}

func New(store storage.Store, cfg config.IndexerConfig, opts indexer.Options) *Registry {
	return &Registry{
		indexes: xsync.NewMapOf[string, indexer.Indexer](),
		store:   store,
		cfg:     cfg,
		opts:    opts,
		logger:  slog.Default().With("component", "index-registry"),
	}
}

// Register opens an index for def. Names are unique.
func (r *Registry) Register(def *definition.Index) (indexer.Indexer, error) {
	if _, ok := r.indexes.Load(def.Name); ok {
		return nil, apperrors.Validation("index %q is already registered", def.Name)
	}
	idx, err := indexer.Open(def, r.opts)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", def.Name, err)
	}
	var ix indexer.Indexer
	if def.IsMapReduce() {
		ix = indexer.NewMapReduceIndex(idx, r.store)
	} else {
		ix = indexer.NewSimpleIndex(idx)
	}
	if _, loaded := r.indexes.LoadOrStore(def.Name, ix); loaded {
		idx.Dispose()
		return nil, apperrors.Validation("index %q is already registered", def.Name)
	}
	r.logger.Info("index registered", "index", def.Name, "map_reduce", def.IsMapReduce())
	return ix, nil
}

// Unregister disposes the index and forgets it.
func (r *Registry) Unregister(name string) error {
	ix, ok := r.indexes.LoadAndDelete(name)
	if !ok {
		return notFound(name)
	}
	return ix.Base().Dispose()
}

// Get returns the index called name.
func (r *Registry) Get(name string) (indexer.Indexer, error) {
	ix, ok := r.indexes.Load(name)
	if !ok {
		return nil, notFound(name)
	}
	return ix, nil
}

func notFound(name string) error {
	return apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "index %q does not exist", name)
}

// Names lists registered indexes in name order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.indexes.Size())
	r.indexes.Range(func(name string, _ indexer.Indexer) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

func (r *Registry) all() []indexer.Indexer {
	out := make([]indexer.Indexer, 0, r.indexes.Size())
	r.indexes.Range(func(_ string, ix indexer.Indexer) bool {
		out = append(out, ix)
		return true
	})
	return out
}

// each runs fn on every index concurrently. Every index is visited even when
// some fail; the first error is returned.
func (r *Registry) each(fn func(ix indexer.Indexer) error) error {
	var g errgroup.Group
	for _, ix := range r.all() {
		g.Go(func() error {
			if err := fn(ix); err != nil {
				return fmt.Errorf("index %s: %w", ix.Base().Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Put saves the documents to the record store and indexes them everywhere.
func (r *Registry) Put(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	err := r.store.Batch(ctx, func(a storage.Actions) error {
		for _, doc := range docs {
			if err := a.PutDocument(doc); err != nil {
				return fmt.Errorf("saving document %s: %w", doc.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.each(func(ix indexer.Indexer) error {
		return ix.IndexDocuments(ctx, docs)
	})
}

// Delete removes the documents from the record store and from every index.
func (r *Registry) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.store.Batch(ctx, func(a storage.Actions) error {
		for _, id := range ids {
			if err := a.DeleteDocument(id); err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
				return fmt.Errorf("deleting document %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.each(func(ix indexer.Indexer) error {
		return ix.Remove(ctx, ids)
	})
}

// Backfill indexes every stored document into the named index.
func (r *Registry) Backfill(ctx context.Context, name string) error {
	ix, err := r.Get(name)
	if err != nil {
		return err
	}
	var docs []document.Document
	err = r.store.Batch(ctx, func(a storage.Actions) error {
		return a.ScanDocuments(func(doc document.Document) error {
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("scanning documents for %s: %w", name, err)
	}
	for batch := range slices.Chunk(docs, backfillBatch) {
		if err := ix.IndexDocuments(ctx, batch); err != nil {
			return err
		}
	}
	r.logger.Info("index backfilled", "index", name, "documents", len(docs))
	return nil
}

func (r *Registry) FlushAll(ctx context.Context) error {
	return r.each(func(ix indexer.Indexer) error {
		return ix.Base().Flush(ctx)
	})
}

// ReduceAll drains scheduled reductions of every map-reduce index.
func (r *Registry) ReduceAll(ctx context.Context) error {
	return r.each(func(ix indexer.Indexer) error {
		if red, ok := ix.(reducer); ok {
			return red.Reduce(ctx)
		}
		return nil
	})
}

// MergeAll compacts the indexes holding more segments than allowed.
func (r *Registry) MergeAll(ctx context.Context) error {
	limit := r.cfg.MaxSegmentsBeforeMerge
	return r.each(func(ix indexer.Indexer) error {
		if limit > 0 && ix.Base().SegmentCount() <= limit {
			return nil
		}
		return ix.Base().MergeSegments(ctx)
	})
}

// Start runs the background loops until ctx is done. Disabled intervals
// skip their loop.
func (r *Registry) Start(ctx context.Context) {
	r.loop(ctx, "flush", r.cfg.FlushInterval, r.FlushAll)
	r.loop(ctx, "reduce", r.cfg.ReduceInterval, r.ReduceAll)
	r.loop(ctx, "merge", r.cfg.MergeInterval, r.MergeAll)
}

func (r *Registry) loop(ctx context.Context, name string, every time.Duration, fn func(context.Context) error) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("background loop stopping", "loop", name)
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					r.logger.Error("background loop failed", "loop", name, "error", err)
				}
			}
		}
	}()
}

// Close flushes and disposes every index.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, ix := range r.all() {
		base := ix.Base()
		if err := base.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing %s: %w", base.Name(), err))
		}
		if err := base.Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("disposing %s: %w", base.Name(), err))
		}
		r.indexes.Delete(base.Name())
	}
	return errors.Join(errs...)
}
