package indexer

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

// QueryResult is a prepared query bound to this index. The snapshot is
// taken when iteration starts, not when the query is prepared.
type QueryResult struct {
	idx      *Index
	ctx      context.Context
	prepared *executor.Prepared
	consumed atomic.Bool
	stats    executor.Stats
}

// Query validates and plans q synchronously. Validation failures are
// returned here; nothing is searched until All is iterated.
func (i *Index) Query(ctx context.Context, q executor.Query) (*QueryResult, error) {
	if i.disposed.Load() {
		return nil, apperrors.Disposed(i.def.Name)
	}
	p, err := executor.Prepare(i.def, i.planner, q)
	if err != nil {
		return nil, err
	}
	return &QueryResult{idx: i, ctx: ctx, prepared: p}, nil
}

// Stats are complete once All has been drained or abandoned.
func (r *QueryResult) Stats() executor.Stats { return r.stats }

// All yields the page in order. It can be iterated once; the snapshot is
// released when iteration ends, including when the caller breaks.
func (r *QueryResult) All() iter.Seq2[executor.Result, error] {
	return func(yield func(executor.Result, error) bool) {
		if !r.consumed.CompareAndSwap(false, true) {
			yield(executor.Result{}, executor.ErrSequenceConsumed)
			return
		}
		if err := r.ctx.Err(); err != nil {
			yield(executor.Result{}, err)
			return
		}
		snap, err := r.idx.Snapshot()
		if err != nil {
			yield(executor.Result{}, err)
			return
		}
		defer snap.Release()
		r.idx.MarkQueried(time.Now())

		ex := executor.New(snap.Reader(), r.idx.def, executor.Options{
			Planner:         r.idx.planner,
			Metrics:         r.idx.metrics,
			IndexTimestamp:  snap.Timestamp(),
			SnapshotVersion: snap.Version(),
		})
		op := ex.Run(r.prepared)
		defer func() { r.stats = op.Stats() }()
		for res, err := range op.Results() {
			if err == nil {
				err = r.ctx.Err()
			}
			if !yield(res, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the result sequence into a slice.
func (r *QueryResult) Collect() ([]executor.Result, error) {
	var out []executor.Result
	for res, err := range r.All() {
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}
