// Package indexer runs user-defined indexes: it owns the single write
// session of each index, publishes point-in-time snapshots to readers and
// drives the map-only and map-reduce pipelines that feed the index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/metrics"
)

const (
	defaultMaxErrors      = 50
	defaultDisposeTimeout = 5 * time.Second
	maxPerformanceStats   = 25
	disposeLockWarning    = 100 * time.Millisecond
)

// WorkStats counts the outcome of one write session.
type WorkStats struct {
	IndexingAttempts  int
	IndexingSuccesses int
	IndexingErrors    int
	ReduceAttempts    int
	ReduceSuccesses   int
	ReduceErrors      int
}

// WriteBatch is what a mutator reports back: how many entries it changed and
// the documents it added, for listeners.
type WriteBatch struct {
	Changed   int
	Documents []*index.Document
}

// Mutator applies changes through the index writer.
type Mutator func(w *index.Writer, stats *WorkStats) (*WriteBatch, error)

// Listener is told about every committed write session.
type Listener interface {
	IndexChanged(ctx context.Context, index string, batch *WriteBatch)
}

// ErrorRecord is an indexing failure kept for operators.
type ErrorRecord struct {
	Index     string    `json:"index"`
	Key       string    `json:"key,omitempty"`
	Action    string    `json:"action"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PerformanceStats describes one pipeline step.
type PerformanceStats struct {
	Operation string        `json:"operation"`
	Count     int           `json:"count"`
	Duration  time.Duration `json:"duration"`
	Started   time.Time     `json:"started"`
}

// Options configures an Index.
type Options struct {
	DataDir           string
	RunInMemory       bool
	TempIndexMaxBytes int64
	DisposeTimeout    time.Duration
	MaxErrors         int
	PlanCacheSize     int
	Metrics           *metrics.Metrics
	Listeners         []Listener
	// OpenDirectory overrides where commit points are kept.
	OpenDirectory func(name string) (index.Directory, error)
}

func OptionsFromConfig(cfg config.IndexerConfig, m *metrics.Metrics) Options {
	return Options{
		DataDir:           cfg.DataDir,
		RunInMemory:       cfg.RunInMemory,
		TempIndexMaxBytes: cfg.TempIndexMaxBytes,
		DisposeTimeout:    cfg.DisposeTimeout,
		MaxErrors:         cfg.MaxErrors,
		PlanCacheSize:     cfg.QueryPlanCacheSize,
		Metrics:           m,
	}
}

// Index owns the writer and snapshots of one index definition. Writes are
// serialised by a per-index lock; readers work on snapshots and never wait
// for writers.
type Index struct {
	def       *definition.Index
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics
	analyzers *tokenizer.PerField
	planner   *parser.Planner

	writeLock  chan struct{}
	waitReason atomic.Value
	writer     *index.Writer
	inMemory   bool

	snapMu  sync.Mutex
	current *snapshot
	version int64

	disposing atomic.Bool
	disposed  atomic.Bool

	errMu  sync.Mutex
	errors []ErrorRecord

	perfMu sync.Mutex
	perf   []PerformanceStats

	lastQuery   atomic.Int64
	lastIndexed atomic.Int64
}

// Open opens the index, loading its newest commit point.
func Open(def *definition.Index, opts Options) (*Index, error) {
	if err := def.Validate(); err != nil {
		return nil, apperrors.Validation("%s", err.Error())
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = defaultMaxErrors
	}
	if opts.DisposeTimeout <= 0 {
		opts.DisposeTimeout = defaultDisposeTimeout
	}
	analyzers, err := buildAnalyzers(def)
	if err != nil {
		return nil, apperrors.Validation("index %q: %s", def.Name, err.Error())
	}
	i := &Index{
		def:       def,
		opts:      opts,
		logger:    logger.ForIndex("indexer", def.Name),
		metrics:   opts.Metrics,
		analyzers: analyzers,
		planner:   parser.NewPlanner(def, analyzers, opts.PlanCacheSize),
		writeLock: make(chan struct{}, 1),
	}
	i.waitReason.Store("")
	if err := i.ensureWriter(); err != nil {
		return nil, err
	}
	i.publish(i.writer.Reader())
	i.logger.Info("index opened",
		"docs", i.writer.Reader().NumDocs(),
		"segments", i.writer.SegmentCount(),
		"generation", i.writer.Generation(),
		"in_memory", i.inMemory,
	)
	return i, nil
}

// buildAnalyzers maps analyzed fields to their analyzer. Fields without an
// explicit analyzer compare case-insensitively as a whole.
func buildAnalyzers(def *definition.Index) (*tokenizer.PerField, error) {
	pf := tokenizer.NewPerField(tokenizer.LowerCaseKeyword{})
	for field, mode := range def.Indexes {
		if mode == definition.IndexingAnalyzed {
			pf.Set(field, tokenizer.StandardAnalyzer())
		}
	}
	for field, name := range def.Analyzers {
		a, err := tokenizer.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		pf.Set(field, a)
	}
	return pf, nil
}

func (i *Index) Name() string { return i.def.Name }

func (i *Index) Definition() *definition.Index { return i.def }

func (i *Index) Analyzers() *tokenizer.PerField { return i.analyzers }

func (i *Index) openDirectory() (index.Directory, bool, error) {
	if i.opts.OpenDirectory != nil {
		dir, err := i.opts.OpenDirectory(i.def.Name)
		return dir, false, err
	}
	if i.opts.RunInMemory {
		return index.RAMDirectory{}, false, nil
	}
	if i.def.IsTemp {
		return index.RAMDirectory{}, true, nil
	}
	dir, err := segment.OpenFSDirectory(filepath.Join(i.opts.DataDir, i.def.Name))
	return dir, false, err
}

// ensureWriter opens the writer when there is none. Callers hold the write
// lock, or are Open.
func (i *Index) ensureWriter() error {
	if i.writer != nil {
		return nil
	}
	dir, temp, err := i.openDirectory()
	if err != nil {
		return fmt.Errorf("opening directory of index %s: %w", i.def.Name, err)
	}
	w, err := index.OpenWriter(dir, i.analyzers)
	if err != nil {
		dir.Close()
		return fmt.Errorf("opening writer of index %s: %w", i.def.Name, err)
	}
	i.writer = w
	i.inMemory = temp
	return nil
}

// dropWriter discards the writer so the next session reloads the last
// durable commit point. Writers over memory keep their last commit.
func (i *Index) dropWriter() {
	if i.writer == nil {
		return
	}
	dir := i.writer.Directory()
	if !dir.Persistent() {
		i.writer.Rollback()
		return
	}
	i.writer.Close()
	if err := dir.Close(); err != nil {
		i.logger.Error("closing index directory", "error", err)
	}
	i.writer = nil
}

func (i *Index) acquire(ctx context.Context, reason string) error {
	select {
	case i.writeLock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	i.waitReason.Store(reason)
	return nil
}

func (i *Index) release() {
	i.waitReason.Store("")
	<-i.writeLock
}

// Write runs mutate in an exclusive write session and commits what it
// changed. It returns the number of changed entries.
func (i *Index) Write(ctx context.Context, mutate Mutator) (int, error) {
	return i.write(ctx, "Write", mutate)
}

func (i *Index) write(ctx context.Context, reason string, mutate Mutator) (int, error) {
	if i.disposed.Load() {
		return 0, apperrors.Disposed(i.def.Name)
	}
	if err := i.acquire(ctx, reason); err != nil {
		return 0, err
	}
	defer i.release()
	if i.disposed.Load() {
		return 0, apperrors.Disposed(i.def.Name)
	}

	if err := i.ensureWriter(); err != nil {
		i.AddError("", "Write", err)
		return 0, err
	}

	start := time.Now()
	stats := &WorkStats{}
	batch, err := mutate(i.writer, stats)
	if err != nil {
		i.writer.Rollback()
		i.AddError("", "Write", err)
		i.metrics.Commit(i.def.Name, 0, time.Since(start), err)
		return 0, fmt.Errorf("writing index %s: %w", i.def.Name, err)
	}
	if batch == nil || batch.Changed <= 0 {
		i.writer.Rollback()
		return 0, nil
	}

	if i.inMemory && i.opts.TempIndexMaxBytes > 0 && i.writer.RAMBytes() > i.opts.TempIndexMaxBytes {
		if err := i.materialize(); err != nil {
			// keep serving from memory and try again on the next session
			i.AddError("", "Materialize", err)
		}
	}

	reader, err := i.writer.Commit()
	if err != nil {
		commitErr := apperrors.Commit(i.def.Name, err)
		i.AddError("", "Commit", commitErr)
		i.metrics.Commit(i.def.Name, 0, time.Since(start), commitErr)
		i.dropWriter()
		return 0, commitErr
	}
	i.publish(reader)
	i.lastIndexed.Store(time.Now().UnixNano())
	i.metrics.Commit(i.def.Name, batch.Changed, time.Since(start), nil)
	i.metrics.Segments(i.def.Name, reader.SegmentCount())
	for _, l := range i.opts.Listeners {
		l.IndexChanged(ctx, i.def.Name, batch)
	}
	i.logger.Debug("write session committed",
		"reason", reason,
		"changed", batch.Changed,
		"generation", reader.Generation(),
		"indexing_errors", stats.IndexingErrors,
		"reduce_errors", stats.ReduceErrors,
	)
	return batch.Changed, nil
}

// materialize moves a temp index from memory to its on-disk directory.
func (i *Index) materialize() error {
	if i.opts.RunInMemory || i.opts.DataDir == "" {
		return nil
	}
	dir, err := segment.OpenFSDirectory(filepath.Join(i.opts.DataDir, i.def.Name))
	if err != nil {
		return fmt.Errorf("opening directory for temp index: %w", err)
	}
	if err := i.writer.MoveTo(dir); err != nil {
		return fmt.Errorf("materializing temp index: %w", err)
	}
	i.inMemory = false
	i.logger.Info("temp index materialized", "path", dir.Path(), "ram_bytes", i.writer.RAMBytes())
	return nil
}

// Flush commits anything left in the writer. Commit points are durable once
// written, so this only matters for sessions abandoned mid-way.
func (i *Index) Flush(ctx context.Context) error {
	if i.disposed.Load() {
		return nil
	}
	if err := i.acquire(ctx, "Flush"); err != nil {
		return err
	}
	defer i.release()
	if i.disposed.Load() || i.writer == nil || !i.writer.HasChanges() {
		return nil
	}
	reader, err := i.writer.Commit()
	if err != nil {
		commitErr := apperrors.Commit(i.def.Name, err)
		i.AddError("", "Flush", commitErr)
		return commitErr
	}
	i.publish(reader)
	return nil
}

// MergeSegments compacts the committed segments into one.
func (i *Index) MergeSegments(ctx context.Context) error {
	if i.disposed.Load() {
		return apperrors.Disposed(i.def.Name)
	}
	if err := i.acquire(ctx, "Merge"); err != nil {
		return err
	}
	defer i.release()
	if i.disposed.Load() {
		return apperrors.Disposed(i.def.Name)
	}
	if err := i.ensureWriter(); err != nil {
		return err
	}
	start := time.Now()
	before := i.writer.SegmentCount()
	if err := i.writer.Optimize(); err != nil {
		i.AddError("", "Merge", err)
		i.dropWriter()
		return fmt.Errorf("merging segments of %s: %w", i.def.Name, err)
	}
	reader := i.writer.Reader()
	i.publish(reader)
	i.metrics.Segments(i.def.Name, reader.SegmentCount())
	i.AddPerformanceStats(PerformanceStats{Operation: "Merge", Count: before, Duration: time.Since(start), Started: start})
	i.logger.Info("segments merged", "before", before, "after", reader.SegmentCount())
	return nil
}

// SegmentCount reports the segments of the current snapshot.
func (i *Index) SegmentCount() int {
	s, err := i.Snapshot()
	if err != nil {
		return 0
	}
	defer s.Release()
	return s.Reader().SegmentCount()
}

// Dispose retires the index. It waits for the write lock, then for readers
// of the current snapshot for at most the dispose timeout.
func (i *Index) Dispose() error {
	if !i.disposing.CompareAndSwap(false, true) {
		return nil
	}
	start := time.Now()
	for acquired := false; !acquired; {
		select {
		case i.writeLock <- struct{}{}:
			acquired = true
		case <-time.After(disposeLockWarning):
			i.logger.Warn("waiting for write lock to dispose index",
				"wait_reason", i.waitReason.Load(),
				"waited", time.Since(start),
			)
		}
	}
	defer func() { <-i.writeLock }()
	i.disposed.Store(true)

	i.snapMu.Lock()
	retired := i.current
	i.current = nil
	i.snapMu.Unlock()

	var disposeErr error
	if retired != nil {
		retired.decRef()
		select {
		case <-retired.done:
		case <-time.After(i.opts.DisposeTimeout):
			disposeErr = apperrors.Newf(apperrors.ErrConcurrencyTimeout, http.StatusInternalServerError,
				"index %q: readers still hold a snapshot after %s", i.def.Name, i.opts.DisposeTimeout)
			i.logger.Error("timed out waiting for snapshot readers", "error", disposeErr)
			i.AddError("", "Dispose", disposeErr)
		}
	}

	if i.writer != nil {
		dir := i.writer.Directory()
		i.writer.Close()
		if err := dir.Close(); err != nil {
			disposeErr = errors.Join(disposeErr, fmt.Errorf("closing directory of %s: %w", i.def.Name, err))
		}
		i.writer = nil
	}
	i.logger.Info("index disposed", "took", time.Since(start))
	return disposeErr
}

func (i *Index) Disposed() bool { return i.disposed.Load() }

// AddError records err against the index and counts it.
func (i *Index) AddError(key, action string, err error) {
	rec := ErrorRecord{
		Index:     i.def.Name,
		Key:       key,
		Action:    action,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	}
	i.errMu.Lock()
	i.errors = append(i.errors, rec)
	if len(i.errors) > i.opts.MaxErrors {
		i.errors = i.errors[len(i.errors)-i.opts.MaxErrors:]
	}
	i.errMu.Unlock()
	i.metrics.IndexError(i.def.Name, action)
	i.logger.Warn("index error recorded", "key", key, "action", action, "error", err)
}

// Errors returns the most recent recorded errors, oldest first.
func (i *Index) Errors() []ErrorRecord {
	i.errMu.Lock()
	defer i.errMu.Unlock()
	return append([]ErrorRecord(nil), i.errors...)
}

func (i *Index) AddPerformanceStats(s PerformanceStats) {
	i.perfMu.Lock()
	defer i.perfMu.Unlock()
	i.perf = append(i.perf, s)
	if len(i.perf) > maxPerformanceStats {
		i.perf = i.perf[len(i.perf)-maxPerformanceStats:]
	}
}

// PerformanceStats returns the most recent pipeline steps, oldest first.
func (i *Index) PerformanceStats() []PerformanceStats {
	i.perfMu.Lock()
	defer i.perfMu.Unlock()
	return append([]PerformanceStats(nil), i.perf...)
}

func (i *Index) MarkQueried(t time.Time) {
	i.lastQuery.Store(t.UnixNano())
}

func (i *Index) LastQueryTime() time.Time {
	return unixNanoTime(i.lastQuery.Load())
}

func (i *Index) LastIndexedTime() time.Time {
	return unixNanoTime(i.lastIndexed.Load())
}

func unixNanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Stats summarises the index for the admin surface.
type Stats struct {
	Name            string    `json:"name"`
	MapReduce       bool      `json:"mapReduce"`
	Documents       int       `json:"documents"`
	Segments        int       `json:"segments"`
	Generation      int64     `json:"generation"`
	SnapshotVersion int64     `json:"snapshotVersion"`
	SizeInBytes     int64     `json:"sizeInBytes"`
	Errors          int       `json:"errors"`
	LastIndexed     time.Time `json:"lastIndexed"`
	LastQueried     time.Time `json:"lastQueried"`
	Disposed        bool      `json:"disposed"`
}

func (i *Index) Stats() Stats {
	st := Stats{
		Name:        i.def.Name,
		MapReduce:   i.def.IsMapReduce(),
		LastIndexed: i.LastIndexedTime(),
		LastQueried: i.LastQueryTime(),
		Disposed:    i.disposed.Load(),
	}
	i.errMu.Lock()
	st.Errors = len(i.errors)
	i.errMu.Unlock()
	if s, err := i.Snapshot(); err == nil {
		r := s.Reader()
		st.Documents = r.NumDocs()
		st.Segments = r.SegmentCount()
		st.Generation = r.Generation()
		st.SizeInBytes = r.SizeInBytes()
		st.SnapshotVersion = s.Version()
		s.Release()
	}
	return st
}
