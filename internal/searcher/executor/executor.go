// Package executor runs queries against a point-in-time index reader. It
// pages over logical results, suppresses duplicate keys and projections,
// intersects INTERSECT sub-clauses and attaches highlight fragments.
package executor

import (
	"errors"
	"iter"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/metrics"
)

const (
	DefaultPageSize = 128
	// IntersectSeparator splits a query into clauses that must all match.
	IntersectSeparator = " INTERSECT "
)

// ErrSequenceConsumed is yielded when a result sequence is iterated twice.
var ErrSequenceConsumed = errors.New("result sequence already consumed")

type SortedField struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// HighlightedField asks for fragments of Field. When FragmentsField is set
// and the result carries a projection the fragments go into the projection
// under that name instead of the highlightings map.
type HighlightedField struct {
	Field          string `json:"field"`
	FragmentLength int    `json:"fragment_length,omitempty"`
	FragmentCount  int    `json:"fragment_count,omitempty"`
	FragmentsField string `json:"fragments_field,omitempty"`
}

type SpatialQuery struct {
	Field    string                `json:"field,omitempty"`
	Lat      float64               `json:"lat"`
	Lng      float64               `json:"lng"`
	RadiusKm float64               `json:"radius_km"`
	Relation index.SpatialRelation `json:"relation"`
}

// Query is one request against an index.
type Query struct {
	Query               string
	Start               int
	PageSize            int
	SortedFields        []SortedField
	FieldsToFetch       []string
	IsDistinct          bool
	HighlightedFields   []HighlightedField
	HighlighterPreTags  []string
	HighlighterPostTags []string
	DefaultField        string
	DefaultOperator     parser.Operator
	Spatial             *SpatialQuery
}

type Result struct {
	Key           string              `json:"key"`
	Score         float32             `json:"score"`
	Projection    *document.Object    `json:"projection,omitempty"`
	Highlightings map[string][]string `json:"highlightings,omitempty"`
}

// Stats describe an executed query. They are complete once the result
// sequence has been drained or abandoned.
type Stats struct {
	TotalResults    int           `json:"total_results"`
	SkippedResults  int           `json:"skipped_results"`
	IndexTimestamp  time.Time     `json:"index_timestamp"`
	SnapshotVersion int64         `json:"snapshot_version"`
	Duration        time.Duration `json:"duration"`
}

type Options struct {
	// Planner parses and caches query plans. When nil the executor plans
	// with a private planner over Analyzers.
	Planner         *parser.Planner
	Analyzers       *tokenizer.PerField
	Metrics         *metrics.Metrics
	IndexTimestamp  time.Time
	SnapshotVersion int64
}

type Executor struct {
	reader *index.Reader
	def    *definition.Index
	opts   Options
	logger *slog.Logger
}

func New(reader *index.Reader, def *definition.Index, opts Options) *Executor {
	if opts.Planner == nil {
		analyzers := opts.Analyzers
		if analyzers == nil {
			analyzers = tokenizer.NewPerField(tokenizer.LowerCaseKeyword{})
		}
		opts.Planner = parser.NewPlanner(def, analyzers, 1)
	}
	return &Executor{
		reader: reader,
		def:    def,
		opts:   opts,
		logger: logger.ForIndex("query-executor", def.Name),
	}
}

// Execute validates and plans q. Nothing is searched until the results are
// iterated.
func (e *Executor) Execute(q Query) (*Operation, error) {
	p, err := Prepare(e.def, e.opts.Planner, q)
	if err != nil {
		return nil, err
	}
	return e.Run(p), nil
}

// Run starts an operation for an already prepared query.
func (e *Executor) Run(p *Prepared) *Operation {
	return &Operation{
		e: e,
		p: p,
		stats: Stats{
			IndexTimestamp:  e.opts.IndexTimestamp,
			SnapshotVersion: e.opts.SnapshotVersion,
		},
	}
}

// Operation is a single-use query execution.
type Operation struct {
	e        *Executor
	p        *Prepared
	consumed atomic.Bool
	stats    Stats
}

func (o *Operation) Stats() Stats { return o.stats }

// Results yields the page in order. The sequence can be iterated once;
// later iterations yield ErrSequenceConsumed. Breaking out early stops
// all further work.
func (o *Operation) Results() iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		if !o.consumed.CompareAndSwap(false, true) {
			yield(Result{}, ErrSequenceConsumed)
			return
		}
		start := time.Now()
		page := o.collect()
		returned := 0
		for _, h := range page {
			returned++
			if !yield(o.result(h), nil) {
				break
			}
		}
		o.stats.Duration = time.Since(start)
		o.record(returned)
	}
}

func (o *Operation) record(returned int) {
	resultType := "hit"
	if o.stats.TotalResults == 0 {
		resultType = "zero_result"
	}
	o.e.opts.Metrics.Query(o.e.def.Name, resultType, "none", o.stats.Duration, o.stats.SkippedResults)
	o.e.logger.Debug("query executed",
		"query", o.p.q.Query,
		"total", o.stats.TotalResults,
		"returned", returned,
		"skipped", o.stats.SkippedResults,
		"duration", o.stats.Duration,
	)
}

// hit is a search hit with its stored fields loaded.
type hit struct {
	doc        int
	score      float32
	key        string
	stored     []index.StoredField
	projection *document.Object
}

func (o *Operation) load(sd index.ScoreDoc) hit {
	stored := o.e.reader.Document(sd.Doc)
	h := hit{doc: sd.Doc, score: sd.Score, stored: stored}
	keyField := definition.DocumentIDField
	if o.e.def.IsMapReduce() {
		keyField = definition.ReduceKeyField
	}
	for _, sf := range stored {
		if sf.Name == keyField {
			h.key = sf.Value
			break
		}
	}
	if o.p.project {
		h.projection = o.p.projection(stored)
	}
	return h
}

func (o *Operation) result(h hit) Result {
	r := Result{Key: h.key, Score: h.score, Projection: h.projection}
	for _, hf := range o.p.q.HighlightedFields {
		fragments := o.p.highlight(o.e.reader, h, hf)
		if len(fragments) == 0 {
			continue
		}
		if hf.FragmentsField != "" && r.Projection != nil {
			values := make([]document.Value, len(fragments))
			for i, f := range fragments {
				values[i] = document.String(f)
			}
			r.Projection.Set(hf.FragmentsField, document.Array(values...))
			continue
		}
		if r.Highlightings == nil {
			r.Highlightings = make(map[string][]string)
		}
		r.Highlightings[hf.Field] = fragments
	}
	return r
}

// collect gathers the requested page of logical results.
func (o *Operation) collect() []hit {
	if len(o.p.intersect) > 0 {
		return o.collectIntersection()
	}
	start, size := o.p.q.Start, o.p.pageSize
	reader, query, srt := o.e.reader, o.p.query, o.p.sort

	if size == math.MaxInt || start > math.MaxInt-size {
		top := reader.Search(query, 0, srt)
		page, skipped := o.page(top.ScoreDocs, start, size)
		o.stats.TotalResults, o.stats.SkippedResults = top.TotalHits, skipped
		return page
	}
	window := start + size
	for {
		top := reader.Search(query, window, srt)
		page, skipped := o.page(top.ScoreDocs, start, size)
		o.stats.TotalResults, o.stats.SkippedResults = top.TotalHits, skipped
		if len(page) == size || len(top.ScoreDocs) >= top.TotalHits {
			return page
		}
		// duplicates pushed results past the window: widen it and rescan
		window = min(window+max(2, skipped)*size, top.TotalHits)
	}
}

// collectIntersection seeds a window from the first clause and keeps the
// hits every other clause also matches, doubling the window until the page
// is full, the first clause is exhausted or widening stops adding hits.
func (o *Operation) collectIntersection() []hit {
	start, size := o.p.q.Start, o.p.pageSize
	reader := o.e.reader
	masks := make([]*roaring.Bitmap, len(o.p.intersect))
	for i, q := range o.p.intersect {
		masks[i] = reader.Matches(q)
	}
	window := 0
	if size != math.MaxInt && start <= math.MaxInt/2-size {
		window = (start + size) * 2
	}
	prev := -1
	for {
		top := reader.Search(o.p.query, window, o.p.sort)
		candidates := make([]index.ScoreDoc, 0, len(top.ScoreDocs))
		for _, sd := range top.ScoreDocs {
			all := true
			for _, m := range masks {
				if !m.Contains(uint32(sd.Doc)) {
					all = false
					break
				}
			}
			if all {
				candidates = append(candidates, sd)
			}
		}
		page, skipped := o.page(candidates, start, size)
		o.stats.TotalResults, o.stats.SkippedResults = len(candidates), skipped
		if window == 0 || len(page) == size || len(top.ScoreDocs) >= top.TotalHits || len(top.ScoreDocs) == prev {
			return page
		}
		prev = len(top.ScoreDocs)
		window = min(window*2, top.TotalHits)
	}
}

// page skips start logical results and returns up to size more. Hits that
// repeat an earlier key or projection are skipped and counted.
func (o *Operation) page(docs []index.ScoreDoc, start, size int) ([]hit, int) {
	seen := o.p.newDeduper()
	var out []hit
	logical, skipped := 0, 0
	for _, sd := range docs {
		h := o.load(sd)
		if seen != nil && !seen.add(h) {
			skipped++
			continue
		}
		if logical >= start {
			out = append(out, h)
			if len(out) == size {
				break
			}
		}
		logical++
	}
	return out, skipped
}
