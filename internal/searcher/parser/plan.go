package parser

import (
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/encoder"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
)

const DefaultPlanCacheSize = 512

// Plan is a parsed query together with the fields it references. Plans
// are immutable and shared between concurrent queries.
type Plan struct {
	Query  index.Query
	Fields []string
}

type planKey struct {
	query string
	opts  Options
}

// Planner parses queries for one index and caches the plans.
type Planner struct {
	def       *definition.Index
	analyzers *tokenizer.PerField
	cache     *lru.Cache[planKey, *Plan]
}

func NewPlanner(def *definition.Index, analyzers *tokenizer.PerField, cacheSize int) *Planner {
	if cacheSize <= 0 {
		cacheSize = DefaultPlanCacheSize
	}
	cache, _ := lru.New[planKey, *Plan](cacheSize)
	return &Planner{def: def, analyzers: analyzers, cache: cache}
}

// Plan returns the cached plan for query or parses a new one. Parse errors
// are not cached.
func (p *Planner) Plan(query string, opts Options) (*Plan, error) {
	key := planKey{query: query, opts: opts}
	if plan, ok := p.cache.Get(key); ok {
		return plan, nil
	}
	q, err := Parse(query, p.def, p.analyzers, opts)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Query: q, Fields: Fields(q)}
	p.cache.Add(key, plan)
	return plan, nil
}

func (p *Planner) Len() int { return p.cache.Len() }

// Fields lists the distinct field names q references, in order of first
// appearance.
func Fields(q index.Query) []string {
	var out []string
	add := func(f string) {
		if f != "" && !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	var walk func(index.Query)
	walk = func(q index.Query) {
		switch q := q.(type) {
		case *index.TermQuery:
			add(q.Field)
		case *index.PhraseQuery:
			add(q.Field)
		case *index.WildcardQuery:
			add(q.Field)
		case *index.PrefixQuery:
			add(q.Field)
		case *index.TermRangeQuery:
			add(q.Field)
		case *index.NumericRangeQuery:
			add(q.Field)
		case *index.TermsQuery:
			add(q.Field)
		case *index.SpatialQuery:
			add(q.Field)
		case *index.BooleanQuery:
			for _, c := range q.Clauses {
				walk(c.Query)
			}
		}
	}
	walk(q)
	return out
}

// StripRange returns the field a derived _Range field belongs to.
func StripRange(field string) string {
	return strings.TrimSuffix(field, encoder.RangeSuffix)
}

func withBoost(q index.Query, boost float32) index.Query {
	switch q := q.(type) {
	case *index.TermQuery:
		q.Boost = boost
	case *index.PhraseQuery:
		q.Boost = boost
	case *index.WildcardQuery:
		q.Boost = boost
	case *index.PrefixQuery:
		q.Boost = boost
	case *index.TermRangeQuery:
		q.Boost = boost
	case *index.NumericRangeQuery:
		q.Boost = boost
	case *index.TermsQuery:
		q.Boost = boost
	case *index.MatchAllQuery:
		q.Boost = boost
	case *index.BooleanQuery:
		q.Boost = boost
	}
	return q
}
