package executor

import (
	"math"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/encoder"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

// Prepared is a validated, planned query. It holds no reader and can be
// run against any snapshot of the index it was prepared for.
type Prepared struct {
	q         Query
	def       *definition.Index
	pageSize  int
	query     index.Query
	intersect []index.Query
	sort      *index.Sort
	matches   func(field, term string) bool

	project  bool
	fetchAll bool
	fetch    map[string]struct{}
}

// Prepare validates q against def and builds its plan. Every field the
// query, its intersect clauses or its sort reference must be indexed.
func Prepare(def *definition.Index, planner *parser.Planner, q Query) (*Prepared, error) {
	if q.Start < 0 {
		return nil, apperrors.Validation("start must not be negative, got %d", q.Start)
	}
	if q.PageSize < 0 {
		return nil, apperrors.Validation("page size must not be negative, got %d", q.PageSize)
	}
	p := &Prepared{q: q, def: def, pageSize: q.PageSize}
	if p.pageSize == 0 {
		p.pageSize = DefaultPageSize
	}

	opts := parser.Options{DefaultField: q.DefaultField, DefaultOperator: q.DefaultOperator}
	clauses := []string{q.Query}
	if strings.Contains(q.Query, IntersectSeparator) {
		clauses = clauses[:0]
		for _, c := range strings.Split(q.Query, IntersectSeparator) {
			if strings.TrimSpace(c) != "" {
				clauses = append(clauses, c)
			}
		}
		if len(clauses) < 2 {
			return nil, apperrors.Validation("an intersect query needs at least two clauses: %q", q.Query)
		}
	}
	for i, text := range clauses {
		plan, err := planner.Plan(text, opts)
		if err != nil {
			return nil, err
		}
		for _, f := range plan.Fields {
			if err := checkField(def, f, "query on"); err != nil {
				return nil, err
			}
		}
		if i == 0 {
			p.query = plan.Query
		} else {
			p.intersect = append(p.intersect, plan.Query)
		}
	}
	p.matches = index.QueryTerms(p.query)

	if q.Spatial != nil {
		sq, err := spatialQuery(def, q.Spatial)
		if err != nil {
			return nil, err
		}
		if _, all := p.query.(*index.MatchAllQuery); all {
			p.query = sq
		} else {
			bq := &index.BooleanQuery{}
			bq.Add(p.query, index.OccurMust)
			bq.Add(sq, index.OccurMust)
			p.query = bq
		}
	}

	srt, err := buildSort(def, q)
	if err != nil {
		return nil, err
	}
	p.sort = srt

	if err := p.prepareProjection(); err != nil {
		return nil, err
	}
	for _, hf := range q.HighlightedFields {
		if err := checkHighlight(def, hf); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// PageSize is the effective page size; math.MaxInt asks for every result.
func (p *Prepared) PageSize() int { return p.pageSize }

func (p *Prepared) Query() index.Query { return p.query }

func checkField(def *definition.Index, field, what string) error {
	name := baseField(field)
	if def.ContainsField(name) {
		return nil
	}
	return apperrors.Validation("The field '%s' is not indexed, cannot %s fields that are not indexed", name, what)
}

// baseField strips the suffix of a derived field.
func baseField(field string) string {
	for _, suffix := range []string{encoder.RangeSuffix, encoder.IsArraySuffix, encoder.ConvertToJSONSuffix} {
		if strings.HasSuffix(field, suffix) {
			return strings.TrimSuffix(field, suffix)
		}
	}
	return field
}

func spatialQuery(def *definition.Index, s *SpatialQuery) (*index.SpatialQuery, error) {
	field := s.Field
	if field == "" {
		field = definition.DefaultSpatialField
	}
	if err := checkField(def, field, "query on"); err != nil {
		return nil, err
	}
	if s.RadiusKm < 0 || math.IsNaN(s.RadiusKm) {
		return nil, apperrors.Validation("spatial radius must be a non-negative number")
	}
	if s.Lat < -90 || s.Lat > 90 || s.Lng < -180 || s.Lng > 180 {
		return nil, apperrors.Validation("spatial center (%g, %g) is out of range", s.Lat, s.Lng)
	}
	return &index.SpatialQuery{Field: field, Lat: s.Lat, Lng: s.Lng, RadiusKm: s.RadiusKm, Relation: s.Relation}, nil
}

// buildSort maps sorted fields onto engine sort criteria. Without sorted
// fields results are ordered by relevance.
func buildSort(def *definition.Index, q Query) (*index.Sort, error) {
	if len(q.SortedFields) == 0 {
		return nil, nil
	}
	fields := make([]index.SortField, 0, len(q.SortedFields))
	for _, sf := range q.SortedFields {
		name := strings.TrimPrefix(sf.Field, "-")
		reverse := sf.Descending || strings.HasPrefix(sf.Field, "-")
		switch {
		case name == definition.ScoreField || name == definition.TempScoreField:
			fields = append(fields, index.SortField{Type: index.SortScore, Reverse: reverse})
		case strings.HasPrefix(name, definition.RandomField):
			_, seed, _ := strings.Cut(name, ";")
			fields = append(fields, index.SortField{Type: index.SortRandom, Seed: seed, Reverse: reverse})
		case name == definition.DistanceField:
			if q.Spatial == nil {
				return nil, apperrors.Validation("sorting by %s requires a spatial query", definition.DistanceField)
			}
			field := q.Spatial.Field
			if field == "" {
				field = definition.DefaultSpatialField
			}
			fields = append(fields, index.SortField{
				Field: field, Type: index.SortDistance, Reverse: reverse,
				Lat: q.Spatial.Lat, Lng: q.Spatial.Lng,
			})
		default:
			if err := checkField(def, name, "sort on"); err != nil {
				return nil, err
			}
			switch {
			case strings.HasSuffix(name, encoder.RangeSuffix):
				fields = append(fields, index.SortField{Field: name, Type: index.SortNumeric, Reverse: reverse})
			case def.SortFor(name).Numeric():
				fields = append(fields, index.SortField{Field: name + encoder.RangeSuffix, Type: index.SortNumeric, Reverse: reverse})
			default:
				fields = append(fields, index.SortField{Field: name, Type: index.SortString, Reverse: reverse})
			}
		}
	}
	return index.NewSort(fields...), nil
}

func checkHighlight(def *definition.Index, hf HighlightedField) error {
	if err := checkField(def, hf.Field, "highlight"); err != nil {
		return err
	}
	stored := def.IsMapReduce() || def.StorageFor(hf.Field, definition.StorageNo) == definition.StorageYes
	switch tv := def.TermVectorFor(hf.Field); {
	case !stored:
		return apperrors.Validation("field '%s' must be stored to be highlighted", hf.Field)
	case tv != definition.TermVectorWithOffsets && tv != definition.TermVectorWithPositionsAndOffsets:
		return apperrors.Validation("field '%s' must have term vectors with offsets to be highlighted", hf.Field)
	}
	return nil
}

// prepareProjection decides whether results carry a projection. Map-reduce
// results always do and always include the reduce key.
func (p *Prepared) prepareProjection() error {
	if p.q.IsDistinct && len(p.q.FieldsToFetch) == 0 && !p.def.IsMapReduce() {
		return apperrors.Validation("a distinct query must name the fields to fetch")
	}
	p.project = len(p.q.FieldsToFetch) > 0 || p.def.IsMapReduce()
	if !p.project {
		return nil
	}
	p.fetch = make(map[string]struct{}, len(p.q.FieldsToFetch)+1)
	for _, f := range p.q.FieldsToFetch {
		if f == definition.AllFields {
			p.fetchAll = true
		}
		p.fetch[f] = struct{}{}
	}
	if len(p.q.FieldsToFetch) == 0 {
		p.fetchAll = true
	}
	if p.def.IsMapReduce() {
		p.fetch[definition.ReduceKeyField] = struct{}{}
	}
	return nil
}

func (p *Prepared) projection(stored []index.StoredField) *document.Object {
	if p.fetchAll {
		return encoder.Decode(stored)
	}
	kept := make([]index.StoredField, 0, len(stored))
	for _, sf := range stored {
		if _, ok := p.fetch[baseField(sf.Name)]; ok {
			kept = append(kept, sf)
		}
	}
	return encoder.Decode(kept)
}

// newDeduper picks how repeated hits are recognised: by projection for
// distinct queries, by document key for plain document queries. Map-reduce
// entries are unique per key, and every entry of a projection query is its
// own result.
func (p *Prepared) newDeduper() deduper {
	switch {
	case p.q.IsDistinct:
		return newProjectionSet()
	case !p.def.IsMapReduce() && !p.project:
		return keySet{}
	}
	return nil
}
