package index

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// Query selects and scores documents of a segment. Implementations are
// immutable and may be shared between goroutines.
type Query interface {
	match(r *Reader, seg *Segment) *hits
	String() string
}

// hits is the per-segment result of a query. Documents missing from
// scores take the constant score.
type hits struct {
	docs     *roaring.Bitmap
	scores   map[uint32]float32
	constant float32
}

func (h *hits) score(local uint32) float32 {
	if h.scores != nil {
		if s, ok := h.scores[local]; ok {
			return s
		}
	}
	return h.constant
}

func constantHits(docs *roaring.Bitmap, boost float32) *hits {
	if docs == nil || docs.IsEmpty() {
		return nil
	}
	return &hits{docs: docs, constant: boostOrOne(boost)}
}

func boostOrOne(boost float32) float32 {
	if boost == 0 {
		return 1
	}
	return boost
}

func boostSuffix(boost float32) string {
	if boost == 0 || boost == 1 {
		return ""
	}
	return "^" + strconv.FormatFloat(float64(boost), 'g', -1, 32)
}

// TermQuery matches documents holding an exact term.
type TermQuery struct {
	Field string
	Term  string
	Boost float32
}

func (q *TermQuery) match(r *Reader, seg *Segment) *hits {
	fi, ok := seg.fields[q.Field]
	if !ok {
		return nil
	}
	pl, ok := fi.terms[q.Term]
	if !ok {
		return nil
	}
	ts := newTermScorer(r, fi, q.Field, q.Term, boostOrOne(q.Boost))
	h := &hits{docs: pl.docs, scores: make(map[uint32]float32, pl.docs.GetCardinality())}
	it := pl.docs.Iterator()
	for it.HasNext() {
		d := it.Next()
		h.scores[d] = ts.score(pl, d)
	}
	return h
}

func (q *TermQuery) String() string {
	return q.Field + ":" + quoteTerm(q.Term) + boostSuffix(q.Boost)
}

// PhraseQuery matches documents holding the terms at consecutive positions.
type PhraseQuery struct {
	Field string
	Terms []string
	Boost float32
}

func (q *PhraseQuery) match(r *Reader, seg *Segment) *hits {
	if len(q.Terms) == 0 {
		return nil
	}
	if len(q.Terms) == 1 {
		return (&TermQuery{Field: q.Field, Term: q.Terms[0], Boost: q.Boost}).match(r, seg)
	}
	fi, ok := seg.fields[q.Field]
	if !ok {
		return nil
	}
	lists := make([]*postingList, len(q.Terms))
	var candidates *roaring.Bitmap
	for i, t := range q.Terms {
		pl, ok := fi.terms[t]
		if !ok {
			return nil
		}
		lists[i] = pl
		if candidates == nil {
			candidates = pl.docs.Clone()
		} else {
			candidates.And(pl.docs)
		}
	}
	boost := boostOrOne(q.Boost)
	h := &hits{docs: roaring.New(), scores: make(map[uint32]float32)}
	it := candidates.Iterator()
	for it.HasNext() {
		d := it.Next()
		if !phraseAt(lists, d) {
			continue
		}
		var score float32
		for i, t := range q.Terms {
			score += newTermScorer(r, fi, q.Field, t, boost).score(lists[i], d)
		}
		h.docs.Add(d)
		h.scores[d] = score
	}
	if h.docs.IsEmpty() {
		return nil
	}
	return h
}

func phraseAt(lists []*postingList, doc uint32) bool {
	for _, start := range lists[0].positions[doc] {
		ok := true
		for i := 1; i < len(lists) && ok; i++ {
			ok = slices.Contains(lists[i].positions[doc], start+int32(i))
		}
		if ok {
			return true
		}
	}
	return false
}

func (q *PhraseQuery) String() string {
	return q.Field + ":\"" + strings.Join(q.Terms, " ") + "\"" + boostSuffix(q.Boost)
}

// WildcardQuery matches terms against a glob pattern where '*' matches any
// run of characters and '?' a single one.
type WildcardQuery struct {
	Field   string
	Pattern string
	Boost   float32
}

func (q *WildcardQuery) match(_ *Reader, seg *Segment) *hits {
	fi, ok := seg.fields[q.Field]
	if !ok {
		return nil
	}
	prefix := literalPrefix(q.Pattern)
	docs := roaring.New()
	for _, term := range termsWithPrefix(fi.sorted, prefix) {
		if wildcardMatch(q.Pattern, term) {
			docs.Or(fi.terms[term].docs)
		}
	}
	return constantHits(docs, q.Boost)
}

func (q *WildcardQuery) String() string {
	return q.Field + ":" + q.Pattern + boostSuffix(q.Boost)
}

// PrefixQuery matches terms starting with Prefix.
type PrefixQuery struct {
	Field  string
	Prefix string
	Boost  float32
}

func (q *PrefixQuery) match(_ *Reader, seg *Segment) *hits {
	fi, ok := seg.fields[q.Field]
	if !ok {
		return nil
	}
	docs := roaring.New()
	for _, term := range termsWithPrefix(fi.sorted, q.Prefix) {
		docs.Or(fi.terms[term].docs)
	}
	return constantHits(docs, q.Boost)
}

func (q *PrefixQuery) String() string {
	return q.Field + ":" + q.Prefix + "*" + boostSuffix(q.Boost)
}

func termsWithPrefix(sorted []string, prefix string) []string {
	start := sort.SearchStrings(sorted, prefix)
	end := start
	for end < len(sorted) && strings.HasPrefix(sorted[end], prefix) {
		end++
	}
	return sorted[start:end]
}

// TermRangeQuery matches terms ordered between Lower and Upper. A nil
// bound is open.
type TermRangeQuery struct {
	Field        string
	Lower        *string
	Upper        *string
	IncludeLower bool
	IncludeUpper bool
	Boost        float32
}

func (q *TermRangeQuery) match(_ *Reader, seg *Segment) *hits {
	fi, ok := seg.fields[q.Field]
	if !ok {
		return nil
	}
	start := 0
	if q.Lower != nil {
		start = sort.SearchStrings(fi.sorted, *q.Lower)
	}
	docs := roaring.New()
	for _, term := range fi.sorted[start:] {
		if q.Lower != nil && !q.IncludeLower && term == *q.Lower {
			continue
		}
		if q.Upper != nil {
			c := strings.Compare(term, *q.Upper)
			if c > 0 || (c == 0 && !q.IncludeUpper) {
				break
			}
		}
		docs.Or(fi.terms[term].docs)
	}
	return constantHits(docs, q.Boost)
}

func (q *TermRangeQuery) String() string {
	return q.Field + ":" + rangeString(q.IncludeLower, q.IncludeUpper, optString(q.Lower), optString(q.Upper)) + boostSuffix(q.Boost)
}

func optString(s *string) string {
	if s == nil {
		return "*"
	}
	return quoteTerm(*s)
}

// NumericRangeQuery matches documents with a numeric value of Field inside
// the range. A nil bound is open.
type NumericRangeQuery struct {
	Field      string
	Min        *Numeric
	Max        *Numeric
	IncludeMin bool
	IncludeMax bool
	Boost      float32
}

func (q *NumericRangeQuery) match(_ *Reader, seg *Segment) *hits {
	fi, ok := seg.fields[q.Field]
	if !ok {
		return nil
	}
	docs := roaring.New()
	for d, values := range fi.numerics {
		for _, v := range values {
			if q.contains(v) {
				docs.Add(d)
				break
			}
		}
	}
	return constantHits(docs, q.Boost)
}

func (q *NumericRangeQuery) contains(v Numeric) bool {
	if q.Min != nil {
		c := v.Compare(*q.Min)
		if c < 0 || (c == 0 && !q.IncludeMin) {
			return false
		}
	}
	if q.Max != nil {
		c := v.Compare(*q.Max)
		if c > 0 || (c == 0 && !q.IncludeMax) {
			return false
		}
	}
	return true
}

func (q *NumericRangeQuery) String() string {
	return q.Field + ":" + rangeString(q.IncludeMin, q.IncludeMax, optNumeric(q.Min), optNumeric(q.Max)) + boostSuffix(q.Boost)
}

func optNumeric(n *Numeric) string {
	if n == nil {
		return "*"
	}
	switch n.Kind {
	case NumericInt32, NumericInt64:
		return strconv.FormatInt(n.Int, 10)
	}
	return strconv.FormatFloat(n.Float, 'g', -1, 64)
}

func rangeString(inclLower, inclUpper bool, lower, upper string) string {
	start, end := "{", "}"
	if inclLower {
		start = "["
	}
	if inclUpper {
		end = "]"
	}
	return start + lower + " TO " + upper + end
}

// TermsQuery matches documents holding any of the terms.
type TermsQuery struct {
	Field string
	Terms []string
	Boost float32
}

func (q *TermsQuery) match(_ *Reader, seg *Segment) *hits {
	fi, ok := seg.fields[q.Field]
	if !ok {
		return nil
	}
	docs := roaring.New()
	for _, t := range q.Terms {
		if pl, ok := fi.terms[t]; ok {
			docs.Or(pl.docs)
		}
	}
	return constantHits(docs, q.Boost)
}

func (q *TermsQuery) String() string {
	quoted := make([]string, len(q.Terms))
	for i, t := range q.Terms {
		quoted[i] = quoteTerm(t)
	}
	return "@in<" + q.Field + ">:(" + strings.Join(quoted, ", ") + ")" + boostSuffix(q.Boost)
}

// MatchAllQuery matches every document.
type MatchAllQuery struct {
	Boost float32
}

func (q *MatchAllQuery) match(_ *Reader, seg *Segment) *hits {
	return constantHits(seg.allDocs(), q.Boost)
}

func (q *MatchAllQuery) String() string { return "*:*" + boostSuffix(q.Boost) }

// MatchNoneQuery matches nothing.
type MatchNoneQuery struct{}

func (MatchNoneQuery) match(*Reader, *Segment) *hits { return nil }

func (MatchNoneQuery) String() string { return "<none>" }

type Occur uint8

const (
	OccurShould Occur = iota
	OccurMust
	OccurMustNot
)

type BooleanClause struct {
	Query Query
	Occur Occur
}

// BooleanQuery combines clauses. Without required clauses at least one
// optional clause must match; a query made only of prohibited clauses
// matches every document except the prohibited ones.
type BooleanQuery struct {
	Clauses []BooleanClause
	Boost   float32
}

func (q *BooleanQuery) Add(query Query, occur Occur) {
	q.Clauses = append(q.Clauses, BooleanClause{Query: query, Occur: occur})
}

func (q *BooleanQuery) match(r *Reader, seg *Segment) *hits {
	var must, should, mustNot []*hits
	hasMust, hasShould := false, false
	for _, c := range q.Clauses {
		h := c.Query.match(r, seg)
		switch c.Occur {
		case OccurMust:
			hasMust = true
			if h == nil {
				return nil
			}
			must = append(must, h)
		case OccurShould:
			hasShould = true
			if h != nil {
				should = append(should, h)
			}
		case OccurMustNot:
			if h != nil {
				mustNot = append(mustNot, h)
			}
		}
	}

	var docs *roaring.Bitmap
	switch {
	case hasMust:
		docs = must[0].docs.Clone()
		for _, h := range must[1:] {
			docs.And(h.docs)
		}
	case hasShould:
		docs = roaring.New()
		for _, h := range should {
			docs.Or(h.docs)
		}
	default:
		docs = seg.allDocs()
	}
	for _, h := range mustNot {
		docs.AndNot(h.docs)
	}
	if docs.IsEmpty() {
		return nil
	}

	boost := boostOrOne(q.Boost)
	if !hasMust && !hasShould {
		return &hits{docs: docs, constant: boost}
	}
	scored := append(must, should...)
	out := &hits{docs: docs, scores: make(map[uint32]float32, docs.GetCardinality())}
	it := docs.Iterator()
	for it.HasNext() {
		d := it.Next()
		var s float32
		for _, h := range scored {
			if h.docs.Contains(d) {
				s += h.score(d)
			}
		}
		out.scores[d] = s * boost
	}
	return out
}

func (q *BooleanQuery) String() string {
	parts := make([]string, 0, len(q.Clauses))
	for _, c := range q.Clauses {
		s := c.Query.String()
		if _, nested := c.Query.(*BooleanQuery); nested {
			s = "(" + s + ")"
		}
		switch c.Occur {
		case OccurMust:
			s = "+" + s
		case OccurMustNot:
			s = "-" + s
		}
		parts = append(parts, s)
	}
	out := strings.Join(parts, " ")
	if b := boostSuffix(q.Boost); b != "" {
		out = "(" + out + ")" + b
	}
	return out
}

func quoteTerm(t string) string {
	if t == "" || strings.ContainsAny(t, " \t:\"()[]{}") {
		return strconv.Quote(t)
	}
	return t
}

// QueryTerms reports whether term of field is one the query matches on,
// ignoring prohibited clauses. The highlighter uses it to mark fragments.
func QueryTerms(q Query) func(field, term string) bool {
	return func(field, term string) bool { return matchesTerm(q, field, term) }
}

func matchesTerm(q Query, field, term string) bool {
	switch q := q.(type) {
	case *TermQuery:
		return q.Field == field && q.Term == term
	case *PhraseQuery:
		return q.Field == field && slices.Contains(q.Terms, term)
	case *WildcardQuery:
		return q.Field == field && wildcardMatch(q.Pattern, term)
	case *PrefixQuery:
		return q.Field == field && strings.HasPrefix(term, q.Prefix)
	case *TermsQuery:
		return q.Field == field && slices.Contains(q.Terms, term)
	case *TermRangeQuery:
		if q.Field != field {
			return false
		}
		if q.Lower != nil {
			c := strings.Compare(term, *q.Lower)
			if c < 0 || (c == 0 && !q.IncludeLower) {
				return false
			}
		}
		if q.Upper != nil {
			c := strings.Compare(term, *q.Upper)
			if c > 0 || (c == 0 && !q.IncludeUpper) {
				return false
			}
		}
		return true
	case *BooleanQuery:
		for _, c := range q.Clauses {
			if c.Occur != OccurMustNot && matchesTerm(c.Query, field, term) {
				return true
			}
		}
	}
	return false
}
