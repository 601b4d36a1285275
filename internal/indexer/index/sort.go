package index

import (
	"cmp"
	"math"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

type SortType uint8

const (
	SortScore SortType = iota
	SortString
	SortNumeric
	SortDoc
	SortDistance
	SortRandom
)

// SortField orders hits by one criterion. Distance sorts use Lat/Lng as
// the origin; Random sorts are stable for a given Seed.
type SortField struct {
	Field   string
	Type    SortType
	Reverse bool
	Lat     float64
	Lng     float64
	Seed    string
}

// Sort is an ordered list of criteria; ties fall back to document order.
type Sort struct {
	Fields []SortField
}

func NewSort(fields ...SortField) *Sort {
	return &Sort{Fields: fields}
}

// sortKey holds one hit's value for one criterion. Missing values order
// before present ones, except for distance where they order last.
type sortKey struct {
	missing bool
	s       string
	n       Numeric
	f       float64
	u       uint64
}

func (r *Reader) sortHits(hits []ScoreDoc, srt *Sort) {
	if srt == nil || len(srt.Fields) == 0 {
		slices.SortStableFunc(hits, func(a, b ScoreDoc) int {
			if c := cmp.Compare(b.Score, a.Score); c != 0 {
				return c
			}
			return cmp.Compare(a.Doc, b.Doc)
		})
		return
	}

	keys := make([][]sortKey, len(srt.Fields))
	for i, sf := range srt.Fields {
		keys[i] = make([]sortKey, len(hits))
		for j, h := range hits {
			keys[i][j] = r.sortKeyFor(sf, h)
		}
	}
	order := make([]int, len(hits))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		for i, sf := range srt.Fields {
			c := compareKeys(sf.Type, keys[i][a], keys[i][b])
			if sf.Type == SortScore {
				c = -c
			}
			if sf.Reverse {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Compare(hits[a].Doc, hits[b].Doc)
	})
	sorted := make([]ScoreDoc, len(hits))
	for i, idx := range order {
		sorted[i] = hits[idx]
	}
	copy(hits, sorted)
}

func (r *Reader) sortKeyFor(sf SortField, h ScoreDoc) sortKey {
	switch sf.Type {
	case SortScore:
		return sortKey{f: float64(h.Score)}
	case SortDoc:
		return sortKey{f: float64(h.Doc)}
	case SortRandom:
		return sortKey{u: xxhash.Sum64String(sf.Seed + ":" + strconv.Itoa(h.Doc))}
	}
	seg, local, ok := r.locate(h.Doc)
	if !ok {
		return sortKey{missing: true}
	}
	fi, ok := seg.fields[sf.Field]
	if !ok {
		return sortKey{missing: true, f: math.Inf(1)}
	}
	switch sf.Type {
	case SortString:
		s, ok := fi.sortKeys[local]
		return sortKey{missing: !ok, s: s}
	case SortNumeric:
		values := fi.numerics[local]
		if len(values) == 0 {
			return sortKey{missing: true}
		}
		return sortKey{n: values[0]}
	case SortDistance:
		best := math.Inf(1)
		for _, p := range fi.points[local] {
			best = min(best, Haversine(sf.Lat, sf.Lng, p.Lat, p.Lng))
		}
		return sortKey{f: best}
	}
	return sortKey{missing: true}
}

func compareKeys(t SortType, a, b sortKey) int {
	if t != SortDistance {
		switch {
		case a.missing && b.missing:
			return 0
		case a.missing:
			return -1
		case b.missing:
			return 1
		}
	}
	switch t {
	case SortString:
		return cmp.Compare(a.s, b.s)
	case SortNumeric:
		return a.n.Compare(b.n)
	case SortRandom:
		return cmp.Compare(a.u, b.u)
	}
	return cmp.Compare(a.f, b.f)
}
