package index

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
)

type postingList struct {
	docs      *roaring.Bitmap
	freqs     map[uint32]int32
	positions map[uint32][]int32
}

func newPostingList() *postingList {
	return &postingList{
		docs:      roaring.New(),
		freqs:     make(map[uint32]int32),
		positions: make(map[uint32][]int32),
	}
}

type fieldIndex struct {
	terms    map[string]*postingList
	sorted   []string
	present  *roaring.Bitmap
	lengths  map[uint32]int32
	boosts   map[uint32]float32
	numerics map[uint32][]Numeric
	points   map[uint32][]GeoPoint
	vectors  map[uint32][]tokenizer.Token
	sortKeys map[uint32]string
	totalLen int64
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{
		terms:    make(map[string]*postingList),
		present:  roaring.New(),
		lengths:  make(map[uint32]int32),
		boosts:   make(map[uint32]float32),
		numerics: make(map[uint32][]Numeric),
		points:   make(map[uint32][]GeoPoint),
		vectors:  make(map[uint32][]tokenizer.Token),
		sortKeys: make(map[uint32]string),
	}
}

// Segment is a batch of documents with their own postings. A segment is
// mutable only while a writer is filling it; once frozen it is shared by
// readers and never modified, and deletions produce a new Segment value
// sharing the same postings.
type Segment struct {
	id      string
	stored  [][]StoredField
	fields  map[string]*fieldIndex
	deleted *roaring.Bitmap
	size    int64
	frozen  bool
}

func newSegment() *Segment {
	return &Segment{
		id:      uuid.NewString(),
		fields:  make(map[string]*fieldIndex),
		deleted: roaring.New(),
	}
}

func (s *Segment) ID() string { return s.id }

func (s *Segment) MaxDoc() uint32 { return uint32(len(s.stored)) }

func (s *Segment) LiveDocs() int {
	return len(s.stored) - int(s.deleted.GetCardinality())
}

// SizeInBytes is an estimate of the memory held by the segment.
func (s *Segment) SizeInBytes() int64 { return s.size }

func (s *Segment) field(name string) *fieldIndex {
	fi, ok := s.fields[name]
	if !ok {
		fi = newFieldIndex()
		s.fields[name] = fi
	}
	return fi
}

// add indexes doc as the next local document and returns its number.
func (s *Segment) add(doc *Document, analyzers *tokenizer.PerField) uint32 {
	local := uint32(len(s.stored))
	var stored []StoredField
	positions := make(map[string]int32)
	offsets := make(map[string]int)

	for _, f := range doc.Fields {
		if f.Store == StoreYes {
			sf := f.Stored()
			stored = append(stored, sf)
			s.size += int64(len(sf.Name) + len(sf.Value) + len(sf.Binary) + 24)
		}
		if f.Index == IndexNo {
			continue
		}
		fi := s.field(f.Name)
		fi.present.Add(local)
		if f.Boost != 0 && f.Boost != 1 {
			fi.boosts[local] = max(fi.boosts[local], f.Boost)
		}
		if f.Numeric != nil {
			fi.numerics[local] = append(fi.numerics[local], *f.Numeric)
			s.size += 24
			continue
		}
		if f.Point != nil {
			fi.points[local] = append(fi.points[local], *f.Point)
			s.size += 24
		}
		if f.Value == "" {
			continue
		}

		var tokens []tokenizer.Token
		if f.Index == IndexAnalyzed {
			tokens = analyzers.For(f.Name).Tokenize(f.Value)
		} else {
			tokens = []tokenizer.Token{{Term: f.Value, End: len(f.Value)}}
		}
		base := positions[f.Name]
		offBase := offsets[f.Name]
		last := base
		for _, tok := range tokens {
			pos := base + int32(tok.Position)
			pl, ok := fi.terms[tok.Term]
			if !ok {
				pl = newPostingList()
				fi.terms[tok.Term] = pl
			}
			pl.docs.Add(local)
			pl.freqs[local]++
			pl.positions[local] = append(pl.positions[local], pos)
			s.size += int64(len(tok.Term) + 16)
			if _, ok := fi.sortKeys[local]; !ok {
				fi.sortKeys[local] = tok.Term
			}
			if f.TermVector != TermVectorNo {
				fi.vectors[local] = append(fi.vectors[local], tokenizer.Token{
					Term:     tok.Term,
					Position: int(pos),
					Start:    offBase + tok.Start,
					End:      offBase + tok.End,
				})
			}
			last = pos + 1
		}
		positions[f.Name] = last
		offsets[f.Name] = offBase + len(f.Value) + 1
		if !f.OmitNorms {
			fi.lengths[local] += int32(len(tokens))
			fi.totalLen += int64(len(tokens))
		}
	}
	s.stored = append(s.stored, stored)
	return local
}

// freeze sorts the term dictionaries; the segment is read-only afterwards.
func (s *Segment) freeze() {
	for _, fi := range s.fields {
		fi.sorted = make([]string, 0, len(fi.terms))
		for t := range fi.terms {
			fi.sorted = append(fi.sorted, t)
		}
		slices.Sort(fi.sorted)
		fi.present.RunOptimize()
	}
	s.frozen = true
}

// withDeletes returns a copy of s with extra documents marked deleted.
func (s *Segment) withDeletes(extra *roaring.Bitmap) *Segment {
	if extra == nil || extra.IsEmpty() {
		return s
	}
	c := *s
	c.deleted = roaring.Or(s.deleted, extra)
	return &c
}

func (s *Segment) termDocs(field, term string) *roaring.Bitmap {
	fi, ok := s.fields[field]
	if !ok {
		return nil
	}
	pl, ok := fi.terms[term]
	if !ok {
		return nil
	}
	return pl.docs
}

func (s *Segment) isDeleted(local uint32) bool {
	return s.deleted.Contains(local)
}

func (s *Segment) allDocs() *roaring.Bitmap {
	bm := roaring.New()
	if n := len(s.stored); n > 0 {
		bm.AddRange(0, uint64(n))
	}
	return bm
}
