package index

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
)

// SegmentData is the serialisable form of a frozen segment, without its
// deletions (those belong to a commit point, not to the segment).
type SegmentData struct {
	ID     string          `msgpack:"id"`
	Stored [][]StoredField `msgpack:"stored"`
	Fields []FieldData     `msgpack:"fields"`
	Size   int64           `msgpack:"size"`
}

type FieldData struct {
	Name     string        `msgpack:"name"`
	Terms    []TermData    `msgpack:"terms"`
	Present  []uint32      `msgpack:"present"`
	Lengths  []DocInt      `msgpack:"lengths,omitempty"`
	Boosts   []DocBoost    `msgpack:"boosts,omitempty"`
	Numerics []DocNumerics `msgpack:"numerics,omitempty"`
	Points   []DocPoints   `msgpack:"points,omitempty"`
	Vectors  []DocVector   `msgpack:"vectors,omitempty"`
	SortKeys []DocSortKey  `msgpack:"sortKeys,omitempty"`
	TotalLen int64         `msgpack:"totalLen"`
}

type TermData struct {
	Term      string    `msgpack:"t"`
	Docs      []uint32  `msgpack:"d"`
	Freqs     []int32   `msgpack:"f"`
	Positions [][]int32 `msgpack:"p"`
}

type DocInt struct {
	Doc uint32 `msgpack:"d"`
	N   int32  `msgpack:"n"`
}

type DocBoost struct {
	Doc   uint32  `msgpack:"d"`
	Boost float32 `msgpack:"b"`
}

type DocNumerics struct {
	Doc    uint32    `msgpack:"d"`
	Values []Numeric `msgpack:"v"`
}

type DocPoints struct {
	Doc    uint32     `msgpack:"d"`
	Points []GeoPoint `msgpack:"p"`
}

type DocVector struct {
	Doc    uint32            `msgpack:"d"`
	Tokens []tokenizer.Token `msgpack:"t"`
}

type DocSortKey struct {
	Doc uint32 `msgpack:"d"`
	Key string `msgpack:"k"`
}

// Export captures a frozen segment for persistence.
func (s *Segment) Export() *SegmentData {
	data := &SegmentData{ID: s.id, Stored: s.stored, Size: s.size}
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fi := s.fields[name]
		fd := FieldData{Name: name, Present: fi.present.ToArray(), TotalLen: fi.totalLen}
		for _, term := range fi.sorted {
			pl := fi.terms[term]
			td := TermData{Term: term, Docs: pl.docs.ToArray()}
			for _, d := range td.Docs {
				td.Freqs = append(td.Freqs, pl.freqs[d])
				td.Positions = append(td.Positions, pl.positions[d])
			}
			fd.Terms = append(fd.Terms, td)
		}
		for _, d := range sortedKeys(fi.lengths) {
			fd.Lengths = append(fd.Lengths, DocInt{Doc: d, N: fi.lengths[d]})
		}
		for _, d := range sortedKeys(fi.boosts) {
			fd.Boosts = append(fd.Boosts, DocBoost{Doc: d, Boost: fi.boosts[d]})
		}
		for _, d := range sortedKeys(fi.numerics) {
			fd.Numerics = append(fd.Numerics, DocNumerics{Doc: d, Values: fi.numerics[d]})
		}
		for _, d := range sortedKeys(fi.points) {
			fd.Points = append(fd.Points, DocPoints{Doc: d, Points: fi.points[d]})
		}
		for _, d := range sortedKeys(fi.vectors) {
			fd.Vectors = append(fd.Vectors, DocVector{Doc: d, Tokens: fi.vectors[d]})
		}
		for _, d := range sortedKeys(fi.sortKeys) {
			fd.SortKeys = append(fd.SortKeys, DocSortKey{Doc: d, Key: fi.sortKeys[d]})
		}
		data.Fields = append(data.Fields, fd)
	}
	return data
}

// ImportSegment rebuilds a frozen segment from its serialised form.
func ImportSegment(data *SegmentData) (*Segment, error) {
	if data.ID == "" {
		return nil, fmt.Errorf("segment data has no id")
	}
	s := &Segment{
		id:      data.ID,
		stored:  data.Stored,
		fields:  make(map[string]*fieldIndex, len(data.Fields)),
		deleted: roaring.New(),
		size:    data.Size,
	}
	maxDoc := uint32(len(data.Stored))
	for _, fd := range data.Fields {
		fi := newFieldIndex()
		fi.present.AddMany(fd.Present)
		fi.totalLen = fd.TotalLen
		for _, td := range fd.Terms {
			if len(td.Freqs) != len(td.Docs) || len(td.Positions) != len(td.Docs) {
				return nil, fmt.Errorf("segment %s field %s term %q: postings length mismatch", data.ID, fd.Name, td.Term)
			}
			pl := newPostingList()
			for i, d := range td.Docs {
				if d >= maxDoc {
					return nil, fmt.Errorf("segment %s: doc %d out of range", data.ID, d)
				}
				pl.docs.Add(d)
				pl.freqs[d] = td.Freqs[i]
				pl.positions[d] = td.Positions[i]
			}
			fi.terms[td.Term] = pl
		}
		for _, e := range fd.Lengths {
			fi.lengths[e.Doc] = e.N
		}
		for _, e := range fd.Boosts {
			fi.boosts[e.Doc] = e.Boost
		}
		for _, e := range fd.Numerics {
			fi.numerics[e.Doc] = e.Values
		}
		for _, e := range fd.Points {
			fi.points[e.Doc] = e.Points
		}
		for _, e := range fd.Vectors {
			fi.vectors[e.Doc] = e.Tokens
		}
		for _, e := range fd.SortKeys {
			fi.sortKeys[e.Doc] = e.Key
		}
		s.fields[fd.Name] = fi
	}
	s.freeze()
	return s, nil
}

// Deleted returns the segment's deletion bitmap. Callers must not modify it.
func (s *Segment) Deleted() *roaring.Bitmap { return s.deleted }

// WithDeleted returns a copy of s carrying the given deletions.
func (s *Segment) WithDeleted(deleted *roaring.Bitmap) *Segment {
	c := *s
	c.deleted = deleted.Clone()
	return &c
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
