package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
)

// Reader is an immutable point-in-time view over a commit. Documents are
// addressed by a reader-global number: the segment base plus the local
// number. Readers are safe for concurrent use.
type Reader struct {
	segments   []*Segment
	bases      []uint32
	maxDoc     uint32
	numDocs    int
	generation int64
	fieldStats map[string]fieldStats
}

type fieldStats struct {
	docs     int64
	totalLen int64
}

func (fs fieldStats) avgLen() float64 {
	if fs.docs == 0 {
		return 0
	}
	return float64(fs.totalLen) / float64(fs.docs)
}

func newReader(segs []*Segment, generation int64) *Reader {
	r := &Reader{
		segments:   segs,
		bases:      make([]uint32, len(segs)),
		generation: generation,
		fieldStats: make(map[string]fieldStats),
	}
	for i, seg := range segs {
		r.bases[i] = r.maxDoc
		r.maxDoc += seg.MaxDoc()
		r.numDocs += seg.LiveDocs()
		for name, fi := range seg.fields {
			st := r.fieldStats[name]
			st.docs += int64(len(fi.lengths))
			st.totalLen += fi.totalLen
			r.fieldStats[name] = st
		}
	}
	return r
}

// EmptyReader is a reader over no documents.
func EmptyReader() *Reader { return newReader(nil, 0) }

func (r *Reader) MaxDoc() int { return int(r.maxDoc) }

func (r *Reader) NumDocs() int { return r.numDocs }

func (r *Reader) Generation() int64 { return r.generation }

func (r *Reader) SegmentCount() int { return len(r.segments) }

func (r *Reader) SizeInBytes() int64 {
	var n int64
	for _, s := range r.segments {
		n += s.size
	}
	return n
}

// Segments exposes the reader's segments for persistence.
func (r *Reader) Segments() []*Segment { return r.segments }

func (r *Reader) locate(doc int) (*Segment, uint32, bool) {
	if doc < 0 || uint32(doc) >= r.maxDoc {
		return nil, 0, false
	}
	i := sort.Search(len(r.bases), func(i int) bool { return r.bases[i] > uint32(doc) }) - 1
	return r.segments[i], uint32(doc) - r.bases[i], true
}

func (r *Reader) IsDeleted(doc int) bool {
	seg, local, ok := r.locate(doc)
	return !ok || seg.isDeleted(local)
}

// Document returns the stored fields of doc in the order they were added.
func (r *Reader) Document(doc int) []StoredField {
	seg, local, ok := r.locate(doc)
	if !ok {
		return nil
	}
	return seg.stored[local]
}

// TermVector returns the tokens recorded for field in doc, or nil when the
// field was indexed without term vectors.
func (r *Reader) TermVector(doc int, field string) []tokenizer.Token {
	seg, local, ok := r.locate(doc)
	if !ok {
		return nil
	}
	fi, ok := seg.fields[field]
	if !ok {
		return nil
	}
	return fi.vectors[local]
}

// DocFreq counts documents holding term in field, deleted ones included.
func (r *Reader) DocFreq(field, term string) int {
	n := 0
	for _, seg := range r.segments {
		if bm := seg.termDocs(field, term); bm != nil {
			n += int(bm.GetCardinality())
		}
	}
	return n
}

// Terms returns the sorted distinct terms of field across all segments.
func (r *Reader) Terms(field string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, seg := range r.segments {
		fi, ok := seg.fields[field]
		if !ok {
			continue
		}
		for _, t := range fi.sorted {
			if _, dup := seen[t]; !dup {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Matches returns the live documents matching q.
func (r *Reader) Matches(q Query) *roaring.Bitmap {
	out := roaring.New()
	for i, seg := range r.segments {
		h := q.match(r, seg)
		if h == nil {
			continue
		}
		docs := roaring.AndNot(h.docs, seg.deleted)
		it := docs.Iterator()
		for it.HasNext() {
			out.Add(r.bases[i] + it.Next())
		}
	}
	return out
}

// ScoreDoc is a search hit.
type ScoreDoc struct {
	Doc   int
	Score float32
}

// TopDocs is the result of a search: the total number of hits and the
// best-ranked ones in order.
type TopDocs struct {
	TotalHits int
	ScoreDocs []ScoreDoc
	MaxScore  float32
}

// Search runs q and returns at most n hits ordered by sort, or by
// descending score when sort is nil. n <= 0 returns every hit.
func (r *Reader) Search(q Query, n int, srt *Sort) *TopDocs {
	var hits []ScoreDoc
	var maxScore float32
	for i, seg := range r.segments {
		h := q.match(r, seg)
		if h == nil {
			continue
		}
		it := h.docs.Iterator()
		for it.HasNext() {
			local := it.Next()
			if seg.isDeleted(local) {
				continue
			}
			score := h.score(local)
			if score > maxScore {
				maxScore = score
			}
			hits = append(hits, ScoreDoc{Doc: int(r.bases[i] + local), Score: score})
		}
	}
	r.sortHits(hits, srt)
	top := &TopDocs{TotalHits: len(hits), MaxScore: maxScore}
	if n > 0 && len(hits) > n {
		hits = hits[:n]
	}
	top.ScoreDocs = hits
	return top
}
