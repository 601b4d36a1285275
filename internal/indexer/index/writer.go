package index

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
)

var ErrWriterClosed = errors.New("index writer closed")

// Directory persists commit points.
type Directory interface {
	// Persist records the commit point made of segs.
	Persist(generation int64, segs []*Segment) error
	// Load returns the segments of the newest commit point.
	Load() ([]*Segment, int64, error)
	Persistent() bool
	Close() error
}

// RAMDirectory keeps nothing outside the writer: committed segments live
// only in memory.
type RAMDirectory struct{}

func (RAMDirectory) Persist(int64, []*Segment) error  { return nil }
func (RAMDirectory) Load() ([]*Segment, int64, error) { return nil, 0, nil }
func (RAMDirectory) Persistent() bool                 { return false }
func (RAMDirectory) Close() error                     { return nil }

// Writer buffers additions and deletions and publishes them atomically on
// Commit. A Writer is not safe for concurrent use; callers serialise access.
type Writer struct {
	dir        Directory
	analyzers  *tokenizer.PerField
	committed  []*Segment
	pending    *Segment
	deletes    []Term
	generation int64
	reader     *Reader
	closed     bool
}

// OpenWriter opens a writer over the newest commit point in dir.
func OpenWriter(dir Directory, analyzers *tokenizer.PerField) (*Writer, error) {
	segs, gen, err := dir.Load()
	if err != nil {
		return nil, fmt.Errorf("loading commit point: %w", err)
	}
	return &Writer{
		dir:        dir,
		analyzers:  analyzers,
		committed:  segs,
		generation: gen,
	}, nil
}

func (w *Writer) AddDocument(doc *Document) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.pending == nil {
		w.pending = newSegment()
	}
	w.pending.add(doc, w.analyzers)
	return nil
}

// DeleteDocuments removes every document holding any of the terms. The
// deletion covers committed documents and documents added earlier in this
// session, but not documents added after the call.
func (w *Writer) DeleteDocuments(terms ...Term) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.pending != nil {
		for _, t := range terms {
			if bm := w.pending.termDocs(t.Field, t.Text); bm != nil {
				w.pending.deleted.Or(bm)
			}
		}
	}
	w.deletes = append(w.deletes, terms...)
	return nil
}

func (w *Writer) HasChanges() bool {
	return w.pending != nil || len(w.deletes) > 0
}

// Commit applies buffered changes, persists the commit point and returns a
// reader over it.
func (w *Writer) Commit() (*Reader, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	if !w.HasChanges() {
		return w.Reader(), nil
	}
	segs := make([]*Segment, 0, len(w.committed)+1)
	for _, seg := range w.committed {
		extra := roaring.New()
		for _, t := range w.deletes {
			if bm := seg.termDocs(t.Field, t.Text); bm != nil {
				extra.Or(bm)
			}
		}
		seg = seg.withDeletes(extra)
		if seg.LiveDocs() == 0 {
			continue
		}
		segs = append(segs, seg)
	}
	if w.pending != nil {
		w.pending.freeze()
		if w.pending.LiveDocs() > 0 {
			segs = append(segs, w.pending)
		}
	}
	gen := w.generation + 1
	if err := w.dir.Persist(gen, segs); err != nil {
		return nil, fmt.Errorf("persisting commit %d: %w", gen, err)
	}
	w.committed = segs
	w.pending = nil
	w.deletes = nil
	w.generation = gen
	w.reader = newReader(segs, gen)
	return w.reader, nil
}

// Rollback discards every change since the last commit.
func (w *Writer) Rollback() {
	w.pending = nil
	w.deletes = nil
}

// Reader returns a reader over the last commit point.
func (w *Writer) Reader() *Reader {
	if w.reader == nil || w.reader.generation != w.generation {
		w.reader = newReader(w.committed, w.generation)
	}
	return w.reader
}

// Optimize merges all committed segments into one, dropping deleted
// documents, and commits the result.
func (w *Writer) Optimize() error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.HasChanges() {
		if _, err := w.Commit(); err != nil {
			return err
		}
	}
	if len(w.committed) == 0 || (len(w.committed) == 1 && w.committed[0].deleted.IsEmpty()) {
		return nil
	}
	merged := mergeSegments(w.committed)
	segs := []*Segment{merged}
	if merged.LiveDocs() == 0 {
		segs = nil
	}
	gen := w.generation + 1
	if err := w.dir.Persist(gen, segs); err != nil {
		return fmt.Errorf("persisting merged commit %d: %w", gen, err)
	}
	w.committed = segs
	w.generation = gen
	w.reader = newReader(segs, gen)
	return nil
}

func (w *Writer) SegmentCount() int { return len(w.committed) }

func (w *Writer) Generation() int64 { return w.generation }

// RAMBytes estimates memory held by committed and pending segments.
func (w *Writer) RAMBytes() int64 {
	var n int64
	for _, s := range w.committed {
		n += s.size
	}
	if w.pending != nil {
		n += w.pending.size
	}
	return n
}

func (w *Writer) Directory() Directory { return w.dir }

// MoveTo persists the last commit point into dir and continues with dir as
// the writer's directory. Uncommitted changes are kept.
func (w *Writer) MoveTo(dir Directory) error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := dir.Persist(w.generation, w.committed); err != nil {
		return fmt.Errorf("persisting commit %d into new directory: %w", w.generation, err)
	}
	old := w.dir
	w.dir = dir
	return old.Close()
}

// Close discards uncommitted changes. The directory stays open.
func (w *Writer) Close() error {
	w.Rollback()
	w.closed = true
	return nil
}
