package indexer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

// snapshot is a committed reader shared by the index and every handle
// acquired on it. The index holds one reference while it is current.
type snapshot struct {
	reader    *index.Reader
	version   int64
	createdAt time.Time
	refs      atomic.Int64
	done      chan struct{}
}

func (s *snapshot) decRef() {
	if s.refs.Add(-1) == 0 {
		close(s.done)
	}
}

// Snapshot is a handle on a point-in-time view of the index. It never
// changes; call Release when done.
type Snapshot struct {
	snap    *snapshot
	release func()
	once    sync.Once
}

func (s *Snapshot) Reader() *index.Reader { return s.snap.reader }

// Version increases with every published commit.
func (s *Snapshot) Version() int64 { return s.snap.version }

func (s *Snapshot) Timestamp() time.Time { return s.snap.createdAt }

// Release gives the handle back. Extra calls are ignored.
func (s *Snapshot) Release() {
	s.once.Do(s.release)
}

// Snapshot returns a handle on the current snapshot.
func (i *Index) Snapshot() (*Snapshot, error) {
	i.snapMu.Lock()
	cur := i.current
	if cur == nil || i.disposed.Load() {
		i.snapMu.Unlock()
		return nil, apperrors.Disposed(i.def.Name)
	}
	cur.refs.Add(1)
	i.snapMu.Unlock()
	i.metrics.SnapshotAcquired(i.def.Name)
	return &Snapshot{
		snap: cur,
		release: func() {
			i.metrics.SnapshotReleased(i.def.Name)
			cur.decRef()
		},
	}, nil
}

// publish makes reader the current snapshot and retires the previous one.
func (i *Index) publish(reader *index.Reader) {
	i.snapMu.Lock()
	if i.current != nil && i.current.reader == reader {
		i.snapMu.Unlock()
		return
	}
	i.version++
	next := &snapshot{
		reader:    reader,
		version:   i.version,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	next.refs.Store(1)
	prev := i.current
	i.current = next
	i.snapMu.Unlock()
	if prev != nil {
		prev.decRef()
	}
}

// Version is the version of the current snapshot, or 0 once disposed.
func (i *Index) Version() int64 {
	i.snapMu.Lock()
	defer i.snapMu.Unlock()
	if i.current == nil {
		return 0
	}
	return i.current.version
}
