package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
)

const ManifestName = "commit.json"

// Manifest is the commit point of a directory: the segments making up the
// index and the documents deleted from each.
type Manifest struct {
	Generation int64           `json:"generation"`
	CommitID   string          `json:"commitId"`
	CreatedAt  time.Time       `json:"createdAt"`
	Segments   []ManifestEntry `json:"segments"`
}

type ManifestEntry struct {
	ID      string `json:"id"`
	File    string `json:"file"`
	Docs    uint32 `json:"docs"`
	Deleted []byte `json:"deleted,omitempty"`
}

// FSDirectory persists commit points as segment files plus a JSON
// manifest. Segment files are written once; only the manifest changes
// between commits, and files no longer referenced are removed.
type FSDirectory struct {
	mu      sync.Mutex
	path    string
	written map[string]string
	logger  *slog.Logger
}

var _ index.Directory = (*FSDirectory)(nil)

func OpenFSDirectory(path string) (*FSDirectory, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &FSDirectory{
		path:    path,
		written: make(map[string]string),
		logger:  slog.Default().With("component", "segment-directory", "path", path),
	}, nil
}

func (d *FSDirectory) Path() string { return d.path }

func (d *FSDirectory) Persistent() bool { return true }

// Persist writes segments not yet on disk, then atomically replaces the
// manifest.
func (d *FSDirectory) Persist(generation int64, segs []*index.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := Manifest{
		Generation: generation,
		CommitID:   uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Segments:   make([]ManifestEntry, 0, len(segs)),
	}
	for _, seg := range segs {
		file, ok := d.written[seg.ID()]
		if !ok {
			name, err := WriteFile(d.path, seg)
			if err != nil {
				return err
			}
			d.written[seg.ID()] = name
			file = name
		}
		entry := ManifestEntry{ID: seg.ID(), File: file, Docs: seg.MaxDoc()}
		if del := seg.Deleted(); !del.IsEmpty() {
			b, err := del.ToBytes()
			if err != nil {
				return fmt.Errorf("encoding deletions of %s: %w", seg.ID(), err)
			}
			entry.Deleted = b
		}
		m.Segments = append(m.Segments, entry)
	}
	if err := d.writeManifest(m); err != nil {
		return err
	}
	d.removeUnreferenced(m)
	return nil
}

func (d *FSDirectory) writeManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	finalPath := filepath.Join(d.path, ManifestName)
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return nil
}

func (d *FSDirectory) removeUnreferenced(m Manifest) {
	live := make(map[string]struct{}, len(m.Segments))
	for _, e := range m.Segments {
		live[e.File] = struct{}{}
	}
	for id, file := range d.written {
		if _, ok := live[file]; !ok {
			delete(d.written, id)
		}
	}
	entries, err := os.ReadDir(d.path)
	if err != nil {
		d.logger.Warn("listing index directory", "error", err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, FileExt) && !strings.HasSuffix(name, FileExt+".tmp") {
			continue
		}
		if _, ok := live[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(d.path, name)); err != nil {
			d.logger.Warn("removing stale segment", "file", name, "error", err)
		}
	}
}

// Load reads the newest manifest and its segments. An empty directory
// loads as generation 0 with no segments.
func (d *FSDirectory) Load() ([]*index.Segment, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(d.path, ManifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, 0, fmt.Errorf("parsing manifest: %w", err)
	}
	segs := make([]*index.Segment, 0, len(m.Segments))
	for _, e := range m.Segments {
		seg, err := ReadFile(filepath.Join(d.path, e.File))
		if err != nil {
			return nil, 0, fmt.Errorf("loading segment %s: %w", e.ID, err)
		}
		if len(e.Deleted) > 0 {
			del := roaring.New()
			if err := del.UnmarshalBinary(e.Deleted); err != nil {
				return nil, 0, fmt.Errorf("decoding deletions of %s: %w", e.ID, err)
			}
			seg = seg.WithDeleted(del)
		}
		d.written[seg.ID()] = e.File
		segs = append(segs, seg)
	}
	d.logger.Info("commit point loaded", "generation", m.Generation, "segments", len(segs))
	return segs, m.Generation, nil
}

func (d *FSDirectory) Close() error { return nil }

// SizeOnDisk sums the size of the files the directory holds.
func (d *FSDirectory) SizeOnDisk() (int64, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return 0, fmt.Errorf("listing index directory: %w", err)
	}
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
