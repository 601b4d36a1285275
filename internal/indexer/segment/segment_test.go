package segment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
)

func doc(id, body string) *index.Document {
	d := &index.Document{}
	d.Add(&index.Field{Name: "id", Value: id, Store: index.StoreYes, Index: index.IndexNotAnalyzed})
	d.Add(&index.Field{Name: "body", Value: body, Store: index.StoreYes, Index: index.IndexAnalyzed, TermVector: index.TermVectorPositionsOffsets})
	return d
}

func openWriter(t *testing.T, dir index.Directory) *index.Writer {
	t.Helper()
	w, err := index.OpenWriter(dir, tokenizer.NewPerField(tokenizer.Standard{}))
	require.NoError(t, err)
	return w
}

func segmentFiles(t *testing.T, path string) []string {
	t.Helper()
	entries, err := os.ReadDir(path)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), FileExt) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestWriteReadRoundTrip(t *testing.T) {
	w := openWriter(t, index.RAMDirectory{})
	require.NoError(t, w.AddDocument(doc("a", strings.Repeat("compressible text ", 200))))
	require.NoError(t, w.AddDocument(doc("b", "other words")))
	r, err := w.Commit()
	require.NoError(t, err)
	seg := r.Segments()[0]

	dir := t.TempDir()
	name, err := WriteFile(dir, seg)
	require.NoError(t, err)
	assert.Equal(t, FileName(seg.ID()), name)

	loaded, err := ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, seg.ID(), loaded.ID())
	assert.Equal(t, seg.MaxDoc(), loaded.MaxDoc())

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	header := unmarshalHeader(data[:HeaderSize])
	assert.NotZero(t, header.Flags&flagCompressed, "repetitive bodies are compressed")
}

func TestReadFileDetectsCorruption(t *testing.T) {
	w := openWriter(t, index.RAMDirectory{})
	require.NoError(t, w.AddDocument(doc("a", "hello")))
	r, err := w.Commit()
	require.NoError(t, err)

	dir := t.TempDir()
	name, err := WriteFile(dir, r.Segments()[0])
	require.NoError(t, err)
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = ReadFile(path)
	assert.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, os.WriteFile(path, []byte("short"), 0644))
	_, err = ReadFile(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDirectoryReloadsCommitPoint(t *testing.T) {
	path := t.TempDir()
	dir, err := OpenFSDirectory(path)
	require.NoError(t, err)

	w := openWriter(t, dir)
	require.NoError(t, w.AddDocument(doc("a", "alpha")))
	require.NoError(t, w.AddDocument(doc("b", "beta")))
	_, err = w.Commit()
	require.NoError(t, err)
	require.NoError(t, w.DeleteDocuments(index.Term{Field: "id", Text: "a"}))
	require.NoError(t, w.AddDocument(doc("c", "gamma")))
	_, err = w.Commit()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	reopened, err := OpenFSDirectory(path)
	require.NoError(t, err)
	w2 := openWriter(t, reopened)
	r := w2.Reader()
	assert.Equal(t, int64(2), r.Generation())
	assert.Equal(t, 2, r.NumDocs())
	assert.Equal(t, 0, r.Search(&index.TermQuery{Field: "body", Term: "alpha"}, 0, nil).TotalHits)
	assert.Equal(t, 1, r.Search(&index.TermQuery{Field: "body", Term: "gamma"}, 0, nil).TotalHits)
}

func TestDirectoryRemovesMergedSegments(t *testing.T) {
	path := t.TempDir()
	dir, err := OpenFSDirectory(path)
	require.NoError(t, err)

	w := openWriter(t, dir)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, w.AddDocument(doc(id, "text "+id)))
		_, err := w.Commit()
		require.NoError(t, err)
	}
	require.Len(t, segmentFiles(t, path), 3)

	require.NoError(t, w.Optimize())
	files := segmentFiles(t, path)
	require.Len(t, files, 1)
	assert.Equal(t, FileName(w.Reader().Segments()[0].ID()), files[0])

	size, err := dir.SizeOnDisk()
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestEmptyDirectoryLoadsNothing(t *testing.T) {
	dir, err := OpenFSDirectory(filepath.Join(t.TempDir(), "idx"))
	require.NoError(t, err)
	segs, gen, err := dir.Load()
	require.NoError(t, err)
	assert.Empty(t, segs)
	assert.Zero(t, gen)
}
