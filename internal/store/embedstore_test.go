package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pborenstein/temoa/internal/errors"
)

func testEntry(path string, chunkIndex, chunkTotal int) *Entry {
	return &Entry{
		FilePath:   path,
		Title:      path,
		Content:    "content of " + path,
		ChunkIndex: chunkIndex,
		ChunkTotal: chunkTotal,
		ModTime:    1700000000,
	}
}

func testIndex(paths ...string) *Index {
	ix := &Index{Tracking: map[string]*FileTrack{}}
	for i, p := range paths {
		ix.Append(
			[][]float32{{float32(i), 1, 0}},
			[]*Entry{testEntry(p, 0, 1)},
		)
	}
	ix.RebuildTracking()
	return ix
}

func TestEmbeddingStore_LoadMissing(t *testing.T) {
	s := NewEmbeddingStore(t.TempDir(), "test-model")
	_, err := s.Load(false)
	assert.Equal(t, ErrNoIndex, err)
}

func TestEmbeddingStore_SaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewEmbeddingStore(root, "test-model")

	ix := testIndex("a.md", "b.md", "c.md")
	require.NoError(t, s.Save(ix))

	loaded, err := s.Load(false)
	require.NoError(t, err)

	assert.Equal(t, ix.Matrix, loaded.Matrix)
	assert.Equal(t, len(ix.Metadata), len(loaded.Metadata))
	for i := range ix.Metadata {
		assert.Equal(t, ix.Metadata[i].FilePath, loaded.Metadata[i].FilePath)
		assert.Equal(t, ix.Metadata[i].Content, loaded.Metadata[i].Content)
	}
	assert.Equal(t, ix.Tracking, loaded.Tracking)
	assert.Equal(t, root, loaded.Meta.VaultPath)
	assert.Equal(t, "test-model", loaded.Meta.ModelName)
	assert.Equal(t, 3, loaded.Meta.EmbeddingDimension)
	assert.False(t, loaded.Meta.CreatedAt.IsZero())
}

func TestEmbeddingStore_TrackingInvariant(t *testing.T) {
	// After save: rows == len(metadata), tracking keys == file path set,
	// and each positions list is exactly the rows carrying that path.
	s := NewEmbeddingStore(t.TempDir(), "test-model")

	ix := &Index{Tracking: map[string]*FileTrack{}}
	ix.Append(
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
		[]*Entry{
			testEntry("multi.md", 0, 2),
			testEntry("single.md", 0, 1),
			testEntry("multi.md", 1, 2),
		},
	)
	require.NoError(t, s.Save(ix))

	loaded, err := s.Load(false)
	require.NoError(t, err)

	require.Equal(t, loaded.Rows(), len(loaded.Metadata))
	require.Len(t, loaded.Tracking, 2)
	assert.Equal(t, []int{0, 2}, loaded.Tracking["multi.md"].Positions)
	assert.Equal(t, []int{1}, loaded.Tracking["single.md"].Positions)

	for path, track := range loaded.Tracking {
		for _, pos := range track.Positions {
			assert.Equal(t, path, loaded.Metadata[pos].FilePath)
		}
	}
}

func TestEmbeddingStore_RefusesMisalignedSave(t *testing.T) {
	s := NewEmbeddingStore(t.TempDir(), "test-model")

	ix := testIndex("a.md")
	ix.Matrix = append(ix.Matrix, []float32{9, 9, 9}) // no matching entry

	err := s.Save(ix)
	require.Error(t, err)
}

func TestEmbeddingStore_VaultMismatch(t *testing.T) {
	root1 := t.TempDir()
	root2 := t.TempDir()

	s1 := NewEmbeddingStore(root1, "test-model")
	require.NoError(t, s1.Save(testIndex("a.md")))

	// Move the state directory to a different vault root.
	require.NoError(t, os.Rename(
		filepath.Join(root1, StateDirName),
		filepath.Join(root2, StateDirName)))

	s2 := NewEmbeddingStore(root2, "test-model")
	_, err := s2.Load(false)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeVaultMismatch, errors.GetCode(err))

	// Force overrides the check.
	loaded, err := s2.Load(true)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Rows())
}

func TestEmbeddingStore_SidecarMigration(t *testing.T) {
	root := t.TempDir()
	s := NewEmbeddingStore(root, "test-model")
	require.NoError(t, s.Save(testIndex("a.md")))

	// Blank out the sidecar fields to simulate a legacy index.
	idxPath := filepath.Join(s.Dir(), indexFileName)
	data, err := os.ReadFile(idxPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(idxPath, []byte(replaceVaultPath(string(data))), 0o644))

	loaded, err := s.Load(false)
	require.NoError(t, err)
	assert.Equal(t, root, loaded.Meta.VaultPath)

	// The migration wrote the sidecar back.
	reloaded, err := s.Load(false)
	require.NoError(t, err)
	assert.Equal(t, root, reloaded.Meta.VaultPath)
}

// replaceVaultPath empties the vault_path value in a rendered index.json.
func replaceVaultPath(indexJSON string) string {
	const key = `"vault_path": "`
	start := strings.Index(indexJSON, key)
	if start < 0 {
		return indexJSON
	}
	start += len(key)
	end := strings.IndexByte(indexJSON[start:], '"')
	if end < 0 {
		return indexJSON
	}
	return indexJSON[:start] + indexJSON[start+end:]
}

func TestEmbeddingStore_CorruptMatrixDetected(t *testing.T) {
	s := NewEmbeddingStore(t.TempDir(), "test-model")
	require.NoError(t, s.Save(testIndex("a.md")))

	require.NoError(t, os.WriteFile(
		filepath.Join(s.Dir(), matrixFileName), []byte("garbage"), 0o644))

	_, err := s.Load(false)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCorruptIndex, errors.GetCode(err))
}

func TestIndex_DeleteDescendingKeepsAlignment(t *testing.T) {
	ix := testIndex("a.md", "b.md", "c.md", "d.md")

	// Deleting rows 1 and 3 (passed in ascending order) leaves a.md and c.md.
	ix.Delete([]int{1, 3})
	ix.RebuildTracking()

	require.Equal(t, 2, ix.Rows())
	assert.Equal(t, "a.md", ix.Metadata[0].FilePath)
	assert.Equal(t, "c.md", ix.Metadata[1].FilePath)
	assert.Equal(t, []int{0}, ix.Tracking["a.md"].Positions)
	assert.Equal(t, []int{1}, ix.Tracking["c.md"].Positions)
}

func TestIndex_DeleteThenAppendDense(t *testing.T) {
	// Deleting the only rows for a file collapses them; subsequent
	// appends get dense indices.
	ix := testIndex("a.md", "b.md")
	ix.Delete(ix.Tracking["a.md"].Positions)
	ix.Append([][]float32{{2, 2, 2}}, []*Entry{testEntry("c.md", 0, 1)})
	ix.RebuildTracking()

	require.Equal(t, 2, ix.Rows())
	assert.Equal(t, []int{0}, ix.Tracking["b.md"].Positions)
	assert.Equal(t, []int{1}, ix.Tracking["c.md"].Positions)
}

func TestEmbeddingStore_EmptyIndexRoundTrip(t *testing.T) {
	s := NewEmbeddingStore(t.TempDir(), "test-model")

	ix := &Index{Matrix: [][]float32{}, Metadata: []*Entry{}}
	ix.Meta.EmbeddingDimension = 3
	require.NoError(t, s.Save(ix))

	loaded, err := s.Load(false)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Rows())
	assert.Empty(t, loaded.Tracking)
}
