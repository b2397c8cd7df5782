// Package store persists the per-vault search artifacts: the embedding
// matrix, its parallel metadata list, the file-tracking table, and the
// rebuilt-per-save BM25 keyword index.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/pborenstein/temoa/internal/vault"
)

// ErrNoIndex is the "no index yet" sentinel returned by Load.
var ErrNoIndex = errors.New("no index for vault")

// Entry is one indexed row. Row i of the embedding matrix corresponds to
// metadata record i; the store enforces this alignment on every save.
type Entry struct {
	FilePath      string         `json:"file_path"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	FrontMatter   map[string]any `json:"front_matter,omitempty"`
	ChunkIndex    int            `json:"chunk_index"`
	ChunkTotal    int            `json:"chunk_total"`
	StartOffset   int            `json:"start_offset"`
	EndOffset     int            `json:"end_offset"`
	IsChunkedFile bool           `json:"is_chunked_file"`
	TagsLower     []string       `json:"tags_lower,omitempty"`
	ModTime       int64          `json:"mtime"`
	ContentLength int64          `json:"content_length"`
}

// NewEntry derives an indexed entry from a document chunk.
func NewEntry(doc *vault.Document, chunkIndex, chunkTotal, startOffset, endOffset int, content string, isChunked bool) *Entry {
	return &Entry{
		FilePath:      doc.RelativePath,
		Title:         doc.Title,
		Content:       content,
		FrontMatter:   doc.FrontMatter,
		ChunkIndex:    chunkIndex,
		ChunkTotal:    chunkTotal,
		StartOffset:   startOffset,
		EndOffset:     endOffset,
		IsChunkedFile: isChunked,
		TagsLower:     lowerTags(doc.FrontMatter),
		ModTime:       doc.ModTime,
		ContentLength: doc.ContentLength,
	}
}

// lowerTags derives the lowercase tag list from front matter.
func lowerTags(fm map[string]any) []string {
	tags := vault.StringList(fm, "tags")
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = strings.ToLower(t)
	}
	return out
}

// Description returns the front matter description for the entry, if any.
func (e *Entry) Description() string {
	return vault.StringValue(e.FrontMatter, "description")
}

// GleaningID returns the front matter gleaning_id for the entry, if any.
func (e *Entry) GleaningID() string {
	return vault.StringValue(e.FrontMatter, "gleaning_id")
}

// Types resolves the entry's type set from front matter. Entries without a
// type field but carrying a gleaning_id are implicitly "gleaning"; entries
// lacking both are implicitly "none".
func (e *Entry) Types() []string {
	if types := vault.StringList(e.FrontMatter, "type"); len(types) > 0 {
		return types
	}
	if e.GleaningID() != "" {
		return []string{"gleaning"}
	}
	return []string{"none"}
}

// FileTrack records what the index knows about one vault file.
type FileTrack struct {
	ModTime       int64 `json:"mtime"`
	ContentLength int64 `json:"content_length"`
	// Positions is exactly the set of matrix rows whose entry belongs to
	// this file, ascending. Rebuilt from the metadata list on every save.
	Positions []int `json:"positions"`
}

// VaultMetadata is the validation sidecar stored inside index.json.
type VaultMetadata struct {
	// VaultPath is the absolute, symlink-resolved vault root.
	VaultPath string `json:"vault_path"`
	// ModelName is the bi-encoder that produced the matrix.
	ModelName string `json:"model_name"`
	// EmbeddingDimension is the matrix column count.
	EmbeddingDimension int `json:"embedding_dimension"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Index is the in-memory image of one vault's embedding store. The matrix
// and metadata list are mutated only through the methods below; persisting
// requires an explicit Save on the owning EmbeddingStore.
type Index struct {
	Matrix   [][]float32
	Metadata []*Entry
	Tracking map[string]*FileTrack
	Meta     VaultMetadata
}

// Rows returns the matrix row count.
func (ix *Index) Rows() int {
	return len(ix.Matrix)
}

// Append adds rows at the tail.
func (ix *Index) Append(vectors [][]float32, entries []*Entry) {
	ix.Matrix = append(ix.Matrix, vectors...)
	ix.Metadata = append(ix.Metadata, entries...)
}

// Update replaces one row in place.
func (ix *Index) Update(row int, vector []float32, entry *Entry) {
	ix.Matrix[row] = vector
	ix.Metadata[row] = entry
}

// Delete removes the given rows. Rows are excised in descending index order
// so earlier indices stay valid while later ones are removed.
func (ix *Index) Delete(rows []int) {
	sorted := append([]int(nil), rows...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] > sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	for _, row := range sorted {
		if row < 0 || row >= len(ix.Matrix) {
			continue
		}
		ix.Matrix = append(ix.Matrix[:row], ix.Matrix[row+1:]...)
		ix.Metadata = append(ix.Metadata[:row], ix.Metadata[row+1:]...)
	}
}

// RebuildTracking canonicalizes the file-tracking table from the metadata
// list. Row positions in the result always match actual row indices.
func (ix *Index) RebuildTracking() {
	tracking := make(map[string]*FileTrack)
	for i, entry := range ix.Metadata {
		track, ok := tracking[entry.FilePath]
		if !ok {
			track = &FileTrack{
				ModTime:       entry.ModTime,
				ContentLength: entry.ContentLength,
			}
			tracking[entry.FilePath] = track
		}
		track.Positions = append(track.Positions, i)
	}
	ix.Tracking = tracking
}
