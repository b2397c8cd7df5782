// Package index keeps a vault's embedding store consistent with the vault.
//
// The indexer diffs current vault state against the store's file-tracking
// table, re-embeds dirty files, and merges in a fixed order (delete in
// descending row order, then update, then append) so intermediate
// computations never dereference a stale row index. Nothing is persisted
// until the final atomic save; a failure anywhere leaves the previous
// on-disk state intact.
package index

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pborenstein/temoa/internal/chunk"
	"github.com/pborenstein/temoa/internal/embed"
	"github.com/pborenstein/temoa/internal/errors"
	"github.com/pborenstein/temoa/internal/store"
	"github.com/pborenstein/temoa/internal/vault"
)

// Options configures one indexer run.
type Options struct {
	// Force rebuilds from scratch: every vault file is treated as new and
	// any vault-path mismatch in the existing sidecar is overridden.
	Force bool

	// Chunking are the chunker parameters for this vault's index.
	Chunking chunk.Params

	// TagBoost is carried into the rebuilt keyword index.
	TagBoost float64
}

// Result summarizes an indexer run.
type Result struct {
	TotalFiles    int
	NewFiles      int
	ModifiedFiles int
	DeletedFiles  int
	Rows          int
	FullRebuild   bool
	Duration      time.Duration

	// Index is the saved in-memory image.
	Index *store.Index
	// BM25 is the keyword index rebuilt from the final metadata list.
	BM25 *store.BM25Index
}

// Indexer drives the indexing pipeline for one vault.
// It is the only collaborator allowed to call the store's mutations.
type Indexer struct {
	reader   *vault.Reader
	store    *store.EmbeddingStore
	embedder embed.Embedder
}

// New creates an indexer over the given reader, store, and embedder.
func New(reader *vault.Reader, st *store.EmbeddingStore, embedder embed.Embedder) *Indexer {
	return &Indexer{reader: reader, store: st, embedder: embedder}
}

// Run executes one incremental (or forced full) index pass.
// Concurrent runs on the same vault are rejected with IndexBusy.
func (ix *Indexer) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	lock, err := acquireVaultLock(ix.reader.Root())
	if err != nil {
		return nil, err
	}
	defer lock.release()

	stats, err := ix.reader.Stat()
	if err != nil {
		return nil, err
	}

	idx, fullRebuild, err := ix.loadOrInit(opts.Force)
	if err != nil {
		return nil, err
	}

	newFiles, modified, deleted := diff(stats, idx.Tracking, fullRebuild)

	slog.Info("index_diff",
		slog.String("vault", ix.reader.Root()),
		slog.Int("total", len(stats)),
		slog.Int("new", len(newFiles)),
		slog.Int("modified", len(modified)),
		slog.Int("deleted", len(deleted)),
		slog.Bool("full_rebuild", fullRebuild))

	// DELETE first, in descending row order, so earlier indices stay valid.
	if len(deleted) > 0 {
		var rows []int
		for _, path := range deleted {
			if track, ok := idx.Tracking[path]; ok {
				rows = append(rows, track.Positions...)
			}
		}
		idx.Delete(rows)
		idx.RebuildTracking()
	}

	// UPDATE next: replace rows one-to-one where the chunk count is
	// unchanged; otherwise excise the old range and append at the tail.
	for _, path := range modified {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := ix.updateFile(ctx, idx, path, opts.Chunking); err != nil {
			return nil, err
		}
		idx.RebuildTracking()
	}

	// APPEND last: chunk, embed, and append all new files.
	for _, path := range newFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := ix.appendFile(ctx, idx, path, opts.Chunking); err != nil {
			return nil, err
		}
	}

	// Canonicalize row positions from the final metadata list.
	idx.RebuildTracking()

	// The keyword index is rebuilt in full on every pass; its runtime is
	// small compared to embedding work.
	bm25, err := store.NewBM25Index(idx.Metadata, opts.TagBoost)
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexFailed, "keyword index rebuild failed", err)
	}

	// Cancellation between merge and save is safe: the save simply does
	// not happen and the old state survives.
	if err := ctx.Err(); err != nil {
		_ = bm25.Close()
		return nil, err
	}

	if err := ix.store.Save(idx); err != nil {
		_ = bm25.Close()
		return nil, err
	}

	return &Result{
		TotalFiles:    len(stats),
		NewFiles:      len(newFiles),
		ModifiedFiles: len(modified),
		DeletedFiles:  len(deleted),
		Rows:          idx.Rows(),
		FullRebuild:   fullRebuild,
		Duration:      time.Since(start),
		Index:         idx,
		BM25:          bm25,
	}, nil
}

// loadOrInit loads the existing store or starts a fresh image.
func (ix *Indexer) loadOrInit(force bool) (*store.Index, bool, error) {
	if force {
		return emptyIndex(ix.embedder), true, nil
	}
	idx, err := ix.store.Load(false)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeVaultMismatch) {
			return nil, false, err
		}
		if err == store.ErrNoIndex {
			return emptyIndex(ix.embedder), true, nil
		}
		return nil, false, err
	}
	return idx, false, nil
}

func emptyIndex(embedder embed.Embedder) *store.Index {
	return &store.Index{
		Matrix:   [][]float32{},
		Metadata: []*store.Entry{},
		Tracking: map[string]*store.FileTrack{},
		Meta: store.VaultMetadata{
			EmbeddingDimension: embedder.Dimensions(),
		},
	}
}

// diff computes the (new, modified, deleted) path sets. A file is modified
// when its mtime differs, or its content length differs (the guard for
// filesystems with unreliable mtimes).
func diff(stats []vault.FileStat, tracking map[string]*store.FileTrack, fullRebuild bool) (newFiles, modified, deleted []string) {
	if fullRebuild {
		for _, st := range stats {
			newFiles = append(newFiles, st.RelativePath)
		}
		return newFiles, nil, nil
	}

	current := make(map[string]vault.FileStat, len(stats))
	for _, st := range stats {
		current[st.RelativePath] = st
	}

	for _, st := range stats {
		track, tracked := tracking[st.RelativePath]
		switch {
		case !tracked:
			newFiles = append(newFiles, st.RelativePath)
		case track.ModTime != st.ModTime || track.ContentLength != st.ContentLength:
			modified = append(modified, st.RelativePath)
		}
	}

	for path := range tracking {
		if _, exists := current[path]; !exists {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)
	return newFiles, modified, deleted
}

// updateFile re-chunks and re-embeds one modified file.
func (ix *Indexer) updateFile(ctx context.Context, idx *store.Index, path string, params chunk.Params) error {
	track, ok := idx.Tracking[path]
	if !ok {
		// Tracking lost the file between diff and merge; treat as new.
		return ix.appendFile(ctx, idx, path, params)
	}

	vectors, entries, err := ix.embedFile(ctx, path, params)
	if err != nil {
		return err
	}

	if len(entries) == len(track.Positions) {
		for i, row := range track.Positions {
			idx.Update(row, vectors[i], entries[i])
		}
		return nil
	}

	// Chunk count changed: excise the old range, append the new rows.
	idx.Delete(track.Positions)
	idx.Append(vectors, entries)
	return nil
}

// appendFile chunks, embeds, and appends one new file.
func (ix *Indexer) appendFile(ctx context.Context, idx *store.Index, path string, params chunk.Params) error {
	vectors, entries, err := ix.embedFile(ctx, path, params)
	if err != nil {
		return err
	}
	idx.Append(vectors, entries)
	return nil
}

// embedFile produces aligned (vectors, entries) for one file.
func (ix *Indexer) embedFile(ctx context.Context, path string, params chunk.Params) ([][]float32, []*store.Entry, error) {
	doc, err := ix.reader.ReadDocument(path)
	if err != nil {
		return nil, nil, err
	}

	chunks := chunk.Split(doc.RelativePath, doc.Body, doc.FrontMatter, params)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]*store.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = store.NewEntry(doc, c.ChunkIndex, c.ChunkTotal, c.StartOffset, c.EndOffset, c.Content, c.IsChunkedFile)
	}
	return vectors, entries, nil
}
