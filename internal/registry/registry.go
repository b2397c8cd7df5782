// Package registry owns the process-wide vault registry and client cache.
//
// At most MaxVaults initialized engines stay resident, evicted LRU-wise.
// The two ML models are shared across engines; each engine owns its index
// image and keyword index. Invalidation is explicit: mutating operations
// on a vault evict or swap its engine so the next query sees fresh state.
//
// Read-write contention: a reindex does not lock the vault's engine while
// the indexer runs, so queries against that vault keep running on the
// engine's current image and may return results from before the reindex.
// Queries wait only while Reindex swaps the new image in under the engine's
// write lock. Concurrent writers fail fast with IndexBusy.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pborenstein/temoa/internal/chunk"
	"github.com/pborenstein/temoa/internal/config"
	"github.com/pborenstein/temoa/internal/embed"
	"github.com/pborenstein/temoa/internal/errors"
	"github.com/pborenstein/temoa/internal/gleaning"
	"github.com/pborenstein/temoa/internal/index"
	"github.com/pborenstein/temoa/internal/search"
	"github.com/pborenstein/temoa/internal/store"
	"github.com/pborenstein/temoa/internal/vault"
)

// VaultInfo describes one registered vault for listing surfaces.
type VaultInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	IsDefault bool   `json:"is_default"`
	Loaded    bool   `json:"loaded"`
	Rows      int    `json:"rows,omitempty"`
}

// Registry caches initialized per-vault search engines.
type Registry struct {
	cfg      *config.Config
	embedder embed.Embedder
	reranker embed.CrossEncoder
	profiles *search.ProfileSet

	mu    sync.Mutex
	cache *lru.Cache[string, *search.Engine]
}

// New creates the registry. The embedder is required; the reranker may be
// nil, which disables the rerank stage everywhere.
func New(cfg *config.Config, embedder embed.Embedder, reranker embed.CrossEncoder) (*Registry, error) {
	if embedder == nil {
		return nil, errors.New(errors.ErrCodeModelInit, "embedder is required", nil)
	}

	profiles, err := search.NewProfileSet(cfg)
	if err != nil {
		return nil, err
	}

	size := cfg.Cache.MaxVaults
	if size <= 0 {
		size = 3
	}
	cache, err := lru.NewWithEvict(size, func(name string, engine *search.Engine) {
		slog.Debug("engine_evicted", slog.String("vault", name))
		_ = engine.Close()
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "cannot create engine cache", err)
	}

	return &Registry{
		cfg:      cfg,
		embedder: embedder,
		reranker: reranker,
		profiles: profiles,
		cache:    cache,
	}, nil
}

// Profiles exposes the resolved profile set.
func (r *Registry) Profiles() *search.ProfileSet {
	return r.profiles
}

// Engine returns the engine for a vault name (empty = default), loading
// and caching it if needed. Switching to a cached vault is O(1).
func (r *Registry) Engine(ctx context.Context, vaultName string) (*search.Engine, error) {
	vc, err := r.cfg.VaultByName(vaultName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if engine, ok := r.cache.Get(vc.Name); ok {
		return engine, nil
	}

	engine, err := r.loadEngine(ctx, vc)
	if err != nil {
		return nil, err
	}
	r.cache.Add(vc.Name, engine)
	return engine, nil
}

// loadEngine cold-loads a vault: resolve the root, load the embedding
// store (validating its vault metadata), and rebuild the keyword index.
func (r *Registry) loadEngine(_ context.Context, vc config.VaultConfig) (*search.Engine, error) {
	reader, err := vault.NewReader(vc.Path, r.cfg.Paths.Include, r.cfg.Paths.Exclude)
	if err != nil {
		return nil, err
	}
	root := reader.Root()

	st := store.NewEmbeddingStore(root, r.cfg.DefaultModel)
	idx, err := st.Load(false)
	if err != nil {
		if err == store.ErrNoIndex {
			return nil, errors.New(errors.ErrCodeIndexMissing,
				fmt.Sprintf("vault %q has no index for model %q; run a reindex first", vc.Name, r.cfg.DefaultModel), nil)
		}
		return nil, err
	}

	bm25, err := store.NewBM25Index(idx.Metadata, r.cfg.BM25.TagBoost)
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexFailed, "keyword index build failed", err)
	}

	status := gleaning.NewStatusMap(filepath.Join(root, store.StateDirName))

	slog.Info("engine_loaded",
		slog.String("vault", vc.Name),
		slog.String("path", root),
		slog.Int("rows", idx.Rows()))

	return search.NewEngine(
		vc.Name, root,
		idx, bm25,
		r.embedder, r.reranker,
		status, r.profiles,
		r.cfg.Search, r.cfg.SearchTimeout(),
	), nil
}

// Search resolves the vault and runs the request against its engine.
func (r *Registry) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	engine, err := r.Engine(ctx, req.Vault)
	if err != nil {
		return nil, err
	}
	return engine.Search(ctx, req)
}

// Reindex runs the incremental indexer on a vault and refreshes its cached
// engine with the resulting image.
func (r *Registry) Reindex(ctx context.Context, vaultName string, force bool) (*index.Result, error) {
	vc, err := r.cfg.VaultByName(vaultName)
	if err != nil {
		return nil, err
	}

	reader, err := vault.NewReader(vc.Path, r.cfg.Paths.Include, r.cfg.Paths.Exclude)
	if err != nil {
		return nil, err
	}

	st := store.NewEmbeddingStore(reader.Root(), r.cfg.DefaultModel)
	idxr := index.New(reader, st, r.embedder)

	res, err := idxr.Run(ctx, index.Options{
		Force:    force,
		Chunking: r.chunkParams(),
		TagBoost: r.cfg.BM25.TagBoost,
	})
	if err != nil {
		return nil, err
	}

	// Refresh the client cache: a resident engine swaps to the new image,
	// an absent one will load fresh on next use.
	r.mu.Lock()
	if engine, ok := r.cache.Peek(vc.Name); ok {
		engine.Swap(res.Index, res.BM25)
	} else {
		_ = res.BM25.Close()
	}
	r.mu.Unlock()

	return res, nil
}

// chunkParams derives indexing-time chunking from the default profile.
func (r *Registry) chunkParams() chunk.Params {
	params := chunk.DefaultParams()
	profile, err := r.profiles.Get("default")
	if err != nil {
		return params
	}
	params.Enabled = profile.Chunking
	if profile.ChunkSize > 0 {
		params.Size = profile.ChunkSize
	}
	if profile.ChunkOverlap >= 0 && profile.ChunkOverlap < params.Size {
		params.Overlap = profile.ChunkOverlap
	}
	return params
}

// Invalidate evicts a vault's engine so the next query reloads fresh
// state. The vault watcher calls this after a burst of file changes settles.
func (r *Registry) Invalidate(vaultName string) {
	vc, err := r.cfg.VaultByName(vaultName)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(vc.Name)
}

// Vaults lists all registered vaults with load state.
func (r *Registry) Vaults() []VaultInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]VaultInfo, 0, len(r.cfg.Vaults))
	for _, vc := range r.cfg.Vaults {
		info := VaultInfo{
			Name:      vc.Name,
			Path:      vc.Path,
			IsDefault: vc.IsDefault,
		}
		if engine, ok := r.cache.Peek(vc.Name); ok {
			info.Loaded = true
			info.Rows = engine.Rows()
		}
		infos = append(infos, info)
	}
	return infos
}

// Close evicts every engine and releases their resources.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
}
