package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pborenstein/temoa/internal/config"
	"github.com/pborenstein/temoa/internal/embed"
	"github.com/pborenstein/temoa/internal/errors"
	"github.com/pborenstein/temoa/internal/gleaning"
	"github.com/pborenstein/temoa/internal/store"
)

// Engine executes searches against one vault's loaded index.
//
// The matrix and metadata are treated as immutable for the engine's
// lifetime; a reindex swaps in a fresh image under the write lock. The
// engine never mutates the embedding store or the sidecars.
type Engine struct {
	vaultName string
	vaultPath string

	embedder embed.Embedder
	reranker embed.CrossEncoder // nil disables the rerank stage
	profiles *ProfileSet
	defaults config.SearchConfig
	timeout  time.Duration

	mu     sync.RWMutex
	idx    *store.Index
	bm25   *store.BM25Index
	status *gleaning.StatusMap
}

// NewEngine assembles an engine from a loaded index image.
func NewEngine(
	vaultName, vaultPath string,
	idx *store.Index,
	bm25 *store.BM25Index,
	embedder embed.Embedder,
	reranker embed.CrossEncoder,
	status *gleaning.StatusMap,
	profiles *ProfileSet,
	defaults config.SearchConfig,
	timeout time.Duration,
) *Engine {
	return &Engine{
		vaultName: vaultName,
		vaultPath: vaultPath,
		idx:       idx,
		bm25:      bm25,
		embedder:  embedder,
		reranker:  reranker,
		status:    status,
		profiles:  profiles,
		defaults:  defaults,
		timeout:   timeout,
	}
}

// VaultName returns the engine's vault name.
func (e *Engine) VaultName() string { return e.vaultName }

// VaultPath returns the engine's resolved vault root.
func (e *Engine) VaultPath() string { return e.vaultPath }

// Rows returns the indexed row count.
func (e *Engine) Rows() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.Rows()
}

// Swap installs a freshly indexed image. Queries in flight finish against
// the old image; the displaced keyword index is closed here.
func (e *Engine) Swap(idx *store.Index, bm25 *store.BM25Index) {
	e.mu.Lock()
	old := e.bm25
	e.idx = idx
	e.bm25 = bm25
	e.status.Invalidate()
	e.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

// Close releases the engine's keyword index. The models are shared and
// stay open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bm25 != nil {
		return e.bm25.Close()
	}
	return nil
}

// Search runs the staged pipeline for one request.
func (e *Engine) Search(ctx context.Context, req *Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "query must be non-empty", nil)
	}

	profile, err := e.profiles.Get(req.Profile)
	if err != nil {
		return nil, err
	}
	opts := resolveOptions(req, profile, e.defaults)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	tr := newTracer(req.Trace, query)
	p := &pipeline{
		vaultPath: e.vaultPath,
		idx:       e.idx,
		bm25:      e.bm25,
		embedder:  e.embedder,
		reranker:  e.reranker,
		status:    e.status,
		opts:      opts,
		tr:        tr,
		now:       time.Now(),
	}

	var expanded *string

	results, err := p.run(ctx, query)
	if err != nil {
		return nil, e.classifyError(ctx, err)
	}

	// Query expansion is opt-in and only kicks in for short queries. The
	// initial pass's top results seed the vectorizer; any failure falls
	// back silently to the original query's results.
	if opts.ExpandQuery && shouldExpand(query) && len(results) > 0 {
		if eq := expandQuery(query, results); eq != query {
			expandedResults, expErr := p.run(ctx, eq)
			if expErr != nil {
				slog.Warn("query_expansion_failed",
					slog.String("query", query),
					slog.String("error", expErr.Error()))
			} else {
				results = expandedResults
				expanded = &eq
				tr.setExpandedQuery(eq)
			}
		}
	}

	if results == nil {
		results = []*Result{}
	}

	return &Response{
		Query:         query,
		ExpandedQuery: expanded,
		Profile:       profile.Name,
		Results:       results,
		Trace:         tr.finish(),
	}, nil
}

// classifyError maps context expiry onto SearchTimeout and wraps everything
// uncoded as a SearchError.
func (e *Engine) classifyError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.SearchTimeout("search exceeded its time budget")
	}
	if errors.GetCode(err) != "" {
		return err
	}
	return errors.SearchError("search failed", err)
}
