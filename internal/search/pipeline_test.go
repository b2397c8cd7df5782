package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pborenstein/temoa/internal/config"
	"github.com/pborenstein/temoa/internal/embed"
	"github.com/pborenstein/temoa/internal/gleaning"
	"github.com/pborenstein/temoa/internal/store"
)

// stubEmbedder returns canned vectors per exact text, zero otherwise.
type stubEmbedder struct {
	dims int
	vecs map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vecs[text]; ok {
		return v, nil
	}
	return make([]float32, s.dims), nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = s.Embed(ctx, t)
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int                  { return s.dims }
func (s *stubEmbedder) ModelName() string                { return "stub" }
func (s *stubEmbedder) Available(context.Context) bool   { return true }
func (s *stubEmbedder) Close() error                     { return nil }

// stubReranker scores passages by substring lookup.
type stubReranker struct {
	scores map[string]float64
}

func (s *stubReranker) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	out := make([]float64, len(passages))
	for i, p := range passages {
		for key, score := range s.scores {
			if strings.Contains(p, key) {
				out[i] = score
			}
		}
	}
	return out, nil
}

func (s *stubReranker) Available(context.Context) bool { return true }
func (s *stubReranker) Close() error                   { return nil }

// row bundles one indexed row for fixture building.
type row struct {
	entry  *store.Entry
	vector []float32
}

func buildEngine(t *testing.T, vaultPath string, rows []row, embedder embed.Embedder, reranker embed.CrossEncoder) *Engine {
	t.Helper()

	ix := &store.Index{Tracking: map[string]*store.FileTrack{}}
	for _, r := range rows {
		ix.Append([][]float32{r.vector}, []*store.Entry{r.entry})
	}
	ix.RebuildTracking()

	bm25, err := store.NewBM25Index(ix.Metadata, store.DefaultTagBoost)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25.Close() })

	cfg := config.NewConfig()
	profiles, err := NewProfileSet(cfg)
	require.NoError(t, err)

	status := gleaning.NewStatusMap(filepath.Join(vaultPath, store.StateDirName))

	return NewEngine("test", vaultPath, ix, bm25, embedder, reranker,
		status, profiles, cfg.Search, 30*time.Second)
}

func boolPtr(b bool) *bool { return &b }

func simpleEntry(path, content string, tags ...string) *store.Entry {
	lower := make([]string, len(tags))
	for i, tag := range tags {
		lower[i] = strings.ToLower(tag)
	}
	return &store.Entry{
		FilePath:   path,
		Title:      strings.TrimSuffix(filepath.Base(path), ".md"),
		Content:    content,
		ChunkIndex: 0,
		ChunkTotal: 1,
		TagsLower:  lower,
		ModTime:    time.Now().Unix(),
	}
}

// Scenario S1: basic semantic search returns the matching note with its
// cosine above the threshold.
func TestSearch_BasicSemantic(t *testing.T) {
	embedder := &stubEmbedder{dims: 3, vecs: map[string][]float32{
		"obsidian": {1, 0, 0},
	}}
	engine := buildEngine(t, t.TempDir(), []row{
		{entry: simpleEntry("obsidian-tools.md", "tools for obsidian vaults", "obsidian", "tools"),
			vector: []float32{0.9, 0.436, 0}},
	}, embedder, nil)

	resp, err := engine.Search(context.Background(), &Request{
		Query:  "obsidian",
		Hybrid: boolPtr(false),
		Rerank: boolPtr(false),
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	r := resp.Results[0]
	assert.Equal(t, "obsidian-tools.md", r.RelativePath)
	assert.Greater(t, r.SimilarityScore, 0.3)
	assert.Nil(t, resp.ExpandedQuery)
	assert.Equal(t, "default", resp.Profile)
}

// Scenario S2: in hybrid mode a curated tag match outranks a document that
// merely repeats the term, and is flagged tag_boosted.
func TestSearch_TagBoostHybrid(t *testing.T) {
	embedder := &stubEmbedder{dims: 3, vecs: map[string][]float32{
		"zettelkasten books": {1, 0, 0},
	}}
	engine := buildEngine(t, t.TempDir(), []row{
		{entry: simpleEntry("a.md", "a book about taking notes", "zettelkasten", "book"),
			vector: []float32{0.5, 0.5, 0.707}},
		{entry: simpleEntry("b.md", strings.Repeat("zettelkasten ", 10)),
			vector: []float32{0.8, 0.6, 0}},
	}, embedder, nil)

	resp, err := engine.Search(context.Background(), &Request{
		Query:  "zettelkasten books",
		Hybrid: boolPtr(true),
		Rerank: boolPtr(false),
	})
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	assert.Equal(t, "a.md", top.RelativePath)
	assert.True(t, top.TagBoosted)
	assert.Contains(t, top.TagsMatched, "zettelkasten")
	require.NotNil(t, top.RRFScore)

	// The promoted RRF score exceeds every unboosted score.
	for _, r := range resp.Results[1:] {
		assert.False(t, r.TagBoosted)
		if r.RRFScore != nil {
			assert.Greater(t, *top.RRFScore, *r.RRFScore)
		}
	}
}

// Scenario S3: chunk dedup keeps the best chunk of a chunked file and
// annotates it with the matched-chunk count.
func TestSearch_ChunkDedup(t *testing.T) {
	embedder := &stubEmbedder{dims: 3, vecs: map[string][]float32{
		"forsyte saga": {1, 0, 0},
	}}

	mkChunk := func(idx int, content string, vec []float32) row {
		e := simpleEntry("novel.md", content)
		e.ChunkIndex = idx
		e.ChunkTotal = 3
		e.IsChunkedFile = true
		return row{entry: e, vector: vec}
	}

	engine := buildEngine(t, t.TempDir(), []row{
		mkChunk(0, "opening chapters", []float32{0.3, 0.954, 0}),
		mkChunk(1, "the Forsyte Saga appears here", []float32{0.95, 0.312, 0}),
		mkChunk(2, "closing chapters", []float32{0.4, 0.917, 0}),
	}, embedder, nil)

	resp, err := engine.Search(context.Background(), &Request{
		Query:  "forsyte saga",
		Hybrid: boolPtr(false),
		Rerank: boolPtr(false),
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	r := resp.Results[0]
	assert.Equal(t, "novel.md", r.RelativePath)
	assert.Equal(t, 1, r.ChunkIndex)
	assert.Equal(t, 3, r.ChunkTotal)
	assert.GreaterOrEqual(t, r.MatchedChunks, 1)
	assert.True(t, r.IsChunkedFile)
}

// Scenario S4: with equal similarity, the recently modified note wins via
// the time boost, and the boost math lands where the defaults say.
func TestSearch_TimeBoostOrdering(t *testing.T) {
	vaultPath := t.TempDir()

	writeVaultFile := func(name string, mtime time.Time) {
		path := filepath.Join(vaultPath, name)
		require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	writeVaultFile("fresh.md", time.Now())
	writeVaultFile("stale.md", time.Now().AddDate(-2, 0, 0))

	embedder := &stubEmbedder{dims: 2, vecs: map[string][]float32{
		"query": {1, 0},
	}}
	// Both rows sit at cosine 0.80 to the query.
	engine := buildEngine(t, vaultPath, []row{
		{entry: simpleEntry("fresh.md", "fresh"), vector: []float32{0.8, 0.6}},
		{entry: simpleEntry("stale.md", "stale"), vector: []float32{0.8, -0.6}},
	}, embedder, nil)

	resp, err := engine.Search(context.Background(), &Request{
		Query:     "query",
		Hybrid:    boolPtr(false),
		Rerank:    boolPtr(false),
		TimeBoost: boolPtr(true),
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	first, second := resp.Results[0], resp.Results[1]
	assert.Equal(t, "fresh.md", first.RelativePath)
	assert.Equal(t, "stale.md", second.RelativePath)

	// max_boost 0.2, half-life 90d: today ≈ ×1.20, two years ≈ ×1.0x.
	assert.InDelta(t, 0.96, first.FinalScore, 0.01)
	assert.Less(t, second.FinalScore, 0.85)
	assert.Greater(t, second.FinalScore, 0.80)
	require.NotNil(t, first.TimeBoostFactor)
	assert.InDelta(t, 0.2, *first.TimeBoostFactor, 0.01)
}

// Scenario S5: inactive gleanings are suppressed; active ones survive.
func TestSearch_StatusFilter(t *testing.T) {
	vaultPath := t.TempDir()
	stateDir := filepath.Join(vaultPath, store.StateDirName)
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(stateDir, gleaning.StatusFileName),
		[]byte(`{"G2": {"status": "inactive", "reason": "dead link"}}`),
		0o644))

	withGleaning := func(path, id string, vec []float32) row {
		e := simpleEntry(path, "saved link about searching")
		e.FrontMatter = map[string]any{"gleaning_id": id}
		return row{entry: e, vector: vec}
	}

	embedder := &stubEmbedder{dims: 2, vecs: map[string][]float32{
		"searching": {1, 0},
	}}
	engine := buildEngine(t, vaultPath, []row{
		withGleaning("g1.md", "G1", []float32{0.9, 0.436}),
		withGleaning("g2.md", "G2", []float32{0.9, -0.436}),
	}, embedder, nil)

	resp, err := engine.Search(context.Background(), &Request{
		Query:  "searching",
		Hybrid: boolPtr(false),
		Rerank: boolPtr(false),
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "g1.md", resp.Results[0].RelativePath)
}

// Invariant 7: a tag-boosted result is never demoted below a non-boosted
// result it outranked, even when the cross-encoder prefers the other one.
func TestSearch_RerankExemptsTagBoosted(t *testing.T) {
	embedder := &stubEmbedder{dims: 3, vecs: map[string][]float32{
		"golang concurrency": {1, 0, 0},
	}}
	reranker := &stubReranker{scores: map[string]float64{
		"tagged note about": 0.1,
		"untagged note":     9.5,
	}}

	engine := buildEngine(t, t.TempDir(), []row{
		{entry: simpleEntry("tagged.md", "tagged note about goroutines", "golang"),
			vector: []float32{0.7, 0.714, 0}},
		{entry: simpleEntry("untagged.md", "untagged note mentioning golang concurrency"),
			vector: []float32{0.9, 0.436, 0}},
	}, embedder, reranker)

	resp, err := engine.Search(context.Background(), &Request{
		Query:  "golang concurrency",
		Hybrid: boolPtr(true),
		Rerank: boolPtr(true),
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	top := resp.Results[0]
	assert.Equal(t, "tagged.md", top.RelativePath)
	assert.True(t, top.TagBoosted)

	// The reranked result still records its movement.
	other := resp.Results[1]
	require.NotNil(t, other.CrossEncoderScore)
	require.NotNil(t, other.RankBefore)
	require.NotNil(t, other.RankAfter)
}

func TestSearch_TypeFilter(t *testing.T) {
	withType := func(path, typ string, vec []float32) row {
		e := simpleEntry(path, "note content about gardens")
		if typ != "" {
			e.FrontMatter = map[string]any{"type": typ}
		}
		return row{entry: e, vector: vec}
	}

	embedder := &stubEmbedder{dims: 2, vecs: map[string][]float32{
		"gardens": {1, 0},
	}}
	engine := buildEngine(t, t.TempDir(), []row{
		withType("daily/2024-01-01.md", "daily", []float32{0.99, 0.141}),
		withType("garden.md", "note", []float32{0.9, 0.436}),
		withType("untyped.md", "", []float32{0.8, 0.6}),
	}, embedder, nil)

	// Default profile excludes "daily"; untyped files pass (fail-open).
	resp, err := engine.Search(context.Background(), &Request{
		Query:  "gardens",
		Hybrid: boolPtr(false),
		Rerank: boolPtr(false),
	})
	require.NoError(t, err)
	paths := resultPaths(resp)
	assert.NotContains(t, paths, "daily/2024-01-01.md")
	assert.Contains(t, paths, "garden.md")
	assert.Contains(t, paths, "untyped.md")

	// An include list narrows to the named types.
	resp, err = engine.Search(context.Background(), &Request{
		Query:        "gardens",
		Hybrid:       boolPtr(false),
		Rerank:       boolPtr(false),
		IncludeTypes: []string{"note"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"garden.md"}, resultPaths(resp))
}

func resultPaths(resp *Response) []string {
	paths := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		paths[i] = r.RelativePath
	}
	return paths
}

func TestSearch_MinScoreThreshold(t *testing.T) {
	embedder := &stubEmbedder{dims: 2, vecs: map[string][]float32{
		"query": {1, 0},
	}}
	engine := buildEngine(t, t.TempDir(), []row{
		{entry: simpleEntry("close.md", "close match"), vector: []float32{0.9, 0.436}},
		{entry: simpleEntry("far.md", "weak match"), vector: []float32{0.1, 0.995}},
	}, embedder, nil)

	resp, err := engine.Search(context.Background(), &Request{
		Query:  "query",
		Hybrid: boolPtr(false),
		Rerank: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"close.md"}, resultPaths(resp))
}

func TestSearch_EmptyVault(t *testing.T) {
	embedder := &stubEmbedder{dims: 2, vecs: map[string][]float32{}}
	engine := buildEngine(t, t.TempDir(), nil, embedder, nil)

	resp, err := engine.Search(context.Background(), &Request{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	embedder := &stubEmbedder{dims: 2}
	engine := buildEngine(t, t.TempDir(), nil, embedder, nil)

	_, err := engine.Search(context.Background(), &Request{Query: "   "})
	require.Error(t, err)
}

func TestSearch_ExpansionWithZeroResults(t *testing.T) {
	// A short query with expand_query on and nothing to find completes
	// with the original query and no stage failure.
	embedder := &stubEmbedder{dims: 2, vecs: map[string][]float32{}}
	engine := buildEngine(t, t.TempDir(), nil, embedder, nil)

	resp, err := engine.Search(context.Background(), &Request{
		Query:       "x",
		ExpandQuery: boolPtr(true),
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Nil(t, resp.ExpandedQuery)
}

func TestSearch_TraceCapturesStages(t *testing.T) {
	embedder := &stubEmbedder{dims: 2, vecs: map[string][]float32{
		"query": {1, 0},
	}}
	engine := buildEngine(t, t.TempDir(), []row{
		{entry: simpleEntry("a.md", "match"), vector: []float32{0.9, 0.436}},
	}, embedder, nil)

	resp, err := engine.Search(context.Background(), &Request{
		Query:  "query",
		Hybrid: boolPtr(false),
		Rerank: boolPtr(false),
		Trace:  true,
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Trace)
	require.NotEmpty(t, resp.Trace.Stages)

	names := make([]string, len(resp.Trace.Stages))
	for i, st := range resp.Trace.Stages {
		names[i] = st.Name
	}
	assert.Contains(t, names, "retrieval")
	assert.Contains(t, names, "time_boost")
	assert.Contains(t, names, "top_k")

	// Previews carry current score fields.
	first := resp.Trace.Stages[0]
	require.NotEmpty(t, first.Preview)
	assert.Contains(t, first.Preview[0].Scores, ScoreSimilarity)

	// Disabled tracing stays nil.
	resp, err = engine.Search(context.Background(), &Request{
		Query:  "query",
		Hybrid: boolPtr(false),
		Rerank: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Trace)
}

func TestSearch_ResultsDeduplicatedByPath(t *testing.T) {
	// Invariant 3: single-chunk profiles return no duplicate paths.
	embedder := &stubEmbedder{dims: 2, vecs: map[string][]float32{
		"query": {1, 0},
	}}

	mk := func(idx int, vec []float32) row {
		e := simpleEntry("doc.md", "chunk content")
		e.ChunkIndex = idx
		e.ChunkTotal = 2
		e.IsChunkedFile = true
		return row{entry: e, vector: vec}
	}
	engine := buildEngine(t, t.TempDir(), []row{
		mk(0, []float32{0.9, 0.436}),
		mk(1, []float32{0.85, 0.527}),
	}, embedder, nil)

	resp, err := engine.Search(context.Background(), &Request{
		Query:  "query",
		Hybrid: boolPtr(false),
		Rerank: boolPtr(false),
	})
	require.NoError(t, err)

	seen := map[string]int{}
	for _, r := range resp.Results {
		seen[r.RelativePath]++
	}
	for path, n := range seen {
		assert.Equal(t, 1, n, "duplicate path %s", path)
	}
}
