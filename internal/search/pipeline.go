package search

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pborenstein/temoa/internal/embed"
	"github.com/pborenstein/temoa/internal/errors"
	"github.com/pborenstein/temoa/internal/gleaning"
	"github.com/pborenstein/temoa/internal/store"
	"github.com/pborenstein/temoa/internal/vault"
)

// Retrieval constants.
const (
	// rrfConstant is the RRF smoothing parameter. k=60 is the standard
	// value validated across domains.
	rrfConstant = 60

	// semanticCandidates is the semantic-only candidate pool size.
	semanticCandidates = 100

	// hybridFetchFactor is how many times the final limit each retrieval
	// branch fetches before fusion.
	hybridFetchFactor = 3

	// tagPromotionFactor scales the maximum observed RRF score when
	// promoting tag matches. Plain RRF averages ranks and would bury
	// exact tag matches; tags are curated metadata and win outright.
	tagPromotionFactor = 1.75

	// rerankPoolSize caps how many candidates the cross-encoder scores.
	rerankPoolSize = 100

	snippetLength = 200
)

// pipeline is one query's execution state. Stages transform the result
// list in a fixed order; the tracer observes each boundary.
type pipeline struct {
	vaultPath string
	idx       *store.Index
	bm25      *store.BM25Index
	embedder  embed.Embedder
	reranker  embed.CrossEncoder
	status    *gleaning.StatusMap
	opts      options
	tr        *tracer
	now       time.Time
}

// run executes stages 1 through 7. Stage 1 failures are fatal; the
// ranking-enhancement stages fail open.
func (p *pipeline) run(ctx context.Context, query string) ([]*Result, error) {
	results, err := p.retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	results = p.dedupe(results)
	results = p.threshold(results)
	results = p.statusFilter(results)
	results = p.typeFilter(results)
	results = p.rerank(ctx, query, results)
	results = p.timeBoost(results)
	results = p.topK(results)
	return results, nil
}

// newResult builds a result shell for a matrix row.
func (p *pipeline) newResult(row int) *Result {
	entry := p.idx.Metadata[row]
	return &Result{
		RelativePath:  entry.FilePath,
		Title:         entry.Title,
		Snippet:       makeSnippet(entry.Content),
		IsChunkedFile: entry.IsChunkedFile,
		ChunkIndex:    entry.ChunkIndex,
		ChunkTotal:    entry.ChunkTotal,
		TagsMatched:   []string{},
		row:           row,
		entry:         entry,
	}
}

// retrieve is Stage 1: pure semantic or hybrid retrieval with RRF fusion.
func (p *pipeline) retrieve(ctx context.Context, query string) ([]*Result, error) {
	started := time.Now()

	if p.idx.Rows() == 0 {
		p.tr.observe(1, "retrieval", 0, nil, started, nil)
		return []*Result{}, nil
	}

	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.SearchError("query embedding failed", err)
	}
	sims := embed.Similarity(queryVec, p.idx.Matrix)

	if !p.opts.Hybrid {
		results := p.semanticOnly(sims)
		p.tr.observe(1, "retrieval", p.idx.Rows(), results, started, map[string]any{
			"mode": "semantic",
		})
		return results, nil
	}

	fetchLimit := p.opts.Limit * hybridFetchFactor
	if fetchLimit < hybridFetchFactor {
		fetchLimit = hybridFetchFactor
	}

	// BM25 runs concurrently with the semantic ranking.
	var bm25Results []*store.BM25Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var searchErr error
		bm25Results, searchErr = p.bm25.Search(gctx, query, fetchLimit)
		return searchErr
	})
	semRows := topRows(sims, fetchLimit)
	if err := g.Wait(); err != nil {
		return nil, errors.SearchError("keyword retrieval failed", err)
	}

	results := p.fuse(sims, semRows, bm25Results)
	p.tr.observe(1, "retrieval", p.idx.Rows(), results, started, map[string]any{
		"mode":          "hybrid",
		"rrf_k":         rrfConstant,
		"semantic_hits": len(semRows),
		"bm25_hits":     len(bm25Results),
	})
	return results, nil
}

// semanticOnly ranks rows by cosine and keeps the candidate pool.
func (p *pipeline) semanticOnly(sims []float32) []*Result {
	rows := topRows(sims, semanticCandidates)
	results := make([]*Result, 0, len(rows))
	for _, row := range rows {
		r := p.newResult(row)
		r.SimilarityScore = float64(sims[row])
		r.FinalScore = r.SimilarityScore
		r.setScore(ScoreSimilarity, r.SimilarityScore)
		results = append(results, r)
	}
	return results
}

// fuse merges the two ranked lists with Reciprocal Rank Fusion, then
// promotes tag matches above everything fusion averaging would bury them
// under.
func (p *pipeline) fuse(sims []float32, semRows []int, bm25Results []*store.BM25Result) []*Result {
	w := p.opts.Profile.HybridWeight
	bmWeight := (1 - w) * p.opts.Profile.BM25Boost

	byRow := make(map[int]*Result, len(semRows)+len(bm25Results))
	get := func(row int) *Result {
		if r, ok := byRow[row]; ok {
			return r
		}
		r := p.newResult(row)
		r.SimilarityScore = float64(sims[row])
		r.setScore(ScoreSimilarity, r.SimilarityScore)
		byRow[row] = r
		return r
	}

	for rank, row := range semRows {
		r := get(row)
		rrf := rrfValue(r) + w/float64(rrfConstant+rank+1)
		r.RRFScore = &rrf
	}

	for rank, br := range bm25Results {
		r := get(br.Row)
		score := br.Score
		base := br.BaseScore
		r.BM25Score = &score
		r.setScore(ScoreBM25Base, base)
		r.setScore(ScoreBM25, score)
		if len(br.TagsMatched) > 0 {
			r.TagsMatched = br.TagsMatched
		}
		rrf := rrfValue(r) + bmWeight/float64(rrfConstant+rank+1)
		r.RRFScore = &rrf
	}

	results := make([]*Result, 0, len(byRow))
	var maxRRF float64
	for _, r := range byRow {
		if v := rrfValue(r); v > maxRRF {
			maxRRF = v
		}
		results = append(results, r)
	}

	// Tag matches are curated metadata, not coincidental text. A candidate
	// with matched tags outranks every fusion average, whether or not the
	// semantic list surfaced it.
	for _, r := range results {
		if len(r.TagsMatched) == 0 {
			continue
		}
		promoted := maxRRF * tagPromotionFactor
		r.RRFScore = &promoted
		r.TagBoosted = true
	}

	for _, r := range results {
		v := rrfValue(r)
		r.FinalScore = v
		r.setScore(ScoreRRF, v)
	}

	sort.SliceStable(results, func(i, j int) bool {
		ri, rj := rrfValue(results[i]), rrfValue(results[j])
		if ri != rj {
			return ri > rj
		}
		// Tie-break toward candidates in both lists, then by row for
		// determinism.
		bi := results[i].BM25Score != nil && results[i].SimilarityScore > 0
		bj := results[j].BM25Score != nil && results[j].SimilarityScore > 0
		if bi != bj {
			return bi
		}
		return results[i].row < results[j].row
	})

	return results
}

func rrfValue(r *Result) float64 {
	if r.RRFScore == nil {
		return 0
	}
	return *r.RRFScore
}

// topRows returns the indices of the k highest similarity scores, ordered
// descending.
func topRows(sims []float32, k int) []int {
	rows := make([]int, len(sims))
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return sims[rows[i]] > sims[rows[j]]
	})
	if len(rows) > k {
		rows = rows[:k]
	}
	return rows
}

// dedupe is Stage 1.5: collapse chunks of the same file. In "best" mode
// only the highest-ranked chunk survives, annotated with the group size;
// "all" mode keeps up to MaxResultsPerFile chunks per file.
func (p *pipeline) dedupe(results []*Result) []*Result {
	started := time.Now()
	input := len(results)

	groupSize := make(map[string]int, len(results))
	for _, r := range results {
		groupSize[r.RelativePath]++
	}

	perFile := p.opts.Profile.MaxResultsPerFile
	if perFile <= 0 {
		perFile = 1
	}

	kept := make([]*Result, 0, len(results))
	seen := make(map[string]int, len(results))
	for _, r := range results {
		if seen[r.RelativePath] >= perFile {
			continue
		}
		seen[r.RelativePath]++
		r.MatchedChunks = groupSize[r.RelativePath]
		kept = append(kept, r)
	}

	p.tr.observe(2, "chunk_dedup", input, kept, started, map[string]any{
		"mode":                 dedupModeName(perFile),
		"max_results_per_file": perFile,
	})
	return kept
}

func dedupModeName(perFile int) string {
	if perFile > 1 {
		return "all"
	}
	return "best"
}

// threshold is Stage 2: drop low-similarity results in semantic-only mode.
// In hybrid mode RRF lives on a different scale and the stage is skipped.
func (p *pipeline) threshold(results []*Result) []*Result {
	started := time.Now()
	if p.opts.Hybrid {
		p.tr.observe(3, "score_threshold", len(results), results, started, map[string]any{
			"skipped": "hybrid mode",
		})
		return results
	}

	input := len(results)
	kept := results[:0]
	for _, r := range results {
		if r.SimilarityScore >= p.opts.MinScore {
			kept = append(kept, r)
		}
	}
	p.tr.observe(3, "score_threshold", input, kept, started, map[string]any{
		"min_score": p.opts.MinScore,
	})
	return kept
}

// statusFilter is Stage 3: suppress inactive and hidden gleanings.
func (p *pipeline) statusFilter(results []*Result) []*Result {
	started := time.Now()
	input := len(results)

	var removed []string
	kept := results[:0]
	for _, r := range results {
		id := r.entry.GleaningID()
		if id != "" && p.status.Suppressed(id) {
			removed = append(removed, r.RelativePath)
			continue
		}
		kept = append(kept, r)
	}

	var meta map[string]any
	if len(removed) > 0 {
		meta = map[string]any{"removed": removed}
	}
	p.tr.observe(4, "status_filter", input, kept, started, meta)
	return kept
}

// typeFilter is Stage 4: allow/block by resolved type, plus the profile's
// hard age cutoff. Results with no front matter resolve to type "none": they
// pass unless the exclude list names "none", or an include list is set that
// does not name it.
func (p *pipeline) typeFilter(results []*Result) []*Result {
	started := time.Now()
	input := len(results)

	maxAge := p.opts.Profile.MaxAgeDays
	var removed []string
	kept := results[:0]
	for _, r := range results {
		types := r.entry.Types()
		if len(p.opts.IncludeTypes) > 0 && !intersects(types, p.opts.IncludeTypes) {
			removed = append(removed, r.RelativePath)
			continue
		}
		if intersects(types, p.opts.ExcludeTypes) {
			removed = append(removed, r.RelativePath)
			continue
		}
		if maxAge > 0 && r.entry.ModTime > 0 {
			ageDays := p.now.Sub(time.Unix(r.entry.ModTime, 0)).Hours() / 24
			if ageDays > float64(maxAge) {
				removed = append(removed, r.RelativePath)
				continue
			}
		}
		kept = append(kept, r)
	}

	meta := map[string]any{
		"include_types": p.opts.IncludeTypes,
		"exclude_types": p.opts.ExcludeTypes,
	}
	if maxAge > 0 {
		meta["max_age_days"] = maxAge
	}
	if len(removed) > 0 {
		meta["removed"] = removed
	}
	p.tr.observe(5, "type_filter", input, kept, started, meta)
	return kept
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

// rerank is Stage 5: cross-encoder scoring of the candidate head. Results
// already tag-boosted are exempt: they keep their order and sit above the
// reranked remainder. The stage fails open.
func (p *pipeline) rerank(ctx context.Context, query string, results []*Result) []*Result {
	started := time.Now()

	if !p.opts.Rerank || p.reranker == nil || len(results) < 2 {
		p.tr.observe(6, "rerank", len(results), results, started, map[string]any{
			"skipped": "disabled or too few results",
		})
		return results
	}
	if !p.reranker.Available(ctx) {
		slog.Warn("reranker unavailable, keeping fusion order")
		p.tr.observe(6, "rerank", len(results), results, started, map[string]any{
			"skipped": "reranker unavailable",
		})
		return results
	}

	head := len(results)
	if head > rerankPoolSize {
		head = rerankPoolSize
	}
	pool := results[:head]
	tail := results[head:]

	passages := make([]string, len(pool))
	for i, r := range pool {
		passages[i] = r.entry.Content
	}

	scores, err := p.reranker.Score(ctx, query, passages)
	if err != nil || len(scores) != len(pool) {
		if err != nil {
			slog.Warn("rerank_failed",
				slog.String("error", err.Error()))
		}
		p.tr.observe(6, "rerank", len(results), results, started, map[string]any{
			"skipped": "scoring failed",
		})
		return results
	}

	var exempt, scored []*Result
	maxCE := scores[0]
	rankDeltas := make(map[string]any, len(pool))
	for i, r := range pool {
		ce := scores[i]
		if ce > maxCE {
			maxCE = ce
		}
		r.CrossEncoderScore = &ce
		r.setScore(ScoreCrossEncoder, ce)
		before := i + 1
		r.RankBefore = &before
		if r.TagBoosted {
			exempt = append(exempt, r)
		} else {
			// The cross-encoder score replaces the primary ranking score;
			// the time boost stage builds on it.
			r.rankOverride = &ce
			scored = append(scored, r)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].CrossEncoderScore > *scored[j].CrossEncoderScore
	})

	// Exempt results sit above the reranked head in their original order:
	// their ranking score is lifted past the best cross-encoder score by
	// enough margin that no downstream boost can flip them back.
	lift := math.Abs(maxCE) + 1
	for i, r := range exempt {
		v := maxCE + lift*float64(len(exempt)-i)
		r.rankOverride = &v
	}

	reranked := make([]*Result, 0, len(results))
	reranked = append(reranked, exempt...)
	reranked = append(reranked, scored...)
	for i, r := range reranked {
		after := i + 1
		r.RankAfter = &after
		rankDeltas[r.RelativePath] = *r.RankBefore - after
	}
	reranked = append(reranked, tail...)

	p.tr.observe(6, "rerank", len(results), reranked, started, map[string]any{
		"pool_size":   head,
		"exempt":      len(exempt),
		"rank_deltas": rankDeltas,
	})
	return reranked
}

// timeBoost is Stage 6: exponential recency decay applied to the active
// ranking score. It must run after reranking: the cross-encoder replaces
// the primary score, and boosting earlier would be wiped out. Fails open.
func (p *pipeline) timeBoost(results []*Result) []*Result {
	started := time.Now()

	maxBoost := p.opts.Profile.TimeBoostMax
	halfLife := p.opts.Profile.TimeBoostHalfLifeDays

	for _, r := range results {
		base := p.rankingBase(r)
		r.FinalScore = base
		r.setScore(ScoreFinal, base)
	}

	if !p.opts.TimeBoost || maxBoost <= 0 || halfLife <= 0 {
		p.tr.observe(7, "time_boost", len(results), results, started, map[string]any{
			"skipped": "disabled",
		})
		return results
	}

	for _, r := range results {
		mtime, ok := p.fileMtime(r.RelativePath)
		if !ok {
			continue
		}
		daysOld := p.now.Sub(mtime).Hours() / 24
		if daysOld < 0 {
			daysOld = 0
		}
		factor := maxBoost * math.Pow(0.5, daysOld/halfLife)
		r.TimeBoostFactor = &factor
		r.FinalScore = r.FinalScore * (1 + factor)
		r.setScore(ScoreTimeBoost, factor)
		r.setScore(ScoreFinal, r.FinalScore)
	}

	p.tr.observe(7, "time_boost", len(results), results, started, map[string]any{
		"max_boost":      maxBoost,
		"half_life_days": halfLife,
	})
	return results
}

// rankingBase returns the score the final ranking builds on: the rerank
// stage's replacement when it ran, else RRF in hybrid mode, else cosine.
func (p *pipeline) rankingBase(r *Result) float64 {
	if r.rankOverride != nil {
		return *r.rankOverride
	}
	if p.opts.Hybrid {
		return rrfValue(r)
	}
	return r.SimilarityScore
}

// fileMtime stats a result's file under the vault root. Paths that resolve
// outside the root are skipped: stored metadata is not trusted to build
// filesystem paths.
func (p *pipeline) fileMtime(rel string) (time.Time, bool) {
	abs := filepath.Join(p.vaultPath, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return time.Time{}, false
	}
	if resolved != p.vaultPath && !strings.HasPrefix(resolved, p.vaultPath+string(filepath.Separator)) {
		slog.Warn("time_boost_path_escape",
			slog.String("path", rel),
			slog.String("resolved", resolved))
		return time.Time{}, false
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// topK is Stage 7: apply metadata ranking when the profile asks for it,
// sort by final score, cut to the limit, and attach profile metadata.
func (p *pipeline) topK(results []*Result) []*Result {
	started := time.Now()
	input := len(results)

	if p.opts.Profile.MetadataBoost {
		for _, r := range results {
			if boost := metadataBoost(r.entry); boost > 0 {
				r.FinalScore *= 1 + boost
				r.setScore(ScoreFinal, r.FinalScore)
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})

	if len(results) > p.opts.Limit {
		results = results[:p.opts.Limit]
	}

	if p.opts.Profile.MetadataBoost {
		for _, r := range results {
			r.Metadata = profileMetadata(r.entry)
		}
	}

	p.tr.observe(8, "top_k", input, results, started, map[string]any{
		"limit": p.opts.Limit,
	})
	return results
}

// metadataBoost derives a bounded ranking boost from curated front matter
// metadata (GitHub stars today; capped so metadata never dominates text
// relevance).
func metadataBoost(entry *store.Entry) float64 {
	stars := vault.StringValue(entry.FrontMatter, "stars")
	if stars == "" {
		stars = vault.StringValue(entry.FrontMatter, "github_stars")
	}
	if stars == "" {
		return 0
	}
	var n float64
	for _, c := range stars {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + float64(c-'0')
	}
	boost := math.Log10(n+1) / 10
	if boost > 0.3 {
		boost = 0.3
	}
	return boost
}

// profileMetadata extracts the domain-specific front matter fields worth
// echoing on results.
func profileMetadata(entry *store.Entry) map[string]any {
	if entry.FrontMatter == nil {
		return nil
	}
	var meta map[string]any
	for _, key := range []string{"stars", "github_stars", "language", "topics", "repo", "url"} {
		if v, ok := entry.FrontMatter[key]; ok {
			if meta == nil {
				meta = make(map[string]any)
			}
			meta[key] = v
		}
	}
	return meta
}

// makeSnippet trims content to a display-sized excerpt on a whitespace
// boundary.
func makeSnippet(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= snippetLength {
		return content
	}
	cut := content[:snippetLength]
	if i := strings.LastIndexAny(cut, " \t\n"); i > snippetLength/2 {
		cut = cut[:i]
	}
	// The byte cut can land mid-rune; keep the payload encodable.
	cut = strings.ToValidUTF8(cut, "")
	return cut + "…"
}
