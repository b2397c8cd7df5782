// Package search implements the staged retrieval pipeline: expansion,
// hybrid retrieve, dedup, filtering, rerank, time boost, and top-k, with
// per-result score provenance and an optional stage trace.
package search

import (
	"github.com/pborenstein/temoa/internal/store"
)

// Score provenance keys. Every intermediate score used during ranking is
// recorded under one of these in Result.Scores.
const (
	ScoreSimilarity   = "similarity"
	ScoreBM25Base     = "bm25_base"
	ScoreBM25         = "bm25"
	ScoreRRF          = "rrf"
	ScoreCrossEncoder = "cross_encoder"
	ScoreTimeBoost    = "time_boost_factor"
	ScoreFinal        = "final"
)

// Request is the logical search request (§6 contract).
type Request struct {
	// Query is the search text. Required, non-empty.
	Query string `json:"query"`

	// Vault selects the corpus by name; empty means the registered default.
	Vault string `json:"vault,omitempty"`

	// Profile names the parameter bundle; empty means "default".
	Profile string `json:"profile,omitempty"`

	// Limit is the maximum result count (1..100, default 10).
	Limit int `json:"limit,omitempty"`

	// Per-stage overrides. Nil means "use the profile's value".
	Hybrid      *bool    `json:"hybrid,omitempty"`
	Rerank      *bool    `json:"rerank,omitempty"`
	ExpandQuery *bool    `json:"expand_query,omitempty"`
	TimeBoost   *bool    `json:"time_boost,omitempty"`
	MinScore    *float64 `json:"min_score,omitempty"`

	IncludeTypes []string `json:"include_types,omitempty"`
	ExcludeTypes []string `json:"exclude_types,omitempty"`

	// Trace requests the full pipeline trace alongside the results.
	Trace bool `json:"trace,omitempty"`
}

// Result is one record in the ranked output.
type Result struct {
	RelativePath string `json:"relative_path"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`

	// SimilarityScore is the bi-encoder cosine against the query.
	SimilarityScore float64 `json:"similarity_score"`

	BM25Score         *float64 `json:"bm25_score,omitempty"`
	RRFScore          *float64 `json:"rrf_score,omitempty"`
	CrossEncoderScore *float64 `json:"cross_encoder_score,omitempty"`
	TimeBoostFactor   *float64 `json:"time_boost_factor,omitempty"`

	// FinalScore is the score the final ranking sorted by.
	FinalScore float64 `json:"final_score"`

	TagsMatched []string `json:"tags_matched"`
	TagBoosted  bool     `json:"tag_boosted"`

	IsChunkedFile bool `json:"is_chunked_file"`
	ChunkIndex    int  `json:"chunk_index"`
	ChunkTotal    int  `json:"chunk_total"`

	// MatchedChunks counts chunks from the same file that matched.
	MatchedChunks int `json:"matched_chunks"`

	// RankBefore and RankAfter record the rerank stage's movement.
	RankBefore *int `json:"rank_before,omitempty"`
	RankAfter  *int `json:"rank_after,omitempty"`

	// Scores maps every intermediate score used during ranking.
	Scores map[string]float64 `json:"scores"`

	// Metadata carries profile-specific fields attached at the final stage.
	Metadata map[string]any `json:"metadata,omitempty"`

	// row and entry are pipeline-internal. rankOverride is set by the
	// rerank stage when it replaces the primary ranking score.
	row          int
	entry        *store.Entry
	rankOverride *float64
}

// setScore records a provenance score, allocating the map on first use.
func (r *Result) setScore(key string, value float64) {
	if r.Scores == nil {
		r.Scores = make(map[string]float64, 6)
	}
	r.Scores[key] = value
}

// Response is the search response (§6 contract).
type Response struct {
	Query string `json:"query"`

	// ExpandedQuery is set when Stage 0 changed the query, else null.
	ExpandedQuery *string `json:"expanded_query"`

	Profile string    `json:"profile"`
	Results []*Result `json:"results"`

	// Trace is present when the request asked for it.
	Trace *Trace `json:"trace,omitempty"`
}
