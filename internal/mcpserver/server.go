// Package mcpserver exposes Temoa's search contract over the Model Context
// Protocol so MCP clients can query the note corpus directly.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pborenstein/temoa/internal/registry"
	"github.com/pborenstein/temoa/internal/search"
)

// Server wraps an MCP server over the vault registry.
type Server struct {
	registry *registry.Registry
	mcp      *mcp.Server
	version  string
}

// SearchInput is the search tool's input schema.
type SearchInput struct {
	Query   string `json:"query" jsonschema:"the search query to execute"`
	Vault   string `json:"vault,omitempty" jsonschema:"vault name, defaults to the registered default vault"`
	Profile string `json:"profile,omitempty" jsonschema:"search profile: default, repos, recent, deep, keywords"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput is the search tool's output schema.
type SearchOutput struct {
	Query         string               `json:"query" jsonschema:"the original query"`
	ExpandedQuery string               `json:"expanded_query,omitempty" jsonschema:"the expanded query when Stage 0 changed it"`
	Profile       string               `json:"profile" jsonschema:"the active profile"`
	Results       []SearchResultOutput `json:"results" jsonschema:"ranked search results"`
}

// SearchResultOutput is one result in the tool output.
type SearchResultOutput struct {
	Path            string   `json:"path" jsonschema:"note path relative to the vault root"`
	Title           string   `json:"title" jsonschema:"note title"`
	Snippet         string   `json:"snippet" jsonschema:"matched content excerpt"`
	SimilarityScore float64  `json:"similarity_score" jsonschema:"bi-encoder cosine similarity"`
	FinalScore      float64  `json:"final_score" jsonschema:"score the ranking sorted by"`
	TagsMatched     []string `json:"tags_matched,omitempty" jsonschema:"query terms that matched curated tags"`
	TagBoosted      bool     `json:"tag_boosted,omitempty" jsonschema:"true when a tag match promoted this result"`
	ChunkIndex      int      `json:"chunk_index,omitempty" jsonschema:"matched chunk index for chunked notes"`
	ChunkTotal      int      `json:"chunk_total,omitempty" jsonschema:"total chunks for the note"`
	MatchedChunks   int      `json:"matched_chunks,omitempty" jsonschema:"how many chunks of this note matched"`
}

// ReindexInput is the reindex tool's input schema.
type ReindexInput struct {
	Vault string `json:"vault,omitempty" jsonschema:"vault name, defaults to the registered default vault"`
	Force bool   `json:"force,omitempty" jsonschema:"rebuild from scratch instead of incrementally"`
}

// ReindexOutput is the reindex tool's output schema.
type ReindexOutput struct {
	TotalFiles    int   `json:"total_files" jsonschema:"files enumerated in the vault"`
	NewFiles      int   `json:"new_files" jsonschema:"files indexed for the first time"`
	ModifiedFiles int   `json:"modified_files" jsonschema:"files re-embedded in place"`
	DeletedFiles  int   `json:"deleted_files" jsonschema:"files removed from the index"`
	Rows          int   `json:"rows" jsonschema:"total indexed rows after the run"`
	DurationMs    int64 `json:"duration_ms" jsonschema:"wall-clock duration"`
}

// ListVaultsInput is the list_vaults tool's (empty) input schema.
type ListVaultsInput struct{}

// ListVaultsOutput is the list_vaults tool's output schema.
type ListVaultsOutput struct {
	Vaults []registry.VaultInfo `json:"vaults" jsonschema:"registered vaults with load state"`
}

// NewServer creates the MCP server and registers its tools.
func NewServer(reg *registry.Registry, version string) *Server {
	s := &Server{
		registry: reg,
		version:  version,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "Temoa",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over the personal note corpus. Combines embedding similarity with keyword matching and honors curated tags. Use a profile to shift behavior: 'keywords' for exact terms, 'recent' for fresh notes, 'deep' for passage-level matches.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex",
		Description: "Bring a vault's search index up to date with its files. Incremental by default; pass force to rebuild from scratch.",
	}, s.reindexHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_vaults",
		Description: "List the registered vaults and whether each is currently loaded.",
	}, s.listVaultsHandler)

	slog.Debug("mcp_tools_registered", slog.Int("count", 3))
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	resp, err := s.registry.Search(ctx, &search.Request{
		Query:   input.Query,
		Vault:   input.Vault,
		Profile: input.Profile,
		Limit:   input.Limit,
	})
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{
		Query:   resp.Query,
		Profile: resp.Profile,
		Results: make([]SearchResultOutput, 0, len(resp.Results)),
	}
	if resp.ExpandedQuery != nil {
		out.ExpandedQuery = *resp.ExpandedQuery
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, SearchResultOutput{
			Path:            r.RelativePath,
			Title:           r.Title,
			Snippet:         r.Snippet,
			SimilarityScore: r.SimilarityScore,
			FinalScore:      r.FinalScore,
			TagsMatched:     r.TagsMatched,
			TagBoosted:      r.TagBoosted,
			ChunkIndex:      r.ChunkIndex,
			ChunkTotal:      r.ChunkTotal,
			MatchedChunks:   r.MatchedChunks,
		})
	}

	return nil, out, nil
}

func (s *Server) reindexHandler(ctx context.Context, _ *mcp.CallToolRequest, input ReindexInput) (
	*mcp.CallToolResult,
	ReindexOutput,
	error,
) {
	res, err := s.registry.Reindex(ctx, input.Vault, input.Force)
	if err != nil {
		return nil, ReindexOutput{}, err
	}

	return nil, ReindexOutput{
		TotalFiles:    res.TotalFiles,
		NewFiles:      res.NewFiles,
		ModifiedFiles: res.ModifiedFiles,
		DeletedFiles:  res.DeletedFiles,
		Rows:          res.Rows,
		DurationMs:    res.Duration.Milliseconds(),
	}, nil
}

func (s *Server) listVaultsHandler(_ context.Context, _ *mcp.CallToolRequest, _ ListVaultsInput) (
	*mcp.CallToolResult,
	ListVaultsOutput,
	error,
) {
	return nil, ListVaultsOutput{Vaults: s.registry.Vaults()}, nil
}

// Run serves MCP over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("mcp_server_started", slog.String("transport", "stdio"))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}
