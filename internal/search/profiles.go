package search

import (
	"fmt"

	"github.com/pborenstein/temoa/internal/config"
	"github.com/pborenstein/temoa/internal/errors"
)

// Profile is a frozen bundle of pipeline parameters. Profile values are
// defaults; explicit per-request overrides take precedence.
type Profile struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`

	// Hybrid enables BM25 + semantic fusion; off means pure semantic.
	Hybrid bool `json:"hybrid"`
	// HybridWeight is the semantic share of the fusion (0..1).
	HybridWeight float64 `json:"hybrid_weight"`
	// BM25Boost scales the keyword contribution to fusion.
	BM25Boost float64 `json:"bm25_boost"`

	Rerank      bool `json:"rerank"`
	ExpandQuery bool `json:"expand_query"`

	TimeBoost             bool    `json:"time_boost"`
	TimeBoostMax          float64 `json:"time_boost_max"`
	TimeBoostHalfLifeDays float64 `json:"time_boost_half_life_days"`

	// MaxAgeDays is a hard age cutoff; 0 disables it.
	MaxAgeDays int `json:"max_age_days"`

	IncludeTypes []string `json:"include_types,omitempty"`
	ExcludeTypes []string `json:"exclude_types,omitempty"`

	// MinScore is the semantic-mode similarity threshold.
	MinScore float64 `json:"min_score"`

	// Chunking describes the expected index shape. Switching profiles at
	// query time does not rechunk.
	Chunking     bool `json:"chunking"`
	ChunkSize    int  `json:"chunk_size"`
	ChunkOverlap int  `json:"chunk_overlap"`

	// MaxResultsPerFile: 1 keeps only the best chunk per file ("best"
	// mode); above 1 keeps up to that many ("all" mode).
	MaxResultsPerFile int  `json:"max_results_per_file"`
	ShowChunkContext  bool `json:"show_chunk_context"`

	// MetadataBoost enables domain-specific ranking from front matter
	// metadata (e.g. GitHub stars and topics).
	MetadataBoost bool `json:"metadata_boost"`
}

// MultiChunk reports whether the profile keeps more than one chunk per file.
func (p Profile) MultiChunk() bool {
	return p.MaxResultsPerFile > 1
}

// defaultProfile is the balanced baseline the other built-ins derive from.
func defaultProfile(defaults config.SearchConfig) Profile {
	return Profile{
		Name:                  "default",
		DisplayName:           "Default",
		Description:           "Balanced hybrid search with reranking and gentle recency boost",
		Hybrid:                true,
		HybridWeight:          0.5,
		BM25Boost:             1.0,
		Rerank:                true,
		ExpandQuery:           false,
		TimeBoost:             true,
		TimeBoostMax:          defaults.TimeBoostMax,
		TimeBoostHalfLifeDays: defaults.TimeBoostHalfLifeDays,
		ExcludeTypes:          []string{"daily"},
		MinScore:              defaults.MinScore,
		Chunking:              true,
		ChunkSize:             2000,
		ChunkOverlap:          400,
		MaxResultsPerFile:     1,
	}
}

// ProfileSet resolves profile names to parameter bundles.
type ProfileSet struct {
	profiles map[string]Profile
}

// BuiltinProfileNames lists the reserved profile names.
var BuiltinProfileNames = []string{"default", "repos", "recent", "deep", "keywords"}

// NewProfileSet builds the five built-in profiles plus any custom profiles
// declared in configuration. Custom names must not shadow built-ins
// (config validation enforces this; it is re-checked here).
func NewProfileSet(cfg *config.Config) (*ProfileSet, error) {
	base := defaultProfile(cfg.Search)

	repos := base
	repos.Name = "repos"
	repos.DisplayName = "Repositories"
	repos.Description = "Keyword-heavy search over starred repos with metadata ranking"
	repos.HybridWeight = 0.3
	repos.BM25Boost = 1.5
	repos.Rerank = false
	repos.MetadataBoost = true

	recent := base
	recent.Name = "recent"
	recent.DisplayName = "Recent"
	recent.Description = "Aggressive recency decay with a hard age cutoff"
	recent.TimeBoostMax = 0.5
	recent.TimeBoostHalfLifeDays = 30
	recent.MaxAgeDays = 180

	deep := base
	deep.Name = "deep"
	deep.DisplayName = "Deep"
	deep.Description = "Semantic-heavy passage search with chunk context preserved"
	deep.HybridWeight = 0.8
	deep.MaxResultsPerFile = 3
	deep.ShowChunkContext = true

	keywords := base
	keywords.Name = "keywords"
	keywords.DisplayName = "Keywords"
	keywords.Description = "BM25-heavy exact matching without reranking"
	keywords.HybridWeight = 0.2
	keywords.BM25Boost = 1.5
	keywords.Rerank = false

	set := &ProfileSet{profiles: map[string]Profile{
		"default":  base,
		"repos":    repos,
		"recent":   recent,
		"deep":     deep,
		"keywords": keywords,
	}}

	for name, pc := range cfg.SearchProfiles {
		if _, exists := set.profiles[name]; exists {
			return nil, errors.New(errors.ErrCodeProfileShadow,
				fmt.Sprintf("search profile %q shadows a built-in", name), nil)
		}
		set.profiles[name] = applyProfileConfig(base, name, pc)
	}

	return set, nil
}

// Get resolves a profile name; empty means "default".
func (s *ProfileSet) Get(name string) (Profile, error) {
	if name == "" {
		name = "default"
	}
	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, errors.New(errors.ErrCodeUnknownProfile,
			fmt.Sprintf("unknown search profile %q", name), nil)
	}
	return p, nil
}

// Names returns all profile names.
func (s *ProfileSet) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	return names
}

// applyProfileConfig overlays a declared profile onto the default bundle.
func applyProfileConfig(base Profile, name string, pc config.ProfileConfig) Profile {
	p := base
	p.Name = name
	p.DisplayName = pc.DisplayName
	if p.DisplayName == "" {
		p.DisplayName = name
	}
	p.Description = pc.Description

	if pc.Hybrid != nil {
		p.Hybrid = *pc.Hybrid
	}
	if pc.HybridWeight != nil {
		p.HybridWeight = *pc.HybridWeight
	}
	if pc.BM25Boost != nil {
		p.BM25Boost = *pc.BM25Boost
	}
	if pc.Rerank != nil {
		p.Rerank = *pc.Rerank
	}
	if pc.ExpandQuery != nil {
		p.ExpandQuery = *pc.ExpandQuery
	}
	if pc.TimeBoostMax != nil {
		p.TimeBoostMax = *pc.TimeBoostMax
		p.TimeBoost = *pc.TimeBoostMax > 0
	}
	if pc.TimeBoostHalfLifeDays != nil {
		p.TimeBoostHalfLifeDays = *pc.TimeBoostHalfLifeDays
	}
	if pc.MaxAgeDays != nil {
		p.MaxAgeDays = *pc.MaxAgeDays
	}
	if pc.IncludeTypes != nil {
		p.IncludeTypes = pc.IncludeTypes
	}
	if pc.ExcludeTypes != nil {
		p.ExcludeTypes = pc.ExcludeTypes
	}
	if pc.Chunking != nil {
		p.Chunking = *pc.Chunking
	}
	if pc.ChunkSize != nil {
		p.ChunkSize = *pc.ChunkSize
	}
	if pc.ChunkOverlap != nil {
		p.ChunkOverlap = *pc.ChunkOverlap
	}
	if pc.MaxResultsPerFile != nil {
		p.MaxResultsPerFile = *pc.MaxResultsPerFile
	}
	if pc.ShowChunkContext != nil {
		p.ShowChunkContext = *pc.ShowChunkContext
	}
	if pc.MetadataBoost != nil {
		p.MetadataBoost = *pc.MetadataBoost
	}
	return p
}

// options is the fully resolved parameter set for one query: the profile
// defaults with the request's explicit overrides applied.
type options struct {
	Profile Profile

	Limit       int
	Hybrid      bool
	Rerank      bool
	ExpandQuery bool
	TimeBoost   bool
	MinScore    float64

	IncludeTypes []string
	ExcludeTypes []string
}

// resolveOptions merges a request onto its profile.
func resolveOptions(req *Request, profile Profile, defaults config.SearchConfig) options {
	opts := options{
		Profile:      profile,
		Limit:        req.Limit,
		Hybrid:       profile.Hybrid,
		Rerank:       profile.Rerank,
		ExpandQuery:  profile.ExpandQuery,
		TimeBoost:    profile.TimeBoost,
		MinScore:     profile.MinScore,
		IncludeTypes: profile.IncludeTypes,
		ExcludeTypes: profile.ExcludeTypes,
	}

	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}

	if req.Hybrid != nil {
		opts.Hybrid = *req.Hybrid
	}
	if req.Rerank != nil {
		opts.Rerank = *req.Rerank
	}
	if req.ExpandQuery != nil {
		opts.ExpandQuery = *req.ExpandQuery
	}
	if req.TimeBoost != nil {
		opts.TimeBoost = *req.TimeBoost
	}
	if req.MinScore != nil {
		opts.MinScore = *req.MinScore
	}
	if req.IncludeTypes != nil {
		opts.IncludeTypes = req.IncludeTypes
	}
	if req.ExcludeTypes != nil {
		opts.ExcludeTypes = req.ExcludeTypes
	}

	return opts
}
