// Package config loads and validates the Temoa configuration document.
//
// Reading is global (not vault-local): the config names the vaults, so it
// cannot live inside one.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pborenstein/temoa/internal/errors"
)

// DefaultConfigPath is where the config document lives unless TEMOA_CONFIG
// points elsewhere.
const DefaultConfigPath = "~/.temoa/config.yaml"

// Config represents the complete Temoa configuration.
type Config struct {
	Vaults     []VaultConfig  `yaml:"vaults"`
	DefaultModel string       `yaml:"default_model"`
	Paths      PathsConfig    `yaml:"paths"`
	Search     SearchConfig   `yaml:"search"`
	BM25       BM25Config     `yaml:"bm25"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Server     ServerConfig   `yaml:"server"`
	Cache      CacheConfig    `yaml:"cache"`
	Logging    LoggingConfig  `yaml:"logging"`

	// SearchProfiles declares custom profiles by name. Names must not shadow
	// the built-in profiles.
	SearchProfiles map[string]ProfileConfig `yaml:"search_profiles"`
}

// VaultConfig names a single vault.
type VaultConfig struct {
	Name      string `yaml:"name"`
	Path      string `yaml:"path"`
	IsDefault bool   `yaml:"is_default"`
}

// PathsConfig configures which files the vault reader emits.
type PathsConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// SearchConfig holds search defaults applied when a request leaves them unset.
type SearchConfig struct {
	Limit         int     `yaml:"limit"`
	MinScore      float64 `yaml:"min_score"`
	TimeBoostMax  float64 `yaml:"time_boost_max"`
	TimeBoostHalfLifeDays float64 `yaml:"time_boost_half_life_days"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// BM25Config configures the keyword index.
type BM25Config struct {
	// TagBoost multiplies the BM25 score when query tokens intersect a
	// result's tags (default: 5.0).
	TagBoost float64 `yaml:"tag_boost"`
}

// EmbeddingsConfig configures the model endpoints.
type EmbeddingsConfig struct {
	// Provider selects the bi-encoder backend: "ollama" (default) or
	// "static" (hash-based, deterministic, no model server).
	Provider string `yaml:"provider"`
	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host"`
	// RerankerEndpoint is the cross-encoder service endpoint
	// (default: http://localhost:9659).
	RerankerEndpoint string `yaml:"reranker_endpoint"`
	// RerankerModel is the cross-encoder model alias.
	RerankerModel string `yaml:"reranker_model"`
	// BatchSize is texts per embedding request (default: 32).
	BatchSize int `yaml:"batch_size"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// CacheConfig configures the vault registry.
type CacheConfig struct {
	// MaxVaults is the number of initialized engines kept resident (default: 3).
	MaxVaults int `yaml:"max_vaults"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// ProfileConfig mirrors the search profile knobs for YAML declaration.
// Pointer fields distinguish "unset" from zero so custom profiles can
// inherit the default profile's values.
type ProfileConfig struct {
	DisplayName  string   `yaml:"display_name"`
	Description  string   `yaml:"description"`
	Hybrid       *bool    `yaml:"hybrid"`
	HybridWeight *float64 `yaml:"hybrid_weight"`
	BM25Boost    *float64 `yaml:"bm25_boost"`
	Rerank       *bool    `yaml:"rerank"`
	ExpandQuery  *bool    `yaml:"expand_query"`
	TimeBoostMax *float64 `yaml:"time_boost_max"`
	TimeBoostHalfLifeDays *float64 `yaml:"time_boost_half_life_days"`
	MaxAgeDays   *int     `yaml:"max_age_days"`
	IncludeTypes []string `yaml:"include_types"`
	ExcludeTypes []string `yaml:"exclude_types"`
	Chunking     *bool    `yaml:"chunking"`
	ChunkSize    *int     `yaml:"chunk_size"`
	ChunkOverlap *int     `yaml:"chunk_overlap"`
	MaxResultsPerFile *int `yaml:"max_results_per_file"`
	ShowChunkContext  *bool `yaml:"show_chunk_context"`
	MetadataBoost *bool   `yaml:"metadata_boost"`
}

// defaultIncludePatterns are the file globs indexed when none are configured.
var defaultIncludePatterns = []string{"*.md", "*.markdown", "*.txt"}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	".temoa/**",
	".obsidian/**",
	".git/**",
	".trash/**",
	"**/.DS_Store",
}

// NewConfig creates a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		DefaultModel: "nomic-embed-text",
		Paths: PathsConfig{
			Include: defaultIncludePatterns,
			Exclude: defaultExcludePatterns,
		},
		Search: SearchConfig{
			Limit:                 10,
			MinScore:              0.3,
			TimeBoostMax:          0.2,
			TimeBoostHalfLifeDays: 90,
			TimeoutSeconds:        30,
		},
		BM25: BM25Config{TagBoost: 5.0},
		Embeddings: EmbeddingsConfig{
			Provider:         "ollama",
			OllamaHost:       "http://localhost:11434",
			RerankerEndpoint: "http://localhost:9659",
			RerankerModel:    "reranker-small",
			BatchSize:        32,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
		Cache:  CacheConfig{MaxVaults: 3},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the config document from path. An empty path falls back to
// TEMOA_CONFIG and then to the default location.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TEMOA_CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath
	}
	path = ExpandHome(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeConfigNotFound,
				fmt.Sprintf("config not found at %s", path), err)
		}
		return nil, errors.ConfigError(fmt.Sprintf("cannot read config at %s", path), err)
	}

	return Parse(data)
}

// Parse decodes and validates a config document.
func Parse(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.ConfigError("config is not valid YAML", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if len(c.Vaults) == 0 {
		return errors.ConfigError("no vaults configured", nil)
	}

	seen := make(map[string]struct{}, len(c.Vaults))
	defaults := 0
	for _, v := range c.Vaults {
		if v.Name == "" {
			return errors.ConfigError("vault with empty name", nil)
		}
		if v.Path == "" {
			return errors.ConfigError(fmt.Sprintf("vault %q has no path", v.Name), nil)
		}
		if _, dup := seen[v.Name]; dup {
			return errors.ConfigError(fmt.Sprintf("duplicate vault name %q", v.Name), nil)
		}
		seen[v.Name] = struct{}{}
		if v.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		return errors.ConfigError(
			fmt.Sprintf("exactly one vault must be default, found %d", defaults), nil)
	}

	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return errors.ConfigError("search.min_score must be in [0, 1]", nil)
	}
	if c.BM25.TagBoost <= 0 {
		return errors.ConfigError("bm25.tag_boost must be positive", nil)
	}

	for name := range c.SearchProfiles {
		if isBuiltinProfileName(name) {
			return errors.New(errors.ErrCodeProfileShadow,
				fmt.Sprintf("search profile %q shadows a built-in", name), nil)
		}
	}

	return nil
}

// builtinProfileNames mirrors the built-in set in internal/search.
// Kept here so config validation does not depend on the search package.
var builtinProfileNames = []string{"default", "repos", "recent", "deep", "keywords"}

func isBuiltinProfileName(name string) bool {
	for _, b := range builtinProfileNames {
		if strings.EqualFold(name, b) {
			return true
		}
	}
	return false
}

// expandPaths resolves user-home prefixes on vault paths.
func (c *Config) expandPaths() {
	for i := range c.Vaults {
		c.Vaults[i].Path = ExpandHome(c.Vaults[i].Path)
	}
	if c.Logging.FilePath != "" {
		c.Logging.FilePath = ExpandHome(c.Logging.FilePath)
	}
}

// DefaultVault returns the vault marked is_default.
func (c *Config) DefaultVault() VaultConfig {
	for _, v := range c.Vaults {
		if v.IsDefault {
			return v
		}
	}
	// Validate guarantees one default; unreachable after Load.
	return VaultConfig{}
}

// VaultByName returns the named vault, or the default when name is empty.
func (c *Config) VaultByName(name string) (VaultConfig, error) {
	if name == "" {
		return c.DefaultVault(), nil
	}
	for _, v := range c.Vaults {
		if v.Name == name {
			return v, nil
		}
	}
	return VaultConfig{}, errors.New(errors.ErrCodeUnknownVault,
		fmt.Sprintf("unknown vault %q", name), nil)
}

// SearchTimeout returns the configured per-request time budget.
func (c *Config) SearchTimeout() time.Duration {
	if c.Search.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Search.TimeoutSeconds) * time.Second
}

// ExpandHome resolves a leading ~ or ~/ to the user home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
