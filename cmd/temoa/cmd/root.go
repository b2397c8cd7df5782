// Package cmd implements the temoa CLI.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pborenstein/temoa/internal/config"
	"github.com/pborenstein/temoa/internal/embed"
	"github.com/pborenstein/temoa/internal/logging"
	"github.com/pborenstein/temoa/internal/registry"
)

// Version is stamped at build time.
var Version = "dev"

var (
	flagConfig   string
	flagLogLevel string

	cfg        *config.Config
	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "temoa",
	Short: "Semantic search over personal note vaults",
	Long: `Temoa indexes vaults of Markdown/plaintext notes and serves hybrid
semantic + keyword search over them, fast enough to feel interactive.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded

		logCfg := logging.DefaultConfig()
		if cfg.Logging.Level != "" {
			logCfg.Level = cfg.Logging.Level
		}
		if flagLogLevel != "" {
			logCfg.Level = flagLogLevel
		}
		if cfg.Logging.FilePath != "" {
			logCfg.FilePath = cfg.Logging.FilePath
		}
		// The MCP transport owns stdio framing; keep logs in the file.
		if cmd.Name() == "mcp" {
			logCfg.WriteToStderr = false
		}
		cleanup, err := logging.SetupDefault(logCfg)
		if err != nil {
			return fmt.Errorf("logging setup failed: %w", err)
		}
		logCleanup = cleanup
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logCleanup != nil {
			logCleanup()
		}
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default ~/.temoa/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// buildRegistry loads models and assembles the vault registry.
// The reranker is optional: an unreachable reranker service disables the
// rerank stage rather than failing startup.
func buildRegistry(ctx context.Context) (*registry.Registry, error) {
	initCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var embedder embed.Embedder
	switch cfg.Embeddings.Provider {
	case "static":
		embedder = embed.NewStaticEmbedder()
	default:
		e, err := embed.NewOllamaEmbedder(initCtx, embed.OllamaConfig{
			Host:      cfg.Embeddings.OllamaHost,
			Model:     cfg.DefaultModel,
			BatchSize: cfg.Embeddings.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		embedder = e
	}

	var reranker embed.CrossEncoder
	if r, rerr := embed.NewHTTPReranker(initCtx, embed.RerankerConfig{
		Endpoint: cfg.Embeddings.RerankerEndpoint,
		Model:    cfg.Embeddings.RerankerModel,
	}); rerr != nil {
		slog.Warn("reranker_unavailable",
			slog.String("endpoint", cfg.Embeddings.RerankerEndpoint),
			slog.String("error", rerr.Error()))
	} else {
		reranker = r
	}

	return registry.New(cfg, embedder, reranker)
}

// telemetryPath is where the query metrics database lives.
func telemetryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.temoa/telemetry.db"
}
