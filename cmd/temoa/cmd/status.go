package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pborenstein/temoa/internal/store"
	"github.com/pborenstein/temoa/internal/telemetry"
	"github.com/pborenstein/temoa/internal/vault"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index state per vault and query telemetry",
	RunE: func(_ *cobra.Command, _ []string) error {
		fmt.Printf("model: %s\n\n", cfg.DefaultModel)
		for _, vc := range cfg.Vaults {
			reader, err := vault.NewReader(vc.Path, cfg.Paths.Include, cfg.Paths.Exclude)
			if err != nil {
				fmt.Printf("%-20s unreadable: %v\n", vc.Name, err)
				continue
			}

			st := store.NewEmbeddingStore(reader.Root(), cfg.DefaultModel)
			idx, err := st.Load(false)
			if err == store.ErrNoIndex {
				fmt.Printf("%-20s not indexed\n", vc.Name)
				continue
			}
			if err != nil {
				fmt.Printf("%-20s index error: %v\n", vc.Name, err)
				continue
			}

			fmt.Printf("%-20s %d rows, %d files, dim %d, updated %s\n",
				vc.Name, idx.Rows(), len(idx.Tracking),
				idx.Meta.EmbeddingDimension,
				idx.Meta.UpdatedAt.Format("2006-01-02 15:04"))
		}

		if path := telemetryPath(); path != "" {
			if rec, err := telemetry.Open(path); err == nil {
				defer func() { _ = rec.Close() }()
				if terms, err := rec.TopTerms(8); err == nil && len(terms) > 0 {
					fmt.Printf("\ntop query terms: %s\n", strings.Join(terms, ", "))
				}
				if zero, err := rec.ZeroResultCount(); err == nil && zero > 0 {
					fmt.Printf("recent zero-result queries: %d\n", zero)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
