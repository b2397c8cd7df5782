package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagIndexVault string
	flagIndexForce bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Bring a vault's search index up to date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := buildRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer reg.Close()

		res, err := reg.Reindex(cmd.Context(), flagIndexVault, flagIndexForce)
		if err != nil {
			return err
		}

		mode := "incremental"
		if res.FullRebuild {
			mode = "full rebuild"
		}
		fmt.Printf("indexed %d files (%s) in %s\n", res.TotalFiles, mode, res.Duration.Round(timePrecision))
		fmt.Printf("  new: %d  modified: %d  deleted: %d  rows: %d\n",
			res.NewFiles, res.ModifiedFiles, res.DeletedFiles, res.Rows)
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVar(&flagIndexVault, "vault", "", "vault name (default: configured default)")
	indexCmd.Flags().BoolVar(&flagIndexForce, "force", false, "rebuild from scratch")
	rootCmd.AddCommand(indexCmd)
}
