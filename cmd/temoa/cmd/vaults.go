package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "List registered vaults",
	RunE: func(_ *cobra.Command, _ []string) error {
		for _, v := range cfg.Vaults {
			marker := " "
			if v.IsDefault {
				marker = "*"
			}
			fmt.Printf("%s %-20s %s\n", marker, v.Name, v.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(vaultsCmd)
}
