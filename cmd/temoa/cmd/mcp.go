package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pborenstein/temoa/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP interface over stdio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := buildRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer reg.Close()

		return mcpserver.NewServer(reg, Version).Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
