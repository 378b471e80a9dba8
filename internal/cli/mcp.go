package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/itellico/joi-sub010/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve governance tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		slog.Info("MCP server starting", "version", version)
		return mcpserver.ServeStdio(mcpserver.New(a.store, a.engine, version))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
