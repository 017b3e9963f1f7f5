package cmd

import (
	"github.com/spf13/cobra"

	"github.com/scarablabs/scarab/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets Claude Code query scarab natively for registered repos and
submission state. Configure in Claude Code with:

  {
    "mcpServers": {
      "scarab": { "command": "scarab", "args": ["mcp"] }
    }
  }

Available tools: scarab_list_repos, scarab_list_submissions,
scarab_get_submission`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return mcp.NewServer(s).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
