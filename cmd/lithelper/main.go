// Package main provides the entry point for the lithelper CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ovenKiller/lithelper/cmd/lithelper/commands"
	"github.com/ovenKiller/lithelper/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lithelper",
		Short: "LitHelper - academic paper organizing assistant",
		Long: `LitHelper organizes batches of academic papers: metadata enrichment,
optional abstract translation and classification, and CSV export.

Commands:
  organize  Run one organize batch from a papers file
  mcp       Start the MCP stdio server for AI assistant integration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewOrganizeCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "lithelper %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
