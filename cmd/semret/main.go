// Package main is the semret CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hyperjump/semret/internal/config"
)

var version = "dev"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	debug      bool
}

func main() {
	// A .env file is optional; it usually carries OPENAI_API_KEY.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "semret",
		Short: "Semantic retrieval over your files",
		Long: `semret ingests files into a local vector index and answers natural
language queries with the paths of the most relevant files.

Examples:
  # Ingest a directory
  semret ingest ~/Documents

  # Search
  semret search "quarterly revenue report"

  # Several queries in one batch, as JSON
  semret search -q "a photo of a dog" -q "a photo of a boat" -k 5 --json

  # Serve the HTTP API and watch the configured directories
  semret serve`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "config file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newSearchCmd(opts),
		newDeleteCmd(opts),
		newStatusCmd(opts),
		newReconcileCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "semret version %s\n", version)
		},
	}
}
