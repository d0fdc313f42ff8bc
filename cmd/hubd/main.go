package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hubd",
	Short: "hubd - instance lifecycle orchestrator for hosted xcord",
	Long: `hubd provisions and operates hosted xcord instances: one
application container per tenant, plus its dedicated database, object
store bucket, DNS record, and reverse proxy route.

The daemon ('hubd run') drains the pipeline queues, reconciles drift,
and serves the ops API. One-shot subcommands manage instances and the
control-plane schema.

Configuration comes from HUB_* environment variables, optionally
layered over a YAML file passed with --config.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"hubd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (HUB_* env vars take precedence)")
}
