// Package main implements the digest CLI: build the daily lifelog digest once
// or on a schedule, and inspect the configured extractors.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the optional YAML configuration file
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "digest",
	Short: "Daily lifelog digest",
	Long: `digest fetches a day of lifelog recordings, runs the configured
extractors over them and hands the rendered email to the delivery service.

Configuration is read from an optional YAML file and DIGEST_* environment
variables (DIGEST_LLM_API_KEY, DIGEST_NATS_URL, ...).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newExtractorsCmd())
}
