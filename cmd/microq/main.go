package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/common"
)

var (
	// Command-line flags
	configFiles []string
	serverPort  int
	serverHost  string

	// Global state, populated by loadConfig before any command runs
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "microq",
	Short: "Multi-project job queue service",
	Long:  `Microq hands out queued jobs to workers across projects, weighting projects by backlog and deadline.`,
	// Running the binary without a subcommand starts the server.
	Run: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil,
		"Configuration file path (can be specified multiple times, later files override earlier ones)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves configuration in priority order: defaults, config
// files, environment, CLI flags. It also initializes the global logger.
func loadConfig() error {
	// Auto-discover a config file when none is given
	if len(configFiles) == 0 {
		if _, err := os.Stat("microq.toml"); err == nil {
			configFiles = append(configFiles, "microq.toml")
		} else if _, err := os.Stat("deployments/local/microq.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/microq.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)

	logger = common.SetupLogger(config)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
