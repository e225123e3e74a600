// Package main implements the replayctl command line: an interactive replay
// session over a web archive backend, plus collection, credential and
// history management commands.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"replayctl/internal/config"
	"replayctl/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgPath string
	verbose bool
	timeout time.Duration

	cfg  *config.Config
	logs *logging.Registry
)

var rootCmd = &cobra.Command{
	Use:   "replayctl",
	Short: "Replay archived web pages from a replay backend",
	Long: `replayctl drives a replay session against a web archive backend.

A Chrome instance hosts the replay frame; replayctl keeps the requested
location, the frame's own navigation and the page title in sync, and handles
re-authentication for collections loaded on demand from delegated storage.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return initLogging(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the replayctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "replayctl %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigPath, "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for backend commands")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(collsCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// initLogging builds the loggers. While the replay bar owns the terminal,
// logs go to a file next to the config unless one is configured.
func initLogging(cmd *cobra.Command) error {
	opts := logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		Categories: cfg.Logging.Categories,
	}
	if cmd == replayCmd && replayShowsBar() && opts.File == "" {
		opts.File = filepath.Join(filepath.Dir(cfgPath), "replayctl.log")
	}

	base, err := logging.New(opts, verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logs = logging.NewRegistry(base, cfg.Logging.Categories)
	logs.Get(logging.CategoryBoot).Debug("config loaded",
		zap.String("path", cfgPath),
		zap.String("backend", cfg.Backend.BaseURL))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
