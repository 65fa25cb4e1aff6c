// Package cmd provides the CLI commands for essaysearch.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/james-andrews-coulter/essay-search-engine/internal/config"
	"github.com/james-andrews-coulter/essay-search-engine/internal/logging"
	"github.com/james-andrews-coulter/essay-search-engine/pkg/version"
)

// Global flags shared by all commands.
var (
	cfgPath        string
	debugMode      bool
	plainOutput    bool
	noColor        bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the essaysearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "essaysearch",
		Short: "Offline-capable search over a personal essay library",
		Long: `Essaysearch keeps a versioned copy of a book-chapter dataset in a local
cache and serves ranked search over it, online or offline.

Search combines fuzzy keyword matching with dense-vector retrieval
boosted by book, chapter, and tag metadata. Dataset updates are staged
in the background and applied on reload, never mid-session.

Run 'essaysearch sync' once to install the dataset, then 'essaysearch
serve' or 'essaysearch search <query>'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("essaysearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default ~/.essaysearch/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.essaysearch/logs/")
	cmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "Force plain text output (no TUI)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTagsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging initializes file logging before any command runs.
func setupLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if debugMode {
		logCfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)

	if debugMode {
		slog.Info("debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig reads configuration with .env and environment overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithDotenv(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Dataset.BaseURL == "" {
		return nil, fmt.Errorf("dataset.base_url is not set; configure it in %s or via ESSAYSEARCH_BASE_URL", config.DefaultPath())
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
