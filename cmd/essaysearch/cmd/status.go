package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/james-andrews-coulter/essay-search-engine/internal/cache"
	"github.com/james-andrews-coulter/essay-search-engine/internal/telemetry"
	"github.com/james-andrews-coulter/essay-search-engine/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool
	var showStats bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache and dataset status",
		Long:  `Show the active dataset store, cached versions, and optionally local search metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput, showStats)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	cmd.Flags().BoolVar(&showStats, "stats", false, "Include local search metrics")

	return cmd
}

// statusReport is the JSON shape of the status command output.
type statusReport struct {
	BaseURL      string           `json:"base_url"`
	CacheRoot    string           `json:"cache_root"`
	CurrentStore string           `json:"current_store"`
	Version      string           `json:"version,omitempty"`
	Stores       []string         `json:"stores"`
	Stats        *telemetry.Stats `json:"stats,omitempty"`
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput, showStats bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctrl := cache.NewController(cfg, slog.Default())
	store := ctrl.Store()

	current, err := store.Current()
	if err != nil {
		return fmt.Errorf("read current store: %w", err)
	}
	stores, err := store.ListStores()
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}

	report := statusReport{
		BaseURL:      cfg.Dataset.BaseURL,
		CacheRoot:    cfg.Cache.RootDir,
		CurrentStore: current,
		Stores:       stores,
	}
	if current != "" {
		if v, err := store.ReadVersion(current); err == nil {
			report.Version = cache.TagFor(v)
		}
	}

	if showStats {
		recorder, err := telemetry.NewRecorder(cfg.Telemetry.Enabled, cfg.Telemetry.DBPath, slog.Default())
		if err == nil {
			defer func() { _ = recorder.Close() }()
			if stats, err := recorder.Stats(ctx); err == nil {
				report.Stats = stats
			}
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out := cmd.OutOrStdout()
	styles := ui.GetStyles(noColor || !ui.IsTTY(out))

	fmt.Fprintln(out, styles.Header.Render("Essay Search Status"))
	fmt.Fprintf(out, "  Dataset:  %s\n", report.BaseURL)
	fmt.Fprintf(out, "  Cache:    %s\n", report.CacheRoot)
	if report.CurrentStore == "" {
		fmt.Fprintln(out, "  Store:    none (run 'essaysearch sync')")
	} else {
		fmt.Fprintf(out, "  Store:    %s", report.CurrentStore)
		if report.Version != "" {
			fmt.Fprintf(out, " (version %s)", report.Version)
		}
		fmt.Fprintln(out)
	}
	if len(report.Stores) > 1 {
		fmt.Fprintf(out, "  Cached:   %d versions\n", len(report.Stores))
	}

	if report.Stats != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, styles.Header.Render("Search Metrics"))
		fmt.Fprintf(out, "  Searches:     %d\n", report.Stats.TotalSearches)
		fmt.Fprintf(out, "  Zero results: %d\n", report.Stats.ZeroResults)
		fmt.Fprintf(out, "  Avg latency:  %.1f ms\n", report.Stats.AvgLatencyMS)
		if len(report.Stats.RecentZero) > 0 {
			fmt.Fprintln(out, "  Recent zero-result queries:")
			for _, z := range report.Stats.RecentZero {
				fmt.Fprintf(out, "    %q\n", z.Query)
			}
		}
	}

	return nil
}
