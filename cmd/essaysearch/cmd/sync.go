package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/james-andrews-coulter/essay-search-engine/internal/cache"
	"github.com/james-andrews-coulter/essay-search-engine/internal/ui"
)

func newSyncCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download or update the dataset cache",
		Long: `Fetch the remote version descriptor and install the dataset into a
fresh versioned store. The previous store keeps serving until the new
one is complete and verified; activation is an atomic pointer swap.

With --check-only, only report whether an update is available.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), cmd, checkOnly)
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check-only", false, "Check for updates without downloading")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, checkOnly bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctrl := cache.NewController(cfg, slog.Default())
	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(plainOutput),
		ui.WithNoColor(noColor),
		ui.WithDataset(cfg.Dataset.BaseURL),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	start := time.Now()

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageChecking, Message: "checking remote version"})
	remote, err := ctrl.FetchRemoteVersion(ctx)
	if err != nil {
		renderer.AddError(ui.ErrorEvent{Err: err})
		return fmt.Errorf("fetch remote version: %w", err)
	}

	tag := cache.TagFor(remote)
	current, err := ctrl.Store().Current()
	if err != nil {
		return fmt.Errorf("read current store: %w", err)
	}

	if checkOnly {
		if current == tag {
			renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageComplete, Message: "dataset is up to date"})
		} else {
			renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageComplete,
				Message: fmt.Sprintf("update available: %s (current: %s)", tag, displayTag(current))})
		}
		renderer.Complete(ui.CompletionStats{Duration: time.Since(start), StoreTag: current})
		return nil
	}

	if current == tag && ctrl.Store().Complete(tag) {
		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageComplete, Message: "dataset is up to date"})
		renderer.Complete(ui.CompletionStats{Duration: time.Since(start), StoreTag: tag})
		return nil
	}

	var assets int
	var bytes int64
	progress := func(asset string, b int64, index, total int) {
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageFetching,
			Asset:   asset,
			Bytes:   b,
			Current: index,
			Total:   total,
		})
		assets = total
		bytes += b
	}

	installed, err := ctrl.Install(ctx, remote, progress)
	if err != nil {
		renderer.AddError(ui.ErrorEvent{Err: err})
		return fmt.Errorf("install dataset: %w", err)
	}

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageVerifying, Message: "verifying store"})
	if err := ctrl.Verify(installed); err != nil {
		renderer.AddError(ui.ErrorEvent{Err: err})
		return fmt.Errorf("verify store: %w", err)
	}

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageActivating, Message: "activating " + installed})
	if err := ctrl.Activate(installed); err != nil {
		renderer.AddError(ui.ErrorEvent{Err: err})
		return fmt.Errorf("activate store: %w", err)
	}

	renderer.Complete(ui.CompletionStats{
		Assets:   assets,
		Bytes:    bytes,
		Duration: time.Since(start),
		StoreTag: installed,
		Version:  cache.TagFor(remote),
	})
	return nil
}

func displayTag(tag string) string {
	if tag == "" {
		return "none"
	}
	return tag
}
