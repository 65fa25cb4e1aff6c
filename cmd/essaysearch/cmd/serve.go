package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/james-andrews-coulter/essay-search-engine/internal/cache"
	"github.com/james-andrews-coulter/essay-search-engine/internal/logging"
	"github.com/james-andrews-coulter/essay-search-engine/internal/server"
	"github.com/james-andrews-coulter/essay-search-engine/internal/session"
	"github.com/james-andrews-coulter/essay-search-engine/internal/telemetry"
	"github.com/james-andrews-coulter/essay-search-engine/internal/ui"
	"github.com/james-andrews-coulter/essay-search-engine/internal/watcher"
)

// updatePollInterval is how often the serve loop checks for a new dataset
// version in the background.
const updatePollInterval = 15 * time.Minute

func newServeCmd() *cobra.Command {
	var host string
	var port int
	var watch bool
	var watchDir string
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local search API",
		Long: `Load the cached dataset and serve the search API over HTTP.

The session serves one dataset version for its whole lifetime. Updates
found by the background version poll are staged on disk and applied
only through the reload endpoint, so results stay consistent.

With --watch, a local dataset directory is watched for rebuilds and a
version check runs whenever its files change (development mode).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, serveOptions{
				host:         host,
				port:         port,
				watch:        watch,
				watchDir:     watchDir,
				pollInterval: pollInterval,
			})
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (overrides config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch a local dataset directory for rebuilds")
	cmd.Flags().StringVar(&watchDir, "watch-dir", "", "Dataset directory to watch (default: ./data)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", updatePollInterval, "Background update check interval (0 disables)")

	return cmd
}

type serveOptions struct {
	host         string
	port         int
	watch        bool
	watchDir     string
	pollInterval time.Duration
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !debugMode && cfg.Server.LogLevel != "" {
		logging.SetLevel(cfg.Server.LogLevel)
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	logger := slog.Default()
	sess := session.New(cfg, logger)
	defer func() { _ = sess.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(plainOutput),
		ui.WithNoColor(noColor),
		ui.WithDataset(cfg.Dataset.BaseURL),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}

	start := time.Now()
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageChecking, Message: "loading dataset"})
	err = sess.Load(ctx, func(asset string, bytes int64, index, total int) {
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageFetching,
			Asset:   asset,
			Bytes:   bytes,
			Current: index,
			Total:   total,
		})
	})
	if err != nil {
		renderer.AddError(ui.ErrorEvent{Err: err})
		_ = renderer.Stop()
		return fmt.Errorf("load dataset: %w", err)
	}

	st := sess.Status()
	renderer.Complete(ui.CompletionStats{
		Duration: time.Since(start),
		StoreTag: st.StoreTag,
		Version:  cache.TagFor(st.Version),
	})
	_ = renderer.Stop()

	recorder, err := telemetry.NewRecorder(cfg.Telemetry.Enabled, cfg.Telemetry.DBPath, logger)
	if err != nil {
		logger.Warn("telemetry disabled", slog.String("error", err.Error()))
		recorder = nil
	}
	defer func() { _ = recorder.Close() }()

	srv := server.New(cfg.Server, sess, recorder, logger)

	go notifyUpdates(ctx, sess, logger)
	if opts.pollInterval > 0 {
		go pollForUpdates(ctx, sess, opts.pollInterval, logger)
	}
	if opts.watch {
		dir := opts.watchDir
		if dir == "" {
			dir = "data"
		}
		go watchDataset(ctx, sess, dir, logger)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d chunks on http://%s (variant: %s)\n",
		st.ChunkCount, srv.Addr(), st.Variant)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// notifyUpdates logs staged-update notices until the context ends.
func notifyUpdates(ctx context.Context, sess *session.Session, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-sess.Updates():
			if !ok {
				return
			}
			logger.Info("dataset update staged, apply with POST /api/update/apply",
				slog.String("version", cacheTag(notice)),
				slog.Time("staged_at", notice.StagedAt))
		}
	}
}

func cacheTag(n session.UpdateNotice) string {
	return fmt.Sprintf("%d", n.Version.Timestamp)
}

// pollForUpdates periodically checks the remote version descriptor.
func pollForUpdates(ctx context.Context, sess *session.Session, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := sess.CheckForUpdate(ctx); err != nil {
				logger.Debug("update check failed", slog.String("error", err.Error()))
			}
		}
	}
}

// watchDataset triggers an update check when local dataset files change.
func watchDataset(ctx context.Context, sess *session.Session, dir string, logger *slog.Logger) {
	w, err := watcher.NewDataWatcher(watcher.Options{}, logger)
	if err != nil {
		logger.Warn("dataset watch unavailable", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = w.Stop() }()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-w.Events():
				if !ok {
					return
				}
				logger.Info("dataset files changed", slog.Int("files", len(batch)))
				if _, _, err := sess.CheckForUpdate(ctx); err != nil {
					logger.Debug("update check failed", slog.String("error", err.Error()))
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				logger.Warn("watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	if err := w.Start(ctx, dir); err != nil && ctx.Err() == nil {
		logger.Warn("dataset watch stopped", slog.String("error", err.Error()))
	}
}
