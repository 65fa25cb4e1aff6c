package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu        sync.Mutex
	out       io.Writer
	noColor   bool
	lastAsset string
	errors    []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		noColor: cfg.NoColor,
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
// One line per asset; byte updates for the same asset are suppressed so
// pipes don't fill up with partial-download noise.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage == StageFetching && event.Asset != "" {
		if event.Asset == r.lastAsset {
			return
		}
		r.lastAsset = event.Asset
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n",
			event.Stage.Icon(), event.Current, event.Total, event.Asset)
		return
	}

	if event.Message != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), event.Message)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}

	if event.Asset != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Asset, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d assets, %s in %s",
		stats.Assets, humanize.Bytes(uint64(stats.Bytes)), stats.Duration.Round(100*time.Millisecond))

	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.StoreTag != "" {
		_, _ = fmt.Fprintf(r.out, "Store: %s", stats.StoreTag)
		if stats.Version != "" {
			_, _ = fmt.Fprintf(r.out, " (version %s)", stats.Version)
		}
		_, _ = fmt.Fprintln(r.out)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
