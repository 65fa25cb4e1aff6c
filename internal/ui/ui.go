// Package ui provides terminal UI components for dataset sync progress.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a sync stage.
type Stage int

const (
	// StageChecking is the remote version check stage.
	StageChecking Stage = iota
	// StageFetching is the asset download stage.
	StageFetching
	// StageVerifying is the checksum verification stage.
	StageVerifying
	// StageActivating is the version swap stage.
	StageActivating
	// StageComplete indicates the sync finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageChecking:
		return "Checking"
	case StageFetching:
		return "Fetching"
	case StageVerifying:
		return "Verifying"
	case StageActivating:
		return "Activating"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage icon for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageChecking:
		return "CHECK"
	case StageFetching:
		return "FETCH"
	case StageVerifying:
		return "VERIFY"
	case StageActivating:
		return "SWAP"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a sync progress update.
type ProgressEvent struct {
	Stage   Stage
	Asset   string // asset currently downloading, empty outside StageFetching
	Bytes   int64  // bytes received for the current asset
	Current int    // assets finished so far
	Total   int    // total assets planned
	Message string
}

// ErrorEvent represents an error during sync.
type ErrorEvent struct {
	Asset  string
	Err    error
	IsWarn bool
}

// CompletionStats contains final sync statistics.
type CompletionStats struct {
	Assets   int
	Bytes    int64
	Duration time.Duration
	StoreTag string
	Version  string
	Errors   int
	Warnings int
}

// Renderer defines the interface for sync progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Dataset    string // dataset origin to display in the header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithDataset sets the dataset origin shown in the header.
func WithDataset(origin string) ConfigOption {
	return func(c *Config) {
		c.Dataset = origin
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer creates an appropriate renderer based on config and environment.
// Interactive terminals get the TUI renderer; CI environments, pipes, and
// --plain get plain text.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain {
		return NewPlainRenderer(cfg)
	}
	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}
	if DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
