package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DataWatcher watches a local dataset directory with fsnotify and emits
// debounced batches of changes to dataset asset files. It is non-recursive:
// dataset builds place all assets in a single directory.
type DataWatcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger
	events    chan []FileEvent
	errs      chan error
	stopCh    chan struct{}
	rootPath  string
	opts      Options
	mu        sync.Mutex
	stopped   bool
}

// NewDataWatcher creates a watcher with the given options.
func NewDataWatcher(opts Options, logger *slog.Logger) (*DataWatcher, error) {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &DataWatcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		logger:    logger,
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errs:      make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}, nil
}

// Start begins watching the given directory. It blocks until the context is
// cancelled or Stop is called.
func (w *DataWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.rootPath = absPath

	if err := w.fsWatcher.Add(absPath); err != nil {
		return fmt.Errorf("watch %s: %w", absPath, err)
	}
	w.logger.Info("watching dataset directory", slog.String("path", absPath))

	go w.forwardBatches(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *DataWatcher) handleEvent(event fsnotify.Event) {
	if !w.watchedFile(event.Name) {
		return
	}

	relPath, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		Timestamp: time.Now(),
	})
}

// watchedFile reports whether the path names a dataset asset we care about.
// Editor temp files and atomic-write intermediates are filtered here.
func (w *DataWatcher) watchedFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	ext := filepath.Ext(base)
	for _, want := range w.opts.Extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

func (w *DataWatcher) forwardBatches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			select {
			case w.events <- batch:
			default:
				w.logger.Warn("event channel full, dropping batch",
					slog.Int("batch_size", len(batch)),
				)
			}
		}
	}
}

func (w *DataWatcher) emitError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

// Events returns the channel of debounced event batches.
func (w *DataWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
func (w *DataWatcher) Errors() <-chan error {
	return w.errs
}

// Stop stops the watcher and releases resources. Safe to call multiple times.
func (w *DataWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true

	close(w.stopCh)
	w.debouncer.Stop()
	return w.fsWatcher.Close()
}
