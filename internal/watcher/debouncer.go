package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so a dataset rebuild that rewrites
// several files produces a single batch. Events for the same path within the
// debounce window are merged:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a new debouncer with the given window duration.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add adds an event to be debounced. Events for the same path are coalesced.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		coalesced := d.coalesce(existing, event)
		if coalesced == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *coalesced
		}
	} else {
		d.pending[event.Path] = &pendingEvent{
			event:   event,
			firstOp: event.Operation,
		}
	}

	d.scheduleFlush()
}

// coalesce merges two events for the same path. Returns nil if the events
// cancel each other out.
func (d *Debouncer) coalesce(existing *pendingEvent, next FileEvent) *FileEvent {
	switch existing.firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		default:
			return &next
		}

	case OpDelete:
		if next.Operation == OpCreate {
			result := next
			result.Operation = OpModify
			return &result
		}
		return &next

	default:
		return &next
	}
}

func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(events)),
		)
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
