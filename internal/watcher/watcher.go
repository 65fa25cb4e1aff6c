// Package watcher provides local dataset directory watching for development
// mode. When the serve command runs with --watch against a locally built
// dataset, changes to the manifest, vector, or version files are coalesced
// and surfaced so the server can stage an update without waiting for a
// remote version poll.
package watcher

import (
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a change to one dataset file.
type FileEvent struct {
	// Path is the path relative to the watched directory.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Dataset rebuilds touch several files in quick succession; the window
	// collapses them into one batch. Default: 500ms.
	DebounceWindow time.Duration

	// EventBufferSize is the size of the batch channel buffer.
	// Default: 16.
	EventBufferSize int

	// Extensions restricts watching to files with these extensions.
	// Default: .json (manifest, vectors, version descriptors).
	Extensions []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		EventBufferSize: 16,
		Extensions:      []string{".json"},
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if len(o.Extensions) == 0 {
		o.Extensions = defaults.Extensions
	}
	return o
}
