// Package watcher reports changes to note files under a directory.
//
// Events come from fsnotify, or from periodic polling when fsnotify is
// unavailable (network mounts, some container volumes). Bursts of events for
// one path are coalesced by a Debouncer before delivery, so an editor's
// save sequence arrives as a single change.
package watcher

import (
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"
)

// Operation is the kind of change.
type Operation int

const (
	// OpCreate: a new file appeared.
	OpCreate Operation = iota
	// OpModify: an existing file changed.
	OpModify
	// OpDelete: a file was removed or renamed away.
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one change to a file. Path is relative to the watched root and
// uses forward slashes.
type Event struct {
	Path      string
	Op        Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long a path must stay quiet before its event is emitted.
	Debounce time.Duration
	// PollInterval is the scan period in polling mode.
	PollInterval time.Duration
	// BufferSize is the capacity of the batch channel.
	BufferSize int
	// Extensions limits events to files with these extensions (".md").
	// Empty means every file.
	Extensions []string
	// ForcePolling skips fsnotify.
	ForcePolling bool
	Logger       *slog.Logger
}

// DefaultOptions returns the watcher defaults.
func DefaultOptions() Options {
	return Options{
		Debounce:     200 * time.Millisecond,
		PollInterval: 2 * time.Second,
		BufferSize:   64,
		Extensions:   []string{".md"},
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = def.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.BufferSize <= 0 {
		o.BufferSize = def.BufferSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// skipDir reports whether a directory is excluded from watching.
// Hidden directories (.git, .notegraph, ...) are always skipped.
func skipDir(rel string) bool {
	if rel == "." || rel == "" {
		return false
	}
	return hidden(rel)
}

// wants reports whether a file event for rel should be delivered.
func (o Options) wants(rel string) bool {
	if rel == "." || rel == "" || hidden(rel) {
		return false
	}
	if len(o.Extensions) == 0 {
		return true
	}
	return slices.Contains(o.Extensions, strings.ToLower(path.Ext(rel)))
}

func hidden(rel string) bool {
	for part := range strings.SplitSeq(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
