package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a directory tree and delivers debounced batches of events.
type Watcher struct {
	opts      Options
	logger    *slog.Logger
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	root      string

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// New creates a watcher. fsnotify is used when available, polling otherwise.
func New(opts Options) (*Watcher, error) {
	opts = opts.withDefaults()
	w := &Watcher{
		opts:      opts,
		logger:    opts.Logger,
		debouncer: NewDebouncer(opts.Debounce, opts.BufferSize),
		errors:    make(chan error, 16),
		stopCh:    make(chan struct{}),
	}
	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn("fsnotify_unavailable",
				slog.String("error", err.Error()),
				slog.String("fallback", "polling"))
		} else {
			w.fs = fsw
		}
	}
	return w, nil
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.fs != nil {
		return "fsnotify"
	}
	return "polling"
}

// Events returns debounced batches. The channel is never closed; select on
// ctx or Done alongside it.
func (w *Watcher) Events() <-chan []Event {
	return w.debouncer.Output()
}

// Errors returns non-fatal watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Done is closed when the watcher stops.
func (w *Watcher) Done() <-chan struct{} {
	return w.stopCh
}

// Run watches root until ctx ends or Stop is called. It blocks.
func (w *Watcher) Run(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", abs)
	}
	w.root = abs
	defer w.Stop()

	w.logger.Info("watch_started",
		slog.String("root", abs),
		slog.String("mode", w.Mode()))

	if w.fs != nil {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

func (w *Watcher) runFsnotify(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return fmt.Errorf("watch directories: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context) error {
	p := newPoller(w.root, w.opts)
	if err := p.scan(nil); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			if err := p.scan(w.debouncer.Add); err != nil {
				w.emitError(err)
			}
		}
	}
}

// addTree watches root and every non-hidden directory below it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if skipDir(w.rel(p)) {
			return filepath.SkipDir
		}
		return w.fs.Add(p)
	})
}

func (w *Watcher) rel(p string) string {
	r, err := filepath.Rel(w.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel := w.rel(ev.Name)
	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	if isDir {
		if ev.Has(fsnotify.Create) && !skipDir(rel) {
			// Files written before the watch was added are picked up by the walk.
			if err := w.addTree(ev.Name); err != nil {
				w.emitError(err)
			}
			w.enqueueTree(ev.Name)
		}
		return
	}
	if !w.opts.wants(rel) {
		return
	}

	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}
	w.debouncer.Add(Event{Path: rel, Op: op, Timestamp: time.Now()})
}

// enqueueTree reports every matching file below dir as created.
func (w *Watcher) enqueueTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := w.rel(p)
		if d.IsDir() {
			if skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.opts.wants(rel) {
			w.debouncer.Add(Event{Path: rel, Op: OpCreate, Timestamp: time.Now()})
		}
		return nil
	})
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watch_error_dropped", slog.String("error", err.Error()))
	}
}

// Stop ends watching and releases resources. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fs != nil {
		_ = w.fs.Close()
	}
}
