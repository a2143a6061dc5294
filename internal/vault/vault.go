// Package vault mirrors a directory of markdown files into the engine.
// Each file becomes one page whose id is its path relative to the vault
// root, without extension and with forward slashes.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Aman-CERP/notegraph/internal/engine"
	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/page"
	"github.com/Aman-CERP/notegraph/internal/watcher"
)

// batchSize is the number of mutations handed to the engine at once.
const batchSize = 64

// Options configures a Vault.
type Options struct {
	// Extensions selects note files. Default [".md"].
	Extensions []string
	// MaxFileBytes skips larger files. 0 means the engine's content limit.
	MaxFileBytes int64
	// Prune deletes pages with no file during Import.
	Prune  bool
	Logger *slog.Logger
}

// Vault maps files under Root to engine pages.
type Vault struct {
	root   string
	eng    *engine.Engine
	opts   Options
	ignore *Ignore
	logger *slog.Logger
}

// New returns a vault rooted at root.
func New(root string, eng *engine.Engine, opts Options) (*Vault, error) {
	if eng == nil {
		return nil, fmt.Errorf("%w: engine is required", engine.ErrNilDependency)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, ngerrors.ValidationError("vault directory not accessible", err).WithDetail("path", abs)
	}
	if !info.IsDir() {
		return nil, ngerrors.ValidationError("vault root is not a directory", nil).WithDetail("path", abs)
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".md"}
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = int64(eng.Config().MaxContentBytes)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ignore, err := LoadIgnore(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", IgnoreFile, err)
	}
	if ignore.Len() > 0 {
		opts.Logger.Debug("vault_ignore_loaded", slog.Int("rules", ignore.Len()))
	}
	return &Vault{root: abs, eng: eng, opts: opts, ignore: ignore, logger: opts.Logger}, nil
}

// Root returns the absolute vault directory.
func (v *Vault) Root() string { return v.root }

// PageID maps a slash-separated relative file path to a page id.
func PageID(rel string) string {
	rel = filepath.ToSlash(rel)
	return strings.TrimSuffix(rel, path.Ext(rel))
}

// Stats counts the outcome of Import or HandleEvents.
type Stats struct {
	Files     int `json:"files"`
	Written   int `json:"written"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
	Degraded  int `json:"degraded"`
	Failed    int `json:"failed"`
}

func (s *Stats) add(o Stats) {
	s.Files += o.Files
	s.Written += o.Written
	s.Unchanged += o.Unchanged
	s.Deleted += o.Deleted
	s.Skipped += o.Skipped
	s.Degraded += o.Degraded
	s.Failed += o.Failed
}

// Files lists the note files in the vault, relative and sorted.
func (v *Vault) Files(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			v.logger.Warn("vault_walk_error", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, rerr := filepath.Rel(v.root, p)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if v.ignore.Match(rel, d.IsDir()) {
			if d.IsDir() && !v.ignore.negates() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && slices.Contains(v.opts.Extensions, strings.ToLower(path.Ext(rel))) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// Import writes every note file to the engine, skipping files whose content
// already matches the stored page. progress may be nil.
func (v *Vault) Import(ctx context.Context, progress func(done, total int)) (Stats, error) {
	files, err := v.Files(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	seen := make(map[string]struct{}, len(files))
	for start := 0; start < len(files); start += batchSize {
		chunk := files[start:min(start+batchSize, len(files))]
		var muts []engine.Mutation
		for _, rel := range chunk {
			stats.Files++
			m, ok := v.mutationFor(ctx, rel, &stats)
			seen[PageID(rel)] = struct{}{}
			if ok {
				muts = append(muts, m)
			}
		}
		st, err := v.apply(ctx, muts)
		stats.add(st)
		if err != nil {
			return stats, err
		}
		if progress != nil {
			progress(start+len(chunk), len(files))
		}
	}

	if v.opts.Prune {
		st, err := v.prune(ctx, seen)
		stats.add(st)
		if err != nil {
			return stats, err
		}
	}

	v.logger.Info("vault_imported",
		slog.String("root", v.root),
		slog.Int("files", stats.Files),
		slog.Int("written", stats.Written),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("deleted", stats.Deleted),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// mutationFor reads rel and returns a put mutation unless the file is
// unusable or unchanged.
func (v *Vault) mutationFor(ctx context.Context, rel string, stats *Stats) (engine.Mutation, bool) {
	id := PageID(rel)
	if err := page.ValidateID(id); err != nil {
		v.skip(rel, err, stats)
		return engine.Mutation{}, false
	}
	full := filepath.Join(v.root, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil {
		v.skip(rel, err, stats)
		return engine.Mutation{}, false
	}
	if info.Size() > v.opts.MaxFileBytes {
		v.skip(rel, fmt.Errorf("file is %d bytes, limit %d", info.Size(), v.opts.MaxFileBytes), stats)
		return engine.Mutation{}, false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		v.skip(rel, err, stats)
		return engine.Mutation{}, false
	}
	content := string(data)
	if p, err := v.eng.Get(ctx, id); err == nil && p.Content == content {
		stats.Unchanged++
		return engine.Mutation{}, false
	}
	return engine.Put(id, content), true
}

func (v *Vault) skip(rel string, err error, stats *Stats) {
	stats.Skipped++
	v.logger.Warn("vault_file_skipped", slog.String("path", rel), slog.String("error", err.Error()))
}

// apply runs muts through the engine and tallies the results.
func (v *Vault) apply(ctx context.Context, muts []engine.Mutation) (Stats, error) {
	var stats Stats
	if len(muts) == 0 {
		return stats, nil
	}
	results, err := v.eng.ApplyBatch(ctx, muts)
	for _, r := range results {
		switch {
		case r.Err == nil, errors.Is(r.Err, ngerrors.ErrDegraded):
			if errors.Is(r.Err, ngerrors.ErrDegraded) {
				stats.Degraded++
			}
			if r.Deleted {
				stats.Deleted++
			} else {
				stats.Written++
			}
		case r.Deleted && errors.Is(r.Err, ngerrors.ErrNotFound):
			// Already gone.
		default:
			stats.Failed++
			v.logger.Warn("vault_sync_failed",
				slog.String("page_id", r.ID),
				slog.String("error", r.Err.Error()))
		}
	}
	return stats, err
}

// prune deletes pages that have no file in the vault.
func (v *Vault) prune(ctx context.Context, seen map[string]struct{}) (Stats, error) {
	pages, err := v.eng.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	var muts []engine.Mutation
	for _, p := range pages {
		if _, ok := seen[p.ID]; !ok {
			muts = append(muts, engine.Delete(p.ID))
		}
	}
	return v.apply(ctx, muts)
}

// HandleEvents applies a batch of file events: created and modified files
// are written, deleted files delete their page.
func (v *Vault) HandleEvents(ctx context.Context, events []watcher.Event) (Stats, error) {
	var stats Stats
	var muts []engine.Mutation
	for _, ev := range events {
		if ev.IsDir || v.ignore.Match(ev.Path, false) {
			continue
		}
		v.logger.Debug("vault_file_event",
			slog.String("path", ev.Path),
			slog.String("op", ev.Op.String()))
		switch ev.Op {
		case watcher.OpCreate, watcher.OpModify:
			stats.Files++
			if m, ok := v.mutationFor(ctx, ev.Path, &stats); ok {
				muts = append(muts, m)
			}
		case watcher.OpDelete:
			id := PageID(ev.Path)
			if page.ValidateID(id) == nil {
				muts = append(muts, engine.Delete(id))
			}
		}
	}
	st, err := v.apply(ctx, muts)
	stats.add(st)
	return stats, err
}

// Watch applies events from w until ctx ends or w stops.
func (v *Vault) Watch(ctx context.Context, w *watcher.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.Done():
			return nil
		case err := <-w.Errors():
			v.logger.Warn("vault_watch_error", slog.String("error", err.Error()))
		case batch := <-w.Events():
			stats, err := v.HandleEvents(ctx, batch)
			if err != nil {
				return err
			}
			v.logger.Info("vault_synced",
				slog.Int("written", stats.Written),
				slog.Int("deleted", stats.Deleted),
				slog.Int("failed", stats.Failed))
		}
	}
}
