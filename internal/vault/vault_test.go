package vault

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/notegraph/internal/engine"
	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/page"
	"github.com/Aman-CERP/notegraph/internal/watcher"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(page.NewMemoryStore(), engine.DefaultConfig(), engine.WithLogger(quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestPageID(t *testing.T) {
	tests := map[string]string{
		"note.md":            "note",
		"projects/plan.md":   "projects/plan",
		"a.b.md":             "a.b",
		"projects/README.MD": "projects/README",
	}
	for rel, want := range tests {
		assert.Equal(t, want, PageID(rel), rel)
	}
}

func TestVault_Import(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "home.md", "welcome, see [[projects/plan]]")
	writeFile(t, root, "projects/plan.md", "the plan")
	writeFile(t, root, "notes.txt", "ignored")
	writeFile(t, root, ".hidden/secret.md", "ignored")
	writeFile(t, root, "bad#name.md", "invalid id")

	e := newEngine(t)
	v, err := New(root, e, Options{Logger: quiet()})
	require.NoError(t, err)

	var progressed int
	stats, err := v.Import(ctx, func(done, total int) { progressed = done })
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 3, progressed)

	bl, err := e.GetBacklinks(ctx, "projects/plan")
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, bl)

	// When: imported again without changes
	stats, err = v.Import(ctx, nil)
	require.NoError(t, err)

	// Then: nothing is rewritten
	assert.Equal(t, 2, stats.Unchanged)
	assert.Zero(t, stats.Written)
	p, err := e.Get(ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)
}

func TestVault_ImportPrune(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "keep.md", "keep")

	e := newEngine(t)
	_, err := e.CreateOrUpdatePage(ctx, "stale", "no file")
	require.NoError(t, err)

	v, err := New(root, e, Options{Prune: true, Logger: quiet()})
	require.NoError(t, err)
	stats, err := v.Import(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Deleted)
	_, err = e.Get(ctx, "stale")
	assert.ErrorIs(t, err, ngerrors.ErrNotFound)
}

func TestVault_HandleEvents(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "a.md", "alpha [[b]]")

	e := newEngine(t)
	v, err := New(root, e, Options{Logger: quiet()})
	require.NoError(t, err)

	stats, err := v.HandleEvents(ctx, []watcher.Event{{Path: "a.md", Op: watcher.OpCreate}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)

	// When: the file is removed
	require.NoError(t, os.Remove(filepath.Join(root, "a.md")))
	stats, err = v.HandleEvents(ctx, []watcher.Event{
		{Path: "a.md", Op: watcher.OpDelete},
		{Path: "never.md", Op: watcher.OpDelete},
	})
	require.NoError(t, err)

	// Then: the page is deleted and unknown deletes are ignored
	assert.Equal(t, 1, stats.Deleted)
	assert.Zero(t, stats.Failed)
	bl, err := e.GetBacklinks(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, bl)
}

func TestVault_SkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.md", "0123456789")

	v, err := New(root, newEngine(t), Options{MaxFileBytes: 5, Logger: quiet()})
	require.NoError(t, err)
	stats, err := v.Import(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Written)
}

func TestVault_Watch(t *testing.T) {
	root := t.TempDir()
	e := newEngine(t)
	v, err := New(root, e, Options{Logger: quiet()})
	require.NoError(t, err)

	w, err := watcher.New(watcher.Options{Debounce: 20 * time.Millisecond, Logger: quiet(), Extensions: []string{".md"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx, root) }()
	go func() { _ = v.Watch(ctx, w) }()
	time.Sleep(60 * time.Millisecond)

	writeFile(t, root, "live.md", "watched content")

	require.Eventually(t, func() bool {
		res, err := e.Search(context.Background(), "watched", 0)
		return err == nil && res.Total == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNew_RejectsMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), newEngine(t), Options{})
	assert.Equal(t, ngerrors.ErrCodeInvalidInput, ngerrors.GetCode(err))

	_, err = New(t.TempDir(), nil, Options{})
	assert.ErrorIs(t, err, engine.ErrNilDependency)
}
