package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/notegraph/internal/config"
	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/graph"
	"github.com/Aman-CERP/notegraph/internal/links"
	"github.com/Aman-CERP/notegraph/internal/lock"
	"github.com/Aman-CERP/notegraph/internal/page"
	"github.com/Aman-CERP/notegraph/internal/textindex"
	"github.com/Aman-CERP/notegraph/internal/vault"
	"github.com/Aman-CERP/notegraph/pkg/version"
)

// cli runs notegraph commands against one data directory.
type cli struct {
	t       *testing.T
	dataDir string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return &cli{t: t, dataDir: filepath.Join(t.TempDir(), "data")}
}

func (c *cli) runIn(stdin string, args ...string) (string, error) {
	c.t.Helper()
	root := NewRootCmd()
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--data-dir", c.dataDir}, args...))
	err := root.Execute()
	return stdout.String(), err
}

func (c *cli) run(args ...string) string {
	c.t.Helper()
	out, err := c.runIn("", args...)
	require.NoError(c.t, err, "notegraph %s", strings.Join(args, " "))
	return out
}

func (c *cli) runJSON(v any, args ...string) {
	c.t.Helper()
	out := c.run(append([]string{"--json"}, args...)...)
	require.NoError(c.t, json.Unmarshal([]byte(out), v), out)
}

func TestNewRootCmd_RegistersCommands(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	for _, want := range []string{
		"put", "get", "delete", "list", "backlinks", "traverse", "search", "render",
		"check", "import", "watch", "export", "stats", "serve", "config", "version",
	} {
		assert.Contains(t, names, want)
	}
}

// ============================================================================
// TS01: Pages persist across invocations
// ============================================================================

func TestCLI_PutThenQuery(t *testing.T) {
	// Given: two pages written from stdin and from a file
	c := newCLI(t)
	out, err := c.runIn("alpha links to [[B]]", "put", "A")
	require.NoError(t, err)
	assert.Equal(t, "✅ Stored A (version 1)\n", out)

	file := filepath.Join(t.TempDir(), "b.md")
	require.NoError(t, os.WriteFile(file, []byte("beta page"), 0o644))
	c.run("put", "B", file)

	// When: reading through every query command
	content := c.run("get", "A")
	back := c.run("backlinks", "B")
	walk := c.run("traverse", "A")
	var hits textindex.Results
	c.runJSON(&hits, "search", "alpha")

	// Then: each reflects the stored pages
	assert.Equal(t, "alpha links to [[B]]\n", content)
	assert.Equal(t, "A\n", back)
	assert.Equal(t, "A\nB\n", walk)
	require.Len(t, hits.Hits, 1)
	assert.Equal(t, "A", hits.Hits[0].ID)
	assert.Equal(t, 1, hits.Total)
}

func TestCLI_UpdateBumpsVersion(t *testing.T) {
	c := newCLI(t)
	_, err := c.runIn("one", "put", "A")
	require.NoError(t, err)

	out, err := c.runIn("two", "--json", "put", "A")
	require.NoError(t, err)

	var res struct {
		Version int64  `json:"version"`
		State   string `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, int64(2), res.Version)
	assert.Equal(t, "consistent", res.State)
}

func TestCLI_DeleteReportsDangling(t *testing.T) {
	// Given: A links to B
	c := newCLI(t)
	_, err := c.runIn("see [[B]]", "put", "A")
	require.NoError(t, err)
	_, err = c.runIn("bee", "put", "B")
	require.NoError(t, err)

	// When: deleting B
	out := c.run("delete", "B")

	// Then: the dangling reference is listed and B is gone
	assert.Contains(t, out, "Deleted B")
	assert.Contains(t, out, "A still links to B")
	_, err = c.runIn("", "get", "B")
	assert.Equal(t, ngerrors.ErrCodePageNotFound, ngerrors.GetCode(err))
}

func TestCLI_ListPrefix(t *testing.T) {
	c := newCLI(t)
	for _, id := range []string{"notes/a", "notes/b", "other"} {
		_, err := c.runIn("x", "put", id)
		require.NoError(t, err)
	}

	var pages []page.Summary
	c.runJSON(&pages, "list", "--prefix", "notes/")

	require.Len(t, pages, 2)
	assert.Equal(t, "notes/a", pages[0].ID)
	assert.Equal(t, "notes/b", pages[1].ID)
}

func TestCLI_GetLinks(t *testing.T) {
	c := newCLI(t)
	_, err := c.runIn("[[B]] and ![[C]]", "put", "A")
	require.NoError(t, err)

	var got struct {
		ID    string      `json:"id"`
		Links []links.Ref `json:"links"`
	}
	c.runJSON(&got, "get", "A")

	assert.Equal(t, "A", got.ID)
	assert.Equal(t, []links.Ref{{Target: "B", Kind: links.KindLink}, {Target: "C", Kind: links.KindEmbed}}, got.Links)
}

func TestCLI_RenderMarkdown(t *testing.T) {
	c := newCLI(t)
	_, err := c.runIn("see [[B|bee]]", "put", "A")
	require.NoError(t, err)

	assert.Equal(t, "see [bee](B.html)\n", c.run("render", "A", "--format", "markdown"))
	assert.Contains(t, c.run("render", "A"), `<a href="B.html">bee</a>`)
}

// ============================================================================
// TS02: Errors carry structured codes
// ============================================================================

func TestCLI_Errors(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"missing page", []string{"get", "ghost"}, ngerrors.ErrCodePageNotFound},
		{"delete missing", []string{"delete", "ghost"}, ngerrors.ErrCodePageNotFound},
		{"bad direction", []string{"traverse", "ghost", "--direction", "up"}, ngerrors.ErrCodeInvalidDirection},
		{"bad format", []string{"render", "ghost", "--format", "../x"}, ngerrors.ErrCodeInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.runIn("", tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, ngerrors.GetCode(err), err.Error())
		})
	}
}

func TestCLI_LockedDataDir(t *testing.T) {
	// Given: another holder of the data directory lock
	c := newCLI(t)
	l := lock.New(c.dataDir)
	require.NoError(t, l.Acquire())
	defer func() { _ = l.Release() }()

	// When: a command opens the same directory
	_, err := c.runIn("", "list")

	// Then: it fails fast with a locked error
	assert.Equal(t, ngerrors.ErrCodeLocked, ngerrors.GetCode(err))
}

func TestCLI_MemoryModeNeedsNoDataDir(t *testing.T) {
	c := newCLI(t)

	out, err := c.runIn("hello", "--memory", "put", "A")

	require.NoError(t, err)
	assert.Contains(t, out, "version 1")
	assert.NoDirExists(t, c.dataDir)
}

// ============================================================================
// TS03: Import, export, check and stats
// ============================================================================

func TestCLI_ImportVault(t *testing.T) {
	// Given: a vault with two notes and a hidden directory
	c := newCLI(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".obsidian"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("see [[sub/b]]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.md"), []byte("beta"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".obsidian", "x.md"), []byte("hidden"), 0o644))

	// When: importing twice
	var first, second vault.Stats
	c.runJSON(&first, "import", dir, "--no-tui")
	c.runJSON(&second, "import", dir, "--no-tui")

	// Then: the first import writes both notes and the second finds them unchanged
	assert.Equal(t, 2, first.Files)
	assert.Equal(t, 2, first.Written)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, 0, second.Written)
	assert.Equal(t, "a\n", c.run("backlinks", "sub/b"))
}

func TestCLI_ImportPrune(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("alpha"), 0o644))
	_, err := c.runIn("orphan", "put", "gone")
	require.NoError(t, err)

	var stats vault.Stats
	c.runJSON(&stats, "import", dir, "--no-tui", "--prune")

	assert.Equal(t, 1, stats.Deleted)
	var pages []page.Summary
	c.runJSON(&pages, "list")
	require.Len(t, pages, 1)
	assert.Equal(t, "a", pages[0].ID)
}

func TestCLI_Export(t *testing.T) {
	c := newCLI(t)
	_, err := c.runIn("[[B]]", "put", "A")
	require.NoError(t, err)

	outFile := filepath.Join(t.TempDir(), "graph.json")
	c.run("export", "-o", outFile)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var snap graph.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, []graph.Edge{{Source: "A", Target: "B", Kind: links.KindLink}}, snap.Links)
	assert.Contains(t, snap.Nodes, graph.SnapshotNode{ID: "B", Missing: true})
}

func TestCLI_CheckConsistent(t *testing.T) {
	c := newCLI(t)
	_, err := c.runIn("alpha", "put", "A")
	require.NoError(t, err)

	out := c.run("check")

	assert.Contains(t, out, "1 pages checked, indices consistent")
}

func TestCLI_Stats(t *testing.T) {
	// Given: two pages and one search
	c := newCLI(t)
	_, err := c.runIn("alpha [[B]]", "put", "A")
	require.NoError(t, err)
	_, err = c.runIn("beta", "put", "B")
	require.NoError(t, err)
	c.run("search", "alpha")

	// When: reading stats
	var report statsReport
	c.runJSON(&report, "stats")

	// Then: pages, edges and persisted query counts are reported
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 1, report.Indices.Graph.Edges)
	assert.Equal(t, 2, report.Indices.Text.Documents)
	require.NotNil(t, report.Queries)
	assert.GreaterOrEqual(t, report.Queries.Total, int64(1))
}

// ============================================================================
// TS04: Config and version
// ============================================================================

func TestCLI_ConfigShowDefaults(t *testing.T) {
	c := newCLI(t)

	var cfg config.Config
	c.runJSON(&cfg, "config", "show", "--defaults")

	assert.Equal(t, "goldmark", cfg.Render.Engine)
	assert.Equal(t, config.BackendSQLite, cfg.Store.Backend)
}

func TestCLI_ConfigInitProject(t *testing.T) {
	// Given: an empty working directory
	c := newCLI(t)
	t.Chdir(t.TempDir())

	// When: writing a project config twice
	c.run("config", "init", "--project")
	_, err := c.runIn("", "config", "init", "--project")

	// Then: the file loads and the second init refuses to overwrite
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	cfg, err := config.Load(".")
	require.NoError(t, err)
	assert.Equal(t, config.DeletePolicyTombstone, cfg.Graph.DeletePolicy)
}

func TestCLI_ConfigFileFlag(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("render:\n  engine: pandoc\n"), 0o644))

	var cfg config.Config
	c.runJSON(&cfg, "--config", path, "config", "show")

	assert.Equal(t, "pandoc", cfg.Render.Engine)
}

func TestCLI_Version(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, version.Short()+"\n", c.run("version", "--short"))

	var info version.BuildInfo
	c.runJSON(&info, "version")
	assert.Equal(t, version.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestCLI_MemProfile(t *testing.T) {
	c := newCLI(t)
	heap := filepath.Join(t.TempDir(), "heap.prof")

	c.run("--memprofile", heap, "list")

	info, err := os.Stat(heap)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestCLI_ImportHonorsIgnoreFile(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, vault.IgnoreFile), []byte("drafts/\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "drafts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drafts", "wip.md"), []byte("wip"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done.md"), []byte("done"), 0o644))

	c.run("import", "--no-tui", dir)

	var pages []page.Summary
	c.runJSON(&pages, "list")
	require.Len(t, pages, 1)
	assert.Equal(t, "done", pages[0].ID)
}
