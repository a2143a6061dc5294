package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/notegraph/internal/engine"
	"github.com/Aman-CERP/notegraph/internal/graph"
	"github.com/Aman-CERP/notegraph/internal/links"
	"github.com/Aman-CERP/notegraph/internal/page"
	"github.com/Aman-CERP/notegraph/internal/telemetry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...engine.Option) (*Server, *engine.Engine) {
	t.Helper()
	opts = append([]engine.Option{engine.WithLogger(quietLogger())}, opts...)
	eng, err := engine.New(page.NewMemoryStore(), engine.DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	srv, err := NewServer(eng, WithLogger(quietLogger()))
	require.NoError(t, err)
	return srv, eng
}

func call[T any](t *testing.T, srv *Server, name string, args map[string]any) T {
	t.Helper()
	out, err := srv.CallTool(context.Background(), name, args)
	require.NoError(t, err)
	typed, ok := out.(T)
	require.True(t, ok, "unexpected result type %T", out)
	return typed
}

func TestNewServer_NilEngine(t *testing.T) {
	_, err := NewServer(nil)
	assert.ErrorIs(t, err, ErrNilEngine)
}

func TestServer_ListTools(t *testing.T) {
	srv, _ := newTestServer(t)

	names := make([]string, 0)
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}

	assert.ElementsMatch(t, []string{
		"create_or_update_page", "delete_page", "get_page", "get_backlinks",
		"traverse_graph", "search", "render_page", "list_pages",
	}, names)
	name, _ := srv.Info()
	assert.Equal(t, "notegraph", name)
	assert.NotNil(t, srv.MCPServer())
}

// ============================================================================
// TS01: Write, read and query through tools
// ============================================================================

func TestServer_PageLifecycle(t *testing.T) {
	// Given: a server with two linked pages
	srv, _ := newTestServer(t)
	a := call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{
		"id": "A", "content": "alpha links to [[B]] and embeds ![[C]]",
	})
	call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{
		"id": "B", "content": "beta mentions alpha",
	})

	// When: reading back through every query tool
	got := call[GetPageOutput](t, srv, ToolGetPage, map[string]any{"id": "A"})
	back := call[BacklinksOutput](t, srv, ToolGetBacklinks, map[string]any{"id": "B"})
	walk := call[TraverseOutput](t, srv, ToolTraverseGraph, map[string]any{"start": "A"})
	hits := call[SearchOutput](t, srv, ToolSearch, map[string]any{"query": "alpha"})
	list := call[ListPagesOutput](t, srv, ToolListPages, nil)

	// Then: the results agree with the written content
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, "consistent", a.State)
	assert.Equal(t, "alpha links to [[B]] and embeds ![[C]]", got.Content)
	assert.Equal(t, []links.Ref{{Target: "B", Kind: links.KindLink}, {Target: "C", Kind: links.KindEmbed}}, got.Links)
	assert.Equal(t, []string{"A"}, back.Backlinks)
	assert.Equal(t, "out", walk.Direction)
	assert.Equal(t, "A", walk.Pages[0])
	assert.Contains(t, walk.Pages, "B")
	assert.Len(t, hits.Results, 2)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, []PageSummary{{ID: "A", Version: 1}, {ID: "B", Version: 1}}, list.Pages)
}

func TestServer_DeleteReportsDangling(t *testing.T) {
	// Given: A links to B
	srv, _ := newTestServer(t)
	call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{"id": "A", "content": "see [[B]]"})
	call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{"id": "B", "content": "bee"})

	// When: B is deleted
	del := call[DeletePageOutput](t, srv, ToolDeletePage, map[string]any{"id": "B"})

	// Then: the dangling edge is reported and B is gone
	assert.True(t, del.Deleted)
	assert.Equal(t, []graph.Edge{{Source: "A", Target: "B", Kind: links.KindLink}}, del.Dangling)

	_, err := srv.CallTool(context.Background(), ToolGetPage, map[string]any{"id": "B"})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodePageNotFound, mcpErr.Code)
}

func TestServer_SearchEmptyQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{"id": "A", "content": "alpha"})

	for _, q := range []string{"", "   ", "!!!"} {
		out := call[SearchOutput](t, srv, ToolSearch, map[string]any{"query": q})
		assert.Empty(t, out.Results, "query %q", q)
		assert.NotNil(t, out.Results, "query %q", q)
		assert.Zero(t, out.Total, "query %q", q)
	}
}

func TestServer_TraverseDepth(t *testing.T) {
	// Given: a chain A -> B -> C -> D
	srv, _ := newTestServer(t)
	for id, content := range map[string]string{"A": "[[B]]", "B": "[[C]]", "C": "[[D]]", "D": "end"} {
		call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{"id": id, "content": content})
	}

	tests := []struct {
		name string
		args map[string]any
		want []string
	}{
		{"explicit zero", map[string]any{"start": "A", "max_depth": 0}, []string{"A"}},
		{"explicit one", map[string]any{"start": "A", "max_depth": 1}, []string{"A", "B"}},
		{"default", map[string]any{"start": "A"}, []string{"A", "B", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := call[TraverseOutput](t, srv, ToolTraverseGraph, tt.args)
			assert.Equal(t, tt.want, out.Pages)
		})
	}
}

func TestServer_RenderPage(t *testing.T) {
	srv, _ := newTestServer(t)
	call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{"id": "A", "content": "# Title\n\nsee [[B]]"})

	html := call[RenderOutput](t, srv, ToolRenderPage, map[string]any{"id": "A"})
	md := call[RenderOutput](t, srv, ToolRenderPage, map[string]any{"id": "A", "format": "markdown"})

	assert.Equal(t, "html", html.Format)
	assert.Contains(t, html.Content, "<h1")
	assert.Contains(t, html.Content, `href="B.html"`)
	assert.Equal(t, "# Title\n\nsee [B](B.html)", md.Content)
}

func TestServer_ListPagesPrefixAndLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, id := range []string{"notes/a", "notes/b", "notes/c", "other"} {
		call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{"id": id, "content": "x"})
	}

	list := call[ListPagesOutput](t, srv, ToolListPages, map[string]any{"prefix": "notes/", "limit": 2})

	assert.Equal(t, 3, list.Total)
	assert.True(t, list.Truncated)
	assert.Len(t, list.Pages, 2)
	assert.Equal(t, "notes/a", list.Pages[0].ID)
}

// ============================================================================
// TS02: Invalid input maps to JSON-RPC codes
// ============================================================================

func TestServer_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		code int
	}{
		{"unknown tool", "nope", nil, ErrCodeMethodNotFound},
		{"missing id", ToolCreateOrUpdatePage, map[string]any{"content": "x"}, ErrCodeInvalidParams},
		{"bad argument type", ToolSearch, map[string]any{"query": 12}, ErrCodeInvalidParams},
		{"bad direction", ToolTraverseGraph, map[string]any{"start": "A", "direction": "sideways"}, ErrCodeInvalidParams},
		{"delete missing", ToolDeletePage, map[string]any{"id": "ghost"}, ErrCodePageNotFound},
		{"traverse missing", ToolTraverseGraph, map[string]any{"start": "ghost"}, ErrCodePageNotFound},
		{"render missing", ToolRenderPage, map[string]any{"id": "ghost"}, ErrCodePageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.CallTool(context.Background(), tt.tool, tt.args)
			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, tt.code, mcpErr.Code, mcpErr.Message)
		})
	}
}

// ============================================================================
// TS03: Degraded writes succeed with a retry token
// ============================================================================

type failingText struct{}

func (failingText) Index(string, int64, string) error { return errors.New("disk full") }
func (failingText) Delete(string, int64) error        { return errors.New("disk full") }

func TestServer_DegradedWriteSucceeds(t *testing.T) {
	// Given: a text index that always fails
	srv, eng := newTestServer(t, engine.WithTextWriter(failingText{}))

	// When: writing a page
	out := call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{"id": "A", "content": "alpha"})

	// Then: the stored version is returned with a retry token
	assert.Equal(t, int64(1), out.Version)
	assert.Equal(t, "degraded", out.State)
	assert.NotEmpty(t, out.RetryToken)
	assert.Equal(t, "A", call[GetPageOutput](t, srv, ToolGetPage, map[string]any{"id": "A"}).ID)
	assert.NotEqual(t, engine.Consistent, eng.State("A").State)
}

func TestServer_QueryMetrics(t *testing.T) {
	// Given: a server with telemetry
	metrics := telemetry.NewQueryMetrics(nil, telemetry.DefaultConfig())
	srv, _ := newTestServer(t, engine.WithMetrics(metrics))
	call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{"id": "A", "content": "alpha"})

	// When: running a hit and a miss
	call[SearchOutput](t, srv, ToolSearch, map[string]any{"query": "alpha"})
	call[SearchOutput](t, srv, ToolSearch, map[string]any{"query": "missing"})

	// Then: the resource reports both
	out, err := srv.QueryMetrics()
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.TotalQueries)
	assert.InDelta(t, 50.0, out.ZeroResultPct, 0.001)
	assert.Equal(t, []string{"missing"}, out.ZeroResultQueries)
	assert.Equal(t, int64(2), out.QueryKindCounts["search"])

	text, err := srv.queryMetricsJSON()
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(text)))
}

func TestServer_QueryMetricsDisabled(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.QueryMetrics()

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestServer_GraphResource(t *testing.T) {
	srv, _ := newTestServer(t)
	call[WritePageOutput](t, srv, ToolCreateOrUpdatePage, map[string]any{"id": "A", "content": "[[B]]"})

	text, err := srv.graphJSON()
	require.NoError(t, err)

	var snap graph.Snapshot
	require.NoError(t, json.Unmarshal([]byte(text), &snap))
	assert.Equal(t, []graph.Edge{{Source: "A", Target: "B", Kind: links.KindLink}}, snap.Links)
}

func TestServer_ServeUnknownTransport(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.Error(t, srv.Serve(context.Background(), "sse"))
}
