package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/graph"
	"github.com/Aman-CERP/notegraph/internal/links"
	"github.com/Aman-CERP/notegraph/internal/page"
	"github.com/Aman-CERP/notegraph/internal/telemetry"
	"github.com/Aman-CERP/notegraph/internal/textindex"
)

var errInjected = errors.New("injected index failure")

// failer fails a configurable number of calls; a negative budget fails forever.
type failer struct {
	budget atomic.Int64
}

func (f *failer) fail() bool {
	for {
		n := f.budget.Load()
		switch {
		case n == 0:
			return false
		case n < 0:
			return true
		case f.budget.CompareAndSwap(n, n-1):
			return true
		}
	}
}

type flakyText struct {
	failer
	inner   *textindex.Index
	applied atomic.Int64
}

func (f *flakyText) Index(id string, version int64, content string) error {
	if f.fail() {
		return errInjected
	}
	err := f.inner.Index(id, version, content)
	if err == nil {
		f.applied.Add(1)
	}
	return err
}

func (f *flakyText) Delete(id string, version int64) error {
	if f.fail() {
		return errInjected
	}
	return f.inner.Delete(id, version)
}

type flakyGraph struct {
	failer
	inner *graph.Graph
}

func (f *flakyGraph) SetEdges(id string, version int64, refs []links.Ref) error {
	if f.fail() {
		return errInjected
	}
	return f.inner.SetEdges(id, version, refs)
}

func (f *flakyGraph) DeletePage(id string, version int64) (graph.DeleteReport, error) {
	if f.fail() {
		return graph.DeleteReport{ID: id}, errInjected
	}
	return f.inner.DeletePage(id, version)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Retry = ngerrors.RetryConfig{
		MaxRetries:   10,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	e, err := New(page.NewMemoryStore(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TS01: Link, search and delete round trip
func TestEngine_Scenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())

	// Given: A links to B and B holds text
	_, err := e.CreateOrUpdatePage(ctx, "A", "see [[B]]")
	require.NoError(t, err)
	_, err = e.CreateOrUpdatePage(ctx, "B", "hello world")
	require.NoError(t, err)

	// Then: backlinks and search reflect both pages
	bl, err := e.GetBacklinks(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, bl)

	res, err := e.Search(ctx, "hello", 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "B", res.Hits[0].ID)
	assert.Greater(t, res.Hits[0].Score, 0.0)

	// When: A is deleted
	ok, err := e.DeletePage(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)

	// Then: B has no backlinks left
	bl, err = e.GetBacklinks(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, bl)
	assert.Equal(t, Absent, e.State("A").State)
	assert.Equal(t, Consistent, e.State("B").State)
}

func TestNew_NilStore(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestEngine_VersionsIncreaseAcrossDelete(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())

	v1, err := e.CreateOrUpdatePage(ctx, "p", "one")
	require.NoError(t, err)
	v2, err := e.CreateOrUpdatePage(ctx, "p", "two")
	require.NoError(t, err)
	res, err := e.Apply(ctx, Delete("p"))
	require.NoError(t, err)
	v4, err := e.CreateOrUpdatePage(ctx, "p", "three")
	require.NoError(t, err)

	assert.Less(t, v1, v2)
	assert.Less(t, v2, res.Version)
	assert.Less(t, res.Version, v4)
	assert.Equal(t, v4, e.TextIndex().Version("p"))
	assert.Equal(t, v4, e.Graph().Version("p"))
}

func TestEngine_InvalidInputRejectedBeforeStateChange(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())

	tests := []struct {
		name    string
		id      string
		content string
		code    string
	}{
		{"nul byte", "p", "bad\x00content", ngerrors.ErrCodeInvalidContent},
		{"invalid utf8", "p", "\xff\xfe", ngerrors.ErrCodeInvalidContent},
		{"empty id", "", "text", ngerrors.ErrCodeInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := e.CreateOrUpdatePage(ctx, tt.id, tt.content)
			require.Error(t, err)
			assert.Equal(t, tt.code, ngerrors.GetCode(err))
			assert.Zero(t, v)
		})
	}

	_, err := e.Get(ctx, "p")
	assert.ErrorIs(t, err, ngerrors.ErrNotFound)
	assert.Equal(t, Absent, e.State("p").State)
}

func TestEngine_DeleteMissing(t *testing.T) {
	e := newTestEngine(t, testConfig())

	ok, err := e.DeletePage(context.Background(), "ghost")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ngerrors.ErrNotFound)
}

func TestEngine_ContentMetadataFromFrontMatter(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())

	res, err := e.Apply(ctx, Mutation{
		ID:       "p",
		Content:  ptr("---\ntitle: Hello\ntags: x\n---\nbody [[q]]"),
		Metadata: map[string]string{"tags": "override"},
	})
	require.NoError(t, err)
	assert.Equal(t, Consistent, res.State)

	p, err := e.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "Hello", p.Metadata["title"])
	assert.Equal(t, "override", p.Metadata["tags"])
	assert.Equal(t, []links.Ref{{Target: "q", Kind: links.KindLink}}, e.Links("p"))
}

func ptr(s string) *string { return &s }

func TestEngine_ReferenceWarningsReturned(t *testing.T) {
	e := newTestEngine(t, testConfig())

	res, err := e.Apply(context.Background(), Put("p", "broken [[ref"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)
}

// TS02: A failed index write degrades, then converges exactly once
func TestEngine_DegradedConvergesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	text := textindex.New()
	ft := &flakyText{inner: text}
	ft.budget.Store(3)
	e := newTestEngine(t, testConfig(), WithTextIndex(text), WithTextWriter(ft))

	// When: the text index fails the first attempts
	res, err := e.Apply(ctx, Put("A", "graph sync [[B]]"))

	// Then: the write is acknowledged as Degraded with a token
	require.Error(t, err)
	assert.ErrorIs(t, err, ngerrors.ErrDegraded)
	assert.Equal(t, Degraded, res.State)
	assert.NotEmpty(t, res.RetryToken)
	assert.Equal(t, []Side{SideText}, res.Stale)
	assert.Equal(t, res.Version, e.Graph().Version("A"))

	// And: background retries converge
	require.NoError(t, e.Await(awaitCtx(t), "A"))
	assert.Equal(t, Consistent, e.State("A").State)
	assert.Equal(t, res.Version, text.Version("A"))
	assert.Equal(t, int64(1), ft.applied.Load())

	hits, err := e.Search(ctx, "sync", 0)
	require.NoError(t, err)
	require.Len(t, hits.Hits, 1)
	assert.Equal(t, "A", hits.Hits[0].ID)

	// And: the token is spent
	err = e.Retry(ctx, res.RetryToken)
	assert.Equal(t, ngerrors.ErrCodeUnknownToken, ngerrors.GetCode(err))
}

func TestEngine_DegradedDelete(t *testing.T) {
	ctx := context.Background()
	g := graph.New()
	fg := &flakyGraph{inner: g}
	e := newTestEngine(t, testConfig(), WithGraph(g), WithGraphWriter(fg))

	_, err := e.CreateOrUpdatePage(ctx, "A", "see [[B]]")
	require.NoError(t, err)

	// When: the graph fails the delete once
	fg.budget.Store(1)
	res, err := e.Apply(ctx, Delete("A"))
	assert.ErrorIs(t, err, ngerrors.ErrDegraded)
	assert.True(t, res.Deleted)
	assert.Equal(t, []Side{SideGraph}, res.Stale)

	// Then: the text side is already gone, the graph catches up
	assert.Zero(t, e.TextIndex().Version("A"))
	require.NoError(t, e.Await(awaitCtx(t), "A"))
	assert.Empty(t, g.Backlinks("B"))
	assert.Equal(t, Absent, e.State("A").State)
}

// TS03: Exhausted retries leave the page Inconsistent until retried
func TestEngine_InconsistentThenRetry(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Retry.MaxRetries = 2
	text := textindex.New()
	ft := &flakyText{inner: text}
	ft.budget.Store(-1)
	e := newTestEngine(t, cfg, WithTextIndex(text), WithTextWriter(ft))

	res, err := e.Apply(ctx, Put("p", "stubborn text"))
	require.ErrorIs(t, err, ngerrors.ErrDegraded)

	// When: every retry fails
	err = e.Await(awaitCtx(t), "p")

	// Then: the page is Inconsistent
	require.Error(t, err)
	assert.ErrorIs(t, err, ngerrors.ErrIndexInconsistent)
	st := e.State("p")
	assert.Equal(t, Inconsistent, st.State)
	assert.Equal(t, []Side{SideText}, st.Stale)
	assert.Equal(t, res.RetryToken, st.RetryToken)

	// When: the index recovers and the caller retries with the token
	ft.budget.Store(0)
	require.NoError(t, e.Retry(ctx, res.RetryToken))

	// Then: the page is consistent and searchable
	assert.Equal(t, Consistent, e.State("p").State)
	found, err := e.Search(ctx, "stubborn", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, found.Total)
	assert.Empty(t, e.Pending())
}

func TestEngine_RetryUnknownToken(t *testing.T) {
	e := newTestEngine(t, testConfig())
	err := e.Retry(context.Background(), "no-such-token")
	assert.Equal(t, ngerrors.ErrCodeUnknownToken, ngerrors.GetCode(err))
}

func TestEngine_NewerWriteSupersedesDegraded(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Retry.InitialDelay = time.Hour
	cfg.Retry.MaxDelay = time.Hour
	text := textindex.New()
	ft := &flakyText{inner: text}
	ft.budget.Store(1)
	e := newTestEngine(t, cfg, WithTextIndex(text), WithTextWriter(ft))

	first, err := e.Apply(ctx, Put("p", "first draft"))
	require.ErrorIs(t, err, ngerrors.ErrDegraded)

	// When: a newer version lands before the retry fires
	second, err := e.Apply(ctx, Put("p", "second draft"))
	require.NoError(t, err)

	// Then: the newer version wins and the old token is spent
	assert.Greater(t, second.Version, first.Version)
	assert.Equal(t, Consistent, e.State("p").State)
	require.NoError(t, e.Await(awaitCtx(t), "p"))
	assert.Equal(t, ngerrors.ErrCodeUnknownToken, ngerrors.GetCode(e.Retry(ctx, first.RetryToken)))

	res, err := e.Search(ctx, "first", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestEngine_StaleIndexVersionIsSuccess(t *testing.T) {
	ctx := context.Background()
	text := textindex.New()
	e := newTestEngine(t, testConfig(), WithTextIndex(text))

	// Given: the text index already holds a newer version
	require.NoError(t, text.Index("p", 100, "future"))

	// When: an older version is written
	res, err := e.Apply(ctx, Put("p", "present"))

	// Then: the stale write is discarded, not treated as failure
	require.NoError(t, err)
	assert.Equal(t, Consistent, res.State)
	assert.Equal(t, int64(100), text.Version("p"))
}

func TestEngine_TombstoneReportsDangling(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())

	_, err := e.CreateOrUpdatePage(ctx, "A", "see [[B]] and ![[B]]")
	require.NoError(t, err)
	_, err = e.CreateOrUpdatePage(ctx, "B", "target")
	require.NoError(t, err)

	res, err := e.Apply(ctx, Delete("B"))
	require.NoError(t, err)
	assert.Equal(t, []graph.Edge{
		{Source: "A", Target: "B", Kind: links.KindEmbed},
		{Source: "A", Target: "B", Kind: links.KindLink},
	}, res.Dangling)
}

func TestEngine_CascadeRemovesIncoming(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.DeletePolicy = graph.Cascade
	e := newTestEngine(t, cfg)

	_, err := e.CreateOrUpdatePage(ctx, "A", "see [[B]]")
	require.NoError(t, err)
	_, err = e.CreateOrUpdatePage(ctx, "B", "target")
	require.NoError(t, err)

	res, err := e.Apply(ctx, Delete("B"))
	require.NoError(t, err)
	assert.Empty(t, res.Dangling)
	assert.Empty(t, e.Links("A"))
}

func TestEngine_TraverseGraph(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())
	for id, content := range map[string]string{
		"A": "[[B]]",
		"B": "[[C]]",
		"C": "[[A]]",
	} {
		_, err := e.CreateOrUpdatePage(ctx, id, content)
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		start string
		dir   string
		depth int
		want  []string
	}{
		{"out depth 0", "A", "out", 0, []string{"A"}},
		{"out depth 1", "A", "out", 1, []string{"A", "B"}},
		{"out cycle terminates", "A", "out", 10, []string{"A", "B", "C"}},
		{"in", "C", "in", 10, []string{"C", "B", "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, truncated, err := e.TraverseGraph(ctx, tt.start, tt.dir, tt.depth)
			require.NoError(t, err)
			assert.False(t, truncated)
			assert.Equal(t, tt.want, ids)
		})
	}

	cycle, err := e.FindCycle(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, cycle)
}

func TestEngine_TraverseGraph_Errors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())
	_, err := e.CreateOrUpdatePage(ctx, "A", "text")
	require.NoError(t, err)

	_, _, err = e.TraverseGraph(ctx, "A", "sideways", 1)
	assert.Equal(t, ngerrors.ErrCodeInvalidDirection, ngerrors.GetCode(err))

	_, _, err = e.TraverseGraph(ctx, "missing", "out", 1)
	assert.ErrorIs(t, err, ngerrors.ErrNotFound)

	_, _, err = e.TraverseGraph(ctx, "A", "out", -1)
	assert.Equal(t, ngerrors.ErrCodeInvalidInput, ngerrors.GetCode(err))
}

func TestEngine_SearchLimits(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.DefaultLimit = 5
	cfg.MaxLimit = 8
	e := newTestEngine(t, cfg)
	for i := range 12 {
		_, err := e.CreateOrUpdatePage(ctx, fmt.Sprintf("p%02d", i), "common words")
		require.NoError(t, err)
	}

	res, err := e.Search(ctx, "common", 0)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 5)
	assert.Equal(t, 12, res.Total)

	res, err = e.Search(ctx, "common", 100)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 8)

	res, err = e.Search(ctx, "common absent", 0)
	require.NoError(t, err)
	assert.NotNil(t, res.Hits)
	assert.Empty(t, res.Hits)
}

func TestEngine_ConcurrentDistinctPages(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())

	const writers, pages = 8, 25
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range pages {
				id := fmt.Sprintf("w%d-p%d", w, i)
				_, err := e.CreateOrUpdatePage(ctx, id, "links to [[hub]] shared")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	bl, err := e.GetBacklinks(ctx, "hub")
	require.NoError(t, err)
	assert.Len(t, bl, writers*pages)

	res, err := e.Search(ctx, "shared", 1000)
	require.NoError(t, err)
	assert.Equal(t, writers*pages, res.Total)
}

// TS04: Concurrent writes to one id leave both indices on the stored version
func TestEngine_ConcurrentSameID(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())
	words := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel"}

	var wg sync.WaitGroup
	for _, w := range words {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.CreateOrUpdatePage(ctx, "shared", w+" [["+w+"-target]]")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := e.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, p.Version, e.TextIndex().Version("shared"))
	assert.Equal(t, p.Version, e.Graph().Version("shared"))

	winner := strings.Fields(p.Content)[0]
	for _, w := range words {
		res, err := e.Search(ctx, w, 0)
		require.NoError(t, err)
		bl, err := e.GetBacklinks(ctx, w+"-target")
		require.NoError(t, err)
		if w == winner {
			assert.Equal(t, 1, res.Total, w)
			assert.Equal(t, []string{"shared"}, bl)
		} else {
			assert.Zero(t, res.Total, w)
			assert.Empty(t, bl, w)
		}
	}
}

func TestEngine_ApplyBatch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())

	results, err := e.ApplyBatch(ctx, []Mutation{
		Put("a", "first"),
		Put("b", "bee [[a]]"),
		Put("a", "second"),
		Delete("a"),
		Delete("missing"),
	})
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Less(t, results[0].Version, results[2].Version)
	assert.Less(t, results[2].Version, results[3].Version)
	assert.True(t, results[3].Deleted)
	assert.ErrorIs(t, results[4].Err, ngerrors.ErrNotFound)
	for _, i := range []int{0, 1, 2, 3} {
		assert.NoError(t, results[i].Err)
	}

	_, err = e.Get(ctx, "a")
	assert.ErrorIs(t, err, ngerrors.ErrNotFound)
	assert.Equal(t, Consistent, e.State("b").State)
}

func TestEngine_ApplyBatch_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newTestEngine(t, testConfig())

	results, err := e.ApplyBatch(ctx, []Mutation{Put("a", "x")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestEngine_Rebuild(t *testing.T) {
	ctx := context.Background()
	store := page.NewMemoryStore()
	for i := range 20 {
		_, err := store.Put(ctx, fmt.Sprintf("n%02d", i), "rebuild text [[root]]", nil)
		require.NoError(t, err)
	}
	e, err := New(store, testConfig(), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer e.Close()

	// Given: an orphan the store does not know
	require.NoError(t, e.TextIndex().Index("orphan", 1, "rebuild"))

	var calls atomic.Int64
	stats, err := e.Rebuild(ctx, func(done, total int) {
		calls.Add(1)
		assert.Equal(t, 20, total)
	})
	require.NoError(t, err)

	assert.Equal(t, 20, stats.Pages)
	assert.Equal(t, 1, stats.Purged)
	assert.Equal(t, int64(20), calls.Load())

	bl, err := e.GetBacklinks(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, bl, 20)
	res, err := e.Search(ctx, "rebuild", 100)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Total)
}

func TestEngine_CheckAndRepair(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Retry.MaxRetries = 0
	text := textindex.New()
	ft := &flakyText{inner: text}
	e := newTestEngine(t, cfg, WithTextIndex(text), WithTextWriter(ft))

	_, err := e.CreateOrUpdatePage(ctx, "good", "fine")
	require.NoError(t, err)

	// Given: one page missing from the text index and one orphan
	ft.budget.Store(-1)
	_, err = e.CreateOrUpdatePage(ctx, "bad", "lost words")
	require.ErrorIs(t, err, ngerrors.ErrDegraded)
	require.ErrorIs(t, e.Await(awaitCtx(t), "bad"), ngerrors.ErrIndexInconsistent)
	require.NoError(t, text.Index("ghost", 3, "boo"))

	// When: checked
	report, err := e.Check(ctx)
	require.NoError(t, err)

	// Then: both problems are reported
	assert.False(t, report.OK())
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, []Issue{
		{ID: "bad", Side: SideText, Kind: IssueMissing, StoreVersion: 1},
		{ID: "ghost", Side: SideText, Kind: IssueOrphaned, IndexVersion: 3},
	}, report.Issues)
	require.Len(t, report.Pending, 1)
	assert.Equal(t, Inconsistent, report.Pending[0].State)

	// When: the index recovers and repair runs
	ft.budget.Store(0)
	stats, err := e.Repair(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, RepairStats{Reindexed: 1, Purged: 1}, stats)

	// Then: a second check is clean
	report, err = e.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestEngine_Render(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig())
	_, err := e.CreateOrUpdatePage(ctx, "A", "# Title\n\nsee [[B]]")
	require.NoError(t, err)

	html, err := e.Render(ctx, "A", "html")
	require.NoError(t, err)
	assert.Contains(t, html, `href="B.html"`)

	_, err = e.Render(ctx, "A", "Not A Format")
	assert.Equal(t, ngerrors.ErrCodeInvalidFormat, ngerrors.GetCode(err))

	_, err = e.Render(ctx, "missing", "html")
	assert.ErrorIs(t, err, ngerrors.ErrNotFound)
}

func TestEngine_RecordsQueryTelemetry(t *testing.T) {
	ctx := context.Background()
	m := telemetry.NewQueryMetrics(nil, telemetry.Config{})
	e := newTestEngine(t, testConfig(), WithMetrics(m))
	_, err := e.CreateOrUpdatePage(ctx, "A", "telemetry words [[B]]")
	require.NoError(t, err)

	_, err = e.Search(ctx, "telemetry", 0)
	require.NoError(t, err)
	_, err = e.Search(ctx, "nothing", 0)
	require.NoError(t, err)
	_, err = e.GetBacklinks(ctx, "B")
	require.NoError(t, err)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Total)
	assert.Equal(t, int64(2), snap.Kinds[telemetry.KindSearch])
	assert.Equal(t, []string{"nothing"}, snap.ZeroResultQueries)
}

func TestEngine_Closed(t *testing.T) {
	e, err := New(page.NewMemoryStore(), testConfig(), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Apply(context.Background(), Put("p", "x"))
	assert.ErrorIs(t, err, ngerrors.ErrClosed)
}

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	k := newKeyedMutex()
	var counter int
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("x")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.Len())
}

func TestState_String(t *testing.T) {
	text, err := Degraded.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "degraded", string(text))
	assert.Equal(t, "unknown", State(42).String())
}
