package engine

import (
	"context"
	"errors"
	"time"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/graph"
	"github.com/Aman-CERP/notegraph/internal/links"
	"github.com/Aman-CERP/notegraph/internal/page"
	"github.com/Aman-CERP/notegraph/internal/render"
	"github.com/Aman-CERP/notegraph/internal/telemetry"
	"github.com/Aman-CERP/notegraph/internal/textindex"
)

// CreateOrUpdatePage stores content under id and indexes it. The returned
// version is valid whenever it is non-zero, including alongside a Degraded
// error.
func (e *Engine) CreateOrUpdatePage(ctx context.Context, id, content string) (int64, error) {
	res, err := e.Apply(ctx, Put(id, content))
	return res.Version, err
}

// DeletePage deletes id. It reports false with a NotFound error when id does
// not exist.
func (e *Engine) DeletePage(ctx context.Context, id string) (bool, error) {
	res, err := e.Apply(ctx, Delete(id))
	if err != nil && res.Version == 0 {
		return false, err
	}
	return true, err
}

// GetBacklinks returns the pages that reference id, most recently linked
// first. Unknown ids have no backlinks.
func (e *Engine) GetBacklinks(ctx context.Context, id string) ([]string, error) {
	if err := page.ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	ids := e.graph.Backlinks(id)
	e.record(telemetry.KindBacklinks, id, len(ids), false, start)
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Links returns the outgoing references of id as last indexed.
func (e *Engine) Links(id string) []links.Ref {
	refs, _, _ := e.graph.Edges(id)
	return refs
}

// TraverseGraph walks the graph breadth-first from start along direction
// ("out" or "in"), up to maxDepth hops, and returns visited ids with start
// first. maxDepth is capped at the configured maximum. truncated is set when
// ctx ended before the walk completed.
func (e *Engine) TraverseGraph(ctx context.Context, start, direction string, maxDepth int) ([]string, bool, error) {
	dir, err := graph.ParseDirection(direction)
	if err != nil {
		return nil, false, err
	}
	if maxDepth < 0 {
		return nil, false, ngerrors.ValidationError("max depth must not be negative", nil)
	}
	maxDepth = min(maxDepth, e.config.MaxDepth)
	if err := e.requirePage(ctx, start); err != nil {
		return nil, false, err
	}

	began := time.Now()
	t := e.graph.Traverse(ctx, start, dir, maxDepth)
	ids := t.Collect()
	e.record(telemetry.KindTraverse, start, len(ids), t.Truncated(), began)
	return ids, t.Truncated(), nil
}

// FindCycle returns a reference cycle through id, or nil.
func (e *Engine) FindCycle(ctx context.Context, id string) ([]string, error) {
	if err := e.requirePage(ctx, id); err != nil {
		return nil, err
	}
	return e.graph.FindCycle(ctx, id), nil
}

// requirePage returns NotFound unless id is indexed or stored.
func (e *Engine) requirePage(ctx context.Context, id string) error {
	if err := page.ValidateID(id); err != nil {
		return err
	}
	if _, _, ok := e.graph.Edges(id); ok {
		return nil
	}
	// The graph may lag a Degraded write.
	if _, err := e.store.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// Search runs a ranked AND query. limit <= 0 selects the default limit and
// larger limits are capped. The configured search timeout applies on top of
// ctx; on expiry partial results come back with Truncated set.
func (e *Engine) Search(ctx context.Context, query string, limit int) (textindex.Results, error) {
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	limit = min(limit, e.config.MaxLimit)

	if e.config.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.SearchTimeout)
		defer cancel()
	}

	began := time.Now()
	res, err := e.text.Search(ctx, query, limit)
	if err != nil {
		return res, ngerrors.Wrap(ngerrors.ErrCodeSearchFailed, err)
	}
	if res.Hits == nil {
		res.Hits = []textindex.Hit{}
	}
	e.record(telemetry.KindSearch, query, res.Total, res.Truncated, began)
	return res, nil
}

// Get returns the stored page.
func (e *Engine) Get(ctx context.Context, id string) (*page.Page, error) {
	if err := page.ValidateID(id); err != nil {
		return nil, err
	}
	return e.store.Get(ctx, id)
}

// List returns every live page, sorted by id.
func (e *Engine) List(ctx context.Context) ([]page.Summary, error) {
	return e.store.List(ctx)
}

// Render converts the stored content of id to format. Rendering never
// affects the indices.
func (e *Engine) Render(ctx context.Context, id, format string) (string, error) {
	if err := render.ValidateFormat(format); err != nil {
		return "", err
	}
	p, err := e.Get(ctx, id)
	if err != nil {
		return "", err
	}
	out, err := e.renderer.Render(ctx, p.Content, format)
	if err != nil {
		var ne *ngerrors.NoteError
		if !errors.As(err, &ne) {
			err = ngerrors.New(ngerrors.ErrCodeRenderFailed, "render failed", err).
				WithDetail("page_id", id).
				WithDetail("format", format)
		}
		return "", err
	}
	return out, nil
}

// Metrics returns the query telemetry collector, or nil.
func (e *Engine) Metrics() *telemetry.QueryMetrics { return e.metrics }

func (e *Engine) record(kind telemetry.QueryKind, query string, results int, truncated bool, began time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Kind:      kind,
		Query:     query,
		Results:   results,
		Truncated: truncated,
		Latency:   time.Since(began),
		Timestamp: began,
	})
}
