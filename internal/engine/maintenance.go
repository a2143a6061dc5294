package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/graph"
	"github.com/Aman-CERP/notegraph/internal/links"
	"github.com/Aman-CERP/notegraph/internal/page"
	"github.com/Aman-CERP/notegraph/internal/textindex"
)

// ProgressFunc receives rebuild progress. It may be called concurrently.
type ProgressFunc func(done, total int)

// RebuildStats summarizes a rebuild.
type RebuildStats struct {
	Pages    int           `json:"pages"`
	Degraded int           `json:"degraded"`
	Purged   int           `json:"purged"`
	Duration time.Duration `json:"duration"`
}

// Rebuild re-derives both indices from the page store. Pages are indexed by
// a pool of Config.Workers goroutines. Index entries for ids the store no
// longer has are purged. progress may be nil.
func (e *Engine) Rebuild(ctx context.Context, progress ProgressFunc) (RebuildStats, error) {
	if e.isClosed() {
		return RebuildStats{}, ngerrors.ErrClosed
	}
	began := time.Now()

	summaries, err := e.store.List(ctx)
	if err != nil {
		return RebuildStats{}, err
	}
	total := len(summaries)
	live := make(map[string]struct{}, total)
	for _, s := range summaries {
		live[s.ID] = struct{}{}
	}

	var done, degraded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)

	err = e.store.Scan(gctx, func(p *page.Page) error {
		id, version, content := p.ID, p.Version, p.Content
		live[id] = struct{}{}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			unlock := e.locks.Lock(id)
			_, err := e.reindexLocked(id, version, content)
			unlock()
			if errors.Is(err, ngerrors.ErrDegraded) {
				degraded.Add(1)
			} else if err != nil {
				return err
			}
			n := done.Add(1)
			if progress != nil {
				progress(int(n), total)
			}
			return nil
		})
		return nil
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return RebuildStats{}, err
	}

	purged := e.purgeOrphans(live)
	stats := RebuildStats{
		Pages:    int(done.Load()),
		Degraded: int(degraded.Load()),
		Purged:   purged,
		Duration: time.Since(began),
	}
	e.logger.Info("rebuild_complete",
		slog.Int("pages", stats.Pages),
		slog.Int("degraded", stats.Degraded),
		slog.Int("purged", stats.Purged),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// reindexLocked writes (id, version, content) to both indices, discarding any
// index state above version. The id lock must be held.
func (e *Engine) reindexLocked(id string, version int64, content string) (Result, error) {
	if e.graph.Version(id) > version {
		e.graph.Purge(id)
	}
	if v := e.text.Version(id); v > version {
		e.text.Purge(id)
	}

	extracted := links.Extract(content)
	ent := newEntry(Writing, version)
	ent.content = content
	ent.refs = extracted.Refs
	ent.pendingGraph = true
	ent.pendingText = true
	e.replaceEntry(id, ent)

	e.syncEntry(id, ent)
	return e.finish(id, ent, Result{ID: id, Version: version, Warnings: extracted.Warnings})
}

// purgeOrphans removes index entries whose id is not in live.
func (e *Engine) purgeOrphans(live map[string]struct{}) int {
	orphans := make(map[string]struct{})
	for id := range e.graph.Versions() {
		if _, ok := live[id]; !ok {
			orphans[id] = struct{}{}
		}
	}
	for id := range e.text.Versions() {
		if _, ok := live[id]; !ok {
			orphans[id] = struct{}{}
		}
	}
	for id := range orphans {
		unlock := e.locks.Lock(id)
		e.purgeLocked(id)
		unlock()
	}
	return len(orphans)
}

func (e *Engine) purgeLocked(id string) {
	e.graph.Purge(id)
	e.text.Purge(id)
	e.mu.Lock()
	if ent, ok := e.entries[id]; ok {
		e.dropLocked(id, ent)
	}
	e.mu.Unlock()
	e.logger.Debug("index_entry_purged", slog.String("page_id", id))
}

// IssueKind classifies a consistency problem.
type IssueKind string

const (
	// IssueMissing: the store has the page, the index does not.
	IssueMissing IssueKind = "missing"
	// IssueStale: the index holds a different version than the store.
	IssueStale IssueKind = "stale"
	// IssueOrphaned: the index holds a page the store does not.
	IssueOrphaned IssueKind = "orphaned"
)

// Issue is one mismatch between the page store and an index.
type Issue struct {
	ID           string    `json:"id"`
	Side         Side      `json:"index"`
	Kind         IssueKind `json:"kind"`
	StoreVersion int64     `json:"store_version,omitempty"`
	IndexVersion int64     `json:"index_version,omitempty"`
}

// Report is the result of Check.
type Report struct {
	Pages   int         `json:"pages"`
	Issues  []Issue     `json:"issues"`
	Pending []PageState `json:"pending,omitempty"`
}

// OK reports whether no problems were found.
func (r Report) OK() bool {
	return len(r.Issues) == 0 && len(r.Pending) == 0
}

// Check compares the page store with both indices. Ids with in-flight
// mutations may be reported; run Check on a quiescent engine for an exact
// answer.
func (e *Engine) Check(ctx context.Context) (Report, error) {
	summaries, err := e.store.List(ctx)
	if err != nil {
		return Report{}, err
	}
	stored := make(map[string]int64, len(summaries))
	for _, s := range summaries {
		stored[s.ID] = s.Version
	}

	report := Report{Pages: len(summaries), Pending: e.Pending()}
	compare := func(side Side, indexed map[string]int64) {
		for id, sv := range stored {
			iv, ok := indexed[id]
			switch {
			case !ok:
				report.Issues = append(report.Issues, Issue{ID: id, Side: side, Kind: IssueMissing, StoreVersion: sv})
			case iv != sv:
				report.Issues = append(report.Issues, Issue{ID: id, Side: side, Kind: IssueStale, StoreVersion: sv, IndexVersion: iv})
			}
		}
		for id, iv := range indexed {
			if _, ok := stored[id]; !ok {
				report.Issues = append(report.Issues, Issue{ID: id, Side: side, Kind: IssueOrphaned, IndexVersion: iv})
			}
		}
	}
	compare(SideGraph, e.graph.Versions())
	compare(SideText, e.text.Versions())

	slices.SortFunc(report.Issues, func(a, b Issue) int {
		if c := strings.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return strings.Compare(string(a.Side), string(b.Side))
	})
	if report.Issues == nil {
		report.Issues = []Issue{}
	}
	return report, nil
}

// RepairStats summarizes a repair.
type RepairStats struct {
	Reindexed int `json:"reindexed"`
	Purged    int `json:"purged"`
	Failed    int `json:"failed"`
}

// Repair fixes every id named in report by re-reading it from the page store:
// stored pages are reindexed, vanished ones purged from both indices.
func (e *Engine) Repair(ctx context.Context, report Report) (RepairStats, error) {
	if e.isClosed() {
		return RepairStats{}, ngerrors.ErrClosed
	}
	ids := make([]string, 0, len(report.Issues)+len(report.Pending))
	for _, is := range report.Issues {
		ids = append(ids, is.ID)
	}
	for _, ps := range report.Pending {
		ids = append(ids, ps.ID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var stats RepairStats
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		purged, err := e.repairOne(ctx, id)
		switch {
		case err != nil:
			stats.Failed++
			e.logger.Warn("repair_failed",
				slog.String("page_id", id),
				slog.String("error", err.Error()))
		case purged:
			stats.Purged++
		default:
			stats.Reindexed++
		}
	}
	e.logger.Info("repair_complete",
		slog.Int("reindexed", stats.Reindexed),
		slog.Int("purged", stats.Purged),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

func (e *Engine) repairOne(ctx context.Context, id string) (purged bool, err error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.store.Get(ctx, id)
	if errors.Is(err, ngerrors.ErrNotFound) {
		e.purgeLocked(id)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	_, err = e.reindexLocked(id, p.Version, p.Content)
	return false, err
}

// Stats summarizes the engine.
type Stats struct {
	Graph   graph.Stats     `json:"graph"`
	Text    textindex.Stats `json:"text"`
	Pending int             `json:"pending"`
}

// Stats returns index sizes and the number of ids with pending index work.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	pending := len(e.entries)
	e.mu.Unlock()
	return Stats{
		Graph:   e.graph.Stats(),
		Text:    e.text.Stats(),
		Pending: pending,
	}
}
