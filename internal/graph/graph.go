// Package graph maintains the page reference graph: outgoing edges per page
// and the derived reverse adjacency used for backlinks and traversal.
//
// The index is split into shards by page id. A write locks the shard of the
// page and the shards of every target in its delta, always in ascending shard
// order. Reads take a single shard read lock at a time.
package graph

import (
	"hash/fnv"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/links"
)

// ShardCount is the number of lock shards.
const ShardCount = 32

// DeletePolicy controls what happens to other pages' edges when a page is deleted.
type DeletePolicy string

// Delete policies.
const (
	// Tombstone keeps edges that point at a deleted page and reports them as
	// dangling until their source is re-indexed. They come back to life if
	// the page is recreated.
	Tombstone DeletePolicy = "tombstone"

	// Cascade removes edges to a deleted page from their sources immediately.
	Cascade DeletePolicy = "cascade"
)

// Edge is a directed reference between two pages.
type Edge struct {
	Source string     `json:"source"`
	Target string     `json:"target"`
	Kind   links.Kind `json:"kind"`
}

// kindMask is a bit set of reference kinds.
type kindMask uint8

const (
	maskLink kindMask = 1 << iota
	maskEmbed
)

func maskOf(k links.Kind) kindMask {
	if k == links.KindEmbed {
		return maskEmbed
	}
	return maskLink
}

// backlink is the reverse entry for one source.
type backlink struct {
	kinds kindMask
	// seq is when the source first started referencing this page.
	seq uint64
}

type node struct {
	version int64
	live    bool
	deleted bool
	out     []links.Ref

	// outSeq is the sequence number of the last applied SetEdges.
	outSeq     uint64
	deletedSeq uint64

	in map[string]*backlink
}

// empty reports whether the node carries no state and can be dropped.
func (n *node) empty() bool {
	return !n.live && !n.deleted && n.version == 0 && len(n.out) == 0 && len(n.in) == 0
}

type shard struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

// Graph is the graph index. The zero value is not usable; call New.
type Graph struct {
	shards [ShardCount]*shard
	policy DeletePolicy
	seq    atomic.Uint64
	logger *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithDeletePolicy selects the delete policy. The default is Tombstone.
func WithDeletePolicy(p DeletePolicy) Option {
	return func(g *Graph) {
		if p == Cascade || p == Tombstone {
			g.policy = p
		}
	}
}

// WithLogger sets the logger used for graph events.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates an empty graph index.
func New(opts ...Option) *Graph {
	g := &Graph{policy: Tombstone, logger: slog.Default()}
	for i := range g.shards {
		g.shards[i] = &shard{nodes: make(map[string]*node)}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the configured delete policy.
func (g *Graph) Policy() DeletePolicy {
	return g.policy
}

func shardIndex(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % ShardCount)
}

func (g *Graph) shardOf(id string) *shard {
	return g.shards[shardIndex(id)]
}

// lockShards write-locks the shards for ids in ascending order and returns
// the unlock function.
func (g *Graph) lockShards(ids ...string) func() {
	idx := make([]int, 0, len(ids))
	for _, id := range ids {
		idx = append(idx, shardIndex(id))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)

	for _, i := range idx {
		g.shards[i].mu.Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			g.shards[idx[j]].mu.Unlock()
		}
	}
}

// nodeLocked returns the node for id, creating it. The shard must be locked.
func (g *Graph) nodeLocked(id string) *node {
	s := g.shardOf(id)
	n, ok := s.nodes[id]
	if !ok {
		n = &node{}
		s.nodes[id] = n
	}
	return n
}

// dropIfEmpty removes a node with no remaining state. The shard must be locked.
func (g *Graph) dropIfEmpty(id string) {
	s := g.shardOf(id)
	if n, ok := s.nodes[id]; ok && n.empty() {
		delete(s.nodes, id)
	}
}

// snapshot reads the version and outgoing edges of id under a read lock.
func (g *Graph) snapshot(id string) (out []links.Ref, outSeq uint64, in []string) {
	s := g.shardOf(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, 0, nil
	}
	out = slices.Clone(n.out)
	for src := range n.in {
		in = append(in, src)
	}
	return out, n.outSeq, in
}

// SetEdges replaces the outgoing edges of id with refs at the given version.
// A version at or below the applied one returns a StaleVersion error and
// changes nothing; replaying the applied (id, version, refs) is a no-op.
func (g *Graph) SetEdges(id string, version int64, refs []links.Ref) error {
	next := normalize(refs)

	for {
		old, oldSeq, _ := g.snapshot(id)

		ids := make([]string, 0, 1+len(old)+len(next))
		ids = append(ids, id)
		for _, r := range old {
			ids = append(ids, r.Target)
		}
		for _, r := range next {
			ids = append(ids, r.Target)
		}
		unlock := g.lockShards(ids...)

		n := g.nodeLocked(id)
		if n.outSeq != oldSeq {
			// A concurrent writer changed the edges between snapshot and lock.
			unlock()
			continue
		}

		if n.version >= version {
			same := n.version == version && n.live && slices.Equal(n.out, next)
			applied := n.version
			g.dropIfEmpty(id)
			unlock()
			if same {
				return nil
			}
			return ngerrors.StaleVersion(id, version, applied)
		}

		seq := g.seq.Add(1)
		removed, added := diff(n.out, next)
		for _, r := range removed {
			g.unlinkLocked(id, r)
		}
		for _, r := range added {
			g.linkLocked(id, r, seq)
		}

		n.out = next
		n.version = version
		n.live = true
		n.deleted = false
		n.deletedSeq = 0
		n.outSeq = seq
		unlock()

		g.logger.Debug("graph_edges_set",
			slog.String("page_id", id),
			slog.Int64("version", version),
			slog.Int("added", len(added)),
			slog.Int("removed", len(removed)))
		return nil
	}
}

func (g *Graph) linkLocked(src string, r links.Ref, seq uint64) {
	t := g.nodeLocked(r.Target)
	if t.in == nil {
		t.in = make(map[string]*backlink)
	}
	bl, ok := t.in[src]
	if !ok {
		t.in[src] = &backlink{kinds: maskOf(r.Kind), seq: seq}
		return
	}
	bl.kinds |= maskOf(r.Kind)
}

func (g *Graph) unlinkLocked(src string, r links.Ref) {
	s := g.shardOf(r.Target)
	t, ok := s.nodes[r.Target]
	if !ok {
		return
	}
	if bl, ok := t.in[src]; ok {
		bl.kinds &^= maskOf(r.Kind)
		if bl.kinds == 0 {
			delete(t.in, src)
		}
	}
	g.dropIfEmpty(r.Target)
}

// DeleteReport describes the effect of DeletePage.
type DeleteReport struct {
	ID      string `json:"id"`
	Removed int    `json:"removed_outgoing"`
	// Dangling lists edges from other pages that still point at the deleted
	// page (Tombstone policy).
	Dangling []Edge `json:"dangling,omitempty"`
	// Cascaded counts edges removed from other pages (Cascade policy).
	Cascaded int `json:"cascaded"`
}

// DeletePage removes id as a source and as a backlink target. version is the
// page's tombstone version; an older or equal applied version is a no-op and
// returns StaleVersion, except for an exact replay which returns nil.
func (g *Graph) DeletePage(id string, version int64) (DeleteReport, error) {
	report := DeleteReport{ID: id}

	for {
		old, oldSeq, sources := g.snapshot(id)

		ids := make([]string, 0, 1+len(old)+len(sources))
		ids = append(ids, id)
		for _, r := range old {
			ids = append(ids, r.Target)
		}
		if g.policy == Cascade {
			ids = append(ids, sources...)
		}
		unlock := g.lockShards(ids...)

		n := g.nodeLocked(id)
		if n.outSeq != oldSeq || (g.policy == Cascade && !sameKeys(n.in, sources)) {
			unlock()
			continue
		}

		if n.version >= version {
			replay := n.version == version && n.deleted
			applied := n.version
			g.dropIfEmpty(id)
			unlock()
			if replay {
				return report, nil
			}
			return report, ngerrors.StaleVersion(id, version, applied)
		}

		for _, r := range n.out {
			g.unlinkLocked(id, r)
		}
		report.Removed = len(n.out)

		seq := g.seq.Add(1)
		n.out = nil
		n.live = false
		n.deleted = true
		n.version = version
		n.outSeq = seq
		n.deletedSeq = seq

		srcs := make([]string, 0, len(n.in))
		for src := range n.in {
			srcs = append(srcs, src)
		}
		sort.Strings(srcs)

		if g.policy == Cascade {
			for _, src := range srcs {
				report.Cascaded += g.cascadeLocked(src, id)
			}
			n.in = nil
		} else {
			for _, src := range srcs {
				for _, k := range n.in[src].kinds.kinds() {
					report.Dangling = append(report.Dangling, Edge{Source: src, Target: id, Kind: k})
				}
			}
		}
		unlock()

		g.logger.Debug("graph_page_deleted",
			slog.String("page_id", id),
			slog.Int64("version", version),
			slog.String("policy", string(g.policy)),
			slog.Int("dangling", len(report.Dangling)),
			slog.Int("cascaded", report.Cascaded))
		return report, nil
	}
}

// cascadeLocked drops every edge src→target from src's outgoing set.
func (g *Graph) cascadeLocked(src, target string) int {
	s := g.shardOf(src)
	n, ok := s.nodes[src]
	if !ok {
		return 0
	}
	kept := n.out[:0:0]
	dropped := 0
	for _, r := range n.out {
		if r.Target == target {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	n.out = kept
	return dropped
}

// Purge forgets everything recorded for id as a source, including its
// applied version, so any later SetEdges is accepted. Edges from other pages
// to id are left alone. Used by repair for entries the page store no longer has.
func (g *Graph) Purge(id string) {
	for {
		old, oldSeq, _ := g.snapshot(id)
		ids := []string{id}
		for _, r := range old {
			ids = append(ids, r.Target)
		}
		unlock := g.lockShards(ids...)

		s := g.shardOf(id)
		n, ok := s.nodes[id]
		if !ok {
			unlock()
			return
		}
		if n.outSeq != oldSeq {
			unlock()
			continue
		}
		for _, r := range n.out {
			g.unlinkLocked(id, r)
		}
		n.out = nil
		n.live = false
		n.deleted = false
		n.version = 0
		n.outSeq = g.seq.Add(1)
		n.deletedSeq = 0
		g.dropIfEmpty(id)
		unlock()
		return
	}
}

// Backlinks returns the pages that reference id, most recently linked first,
// ties broken by id. A deleted page has no backlinks.
func (g *Graph) Backlinks(id string) []string {
	s := g.shardOf(id)
	s.mu.RLock()
	n, ok := s.nodes[id]
	if !ok || n.deleted || len(n.in) == 0 {
		s.mu.RUnlock()
		return nil
	}
	type entry struct {
		id  string
		seq uint64
	}
	entries := make([]entry, 0, len(n.in))
	for src, bl := range n.in {
		entries = append(entries, entry{src, bl.seq})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].seq != entries[j].seq {
			return entries[i].seq > entries[j].seq
		}
		return entries[i].id < entries[j].id
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}

// Edges returns the outgoing edges of id and the version they belong to.
// ok is false if id has no live entry.
func (g *Graph) Edges(id string) (refs []links.Ref, version int64, ok bool) {
	s := g.shardOf(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, found := s.nodes[id]
	if !found || !n.live {
		return nil, 0, false
	}
	return slices.Clone(n.out), n.version, true
}

// Version returns the applied version for id (live or tombstoned), or 0.
func (g *Graph) Version(id string) int64 {
	s := g.shardOf(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[id]; ok {
		return n.version
	}
	return 0
}

// Versions returns the applied version of every live page.
func (g *Graph) Versions() map[string]int64 {
	out := make(map[string]int64)
	for _, s := range g.shards {
		s.mu.RLock()
		for id, n := range s.nodes {
			if n.live {
				out[id] = n.version
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Dangling lists edges that point at a deleted page and whose source has not
// been re-indexed since the delete, sorted by target then source.
func (g *Graph) Dangling() []Edge {
	type tomb struct {
		id      string
		seq     uint64
		sources map[string]kindMask
	}
	var tombs []tomb
	for _, s := range g.shards {
		s.mu.RLock()
		for id, n := range s.nodes {
			if !n.deleted || len(n.in) == 0 {
				continue
			}
			srcs := make(map[string]kindMask, len(n.in))
			for src, bl := range n.in {
				srcs[src] = bl.kinds
			}
			tombs = append(tombs, tomb{id: id, seq: n.deletedSeq, sources: srcs})
		}
		s.mu.RUnlock()
	}

	var out []Edge
	for _, t := range tombs {
		for src, kinds := range t.sources {
			s := g.shardOf(src)
			s.mu.RLock()
			n, ok := s.nodes[src]
			stale := ok && n.outSeq < t.seq
			s.mu.RUnlock()
			if !stale {
				continue
			}
			for _, k := range kinds.kinds() {
				out = append(out, Edge{Source: src, Target: t.id, Kind: k})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Stats summarizes the graph.
type Stats struct {
	Pages      int `json:"pages"`
	Edges      int `json:"edges"`
	Tombstones int `json:"tombstones"`
	Unresolved int `json:"unresolved"`
}

// Stats returns counts over all shards. Unresolved counts referenced ids that
// have never been indexed as a page.
func (g *Graph) Stats() Stats {
	var st Stats
	for _, s := range g.shards {
		s.mu.RLock()
		for _, n := range s.nodes {
			switch {
			case n.live:
				st.Pages++
				st.Edges += len(n.out)
			case n.deleted:
				st.Tombstones++
			case len(n.in) > 0:
				st.Unresolved++
			}
		}
		s.mu.RUnlock()
	}
	return st
}

func (m kindMask) kinds() []links.Kind {
	var out []links.Kind
	if m&maskEmbed != 0 {
		out = append(out, links.KindEmbed)
	}
	if m&maskLink != 0 {
		out = append(out, links.KindLink)
	}
	return out
}

// normalize sorts refs by target then kind and removes duplicates.
func normalize(refs []links.Ref) []links.Ref {
	if len(refs) == 0 {
		return nil
	}
	out := slices.Clone(refs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Kind < out[j].Kind
	})
	return slices.Compact(out)
}

// diff returns the refs only in old and the refs only in next.
// Both inputs must be normalized.
func diff(old, next []links.Ref) (removed, added []links.Ref) {
	i, j := 0, 0
	for i < len(old) && j < len(next) {
		switch c := compareRef(old[i], next[j]); {
		case c == 0:
			i++
			j++
		case c < 0:
			removed = append(removed, old[i])
			i++
		default:
			added = append(added, next[j])
			j++
		}
	}
	removed = append(removed, old[i:]...)
	added = append(added, next[j:]...)
	return removed, added
}

func compareRef(a, b links.Ref) int {
	switch {
	case a.Target < b.Target:
		return -1
	case a.Target > b.Target:
		return 1
	case a.Kind < b.Kind:
		return -1
	case a.Kind > b.Kind:
		return 1
	}
	return 0
}

func sameKeys(m map[string]*backlink, keys []string) bool {
	if len(m) != len(keys) {
		return false
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}
