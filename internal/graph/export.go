package graph

import (
	"encoding/json"
	"io"
	"sort"
)

// Snapshot is a node-link representation of the graph.
type Snapshot struct {
	Directed   bool           `json:"directed"`
	Multigraph bool           `json:"multigraph"`
	Nodes      []SnapshotNode `json:"nodes"`
	Links      []Edge         `json:"links"`
}

// SnapshotNode is one page in a Snapshot.
type SnapshotNode struct {
	ID      string `json:"id"`
	Version int64  `json:"version,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

// Snapshot copies the live graph. Pages that are referenced but not live
// are included with Missing set.
func (g *Graph) Snapshot() Snapshot {
	snap := Snapshot{Directed: true, Multigraph: true}
	missing := make(map[string]struct{})
	live := make(map[string]struct{})

	for _, s := range g.shards {
		s.mu.RLock()
		for id, n := range s.nodes {
			if !n.live {
				continue
			}
			live[id] = struct{}{}
			snap.Nodes = append(snap.Nodes, SnapshotNode{ID: id, Version: n.version})
			for _, r := range n.out {
				snap.Links = append(snap.Links, Edge{Source: id, Target: r.Target, Kind: r.Kind})
				missing[r.Target] = struct{}{}
			}
		}
		s.mu.RUnlock()
	}
	for id := range missing {
		if _, ok := live[id]; !ok {
			snap.Nodes = append(snap.Nodes, SnapshotNode{ID: id, Missing: true})
		}
	}

	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Links, func(i, j int) bool {
		a, b := snap.Links[i], snap.Links[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Kind < b.Kind
	})
	if snap.Nodes == nil {
		snap.Nodes = []SnapshotNode{}
	}
	if snap.Links == nil {
		snap.Links = []Edge{}
	}
	return snap
}

// Export writes the snapshot as indented JSON.
func (g *Graph) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g.Snapshot())
}
