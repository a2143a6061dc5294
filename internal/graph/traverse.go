package graph

import (
	"context"
	"iter"
	"slices"
	"sort"
	"strings"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

// Direction selects which edges a traversal follows.
type Direction int

const (
	// Out follows outgoing references.
	Out Direction = iota
	// In follows backlinks.
	In
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// ParseDirection parses "out" or "in".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "out", "":
		return Out, nil
	case "in":
		return In, nil
	}
	return Out, ngerrors.Newf(ngerrors.ErrCodeInvalidDirection, "invalid direction %q", s).
		WithSuggestion("Use \"out\" or \"in\"")
}

// Traversal is a lazy breadth-first walk. Each call to All starts a new walk.
type Traversal struct {
	g         *Graph
	ctx       context.Context
	start     string
	dir       Direction
	maxDepth  int
	truncated bool
}

// Traverse prepares a breadth-first walk from start, following dir, visiting
// pages up to maxDepth hops away. start itself is yielded first at depth 0.
// Each page is yielded at most once. Tombstoned pages are skipped.
func (g *Graph) Traverse(ctx context.Context, start string, dir Direction, maxDepth int) *Traversal {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Traversal{g: g, ctx: ctx, start: start, dir: dir, maxDepth: maxDepth}
}

// Truncated reports whether the last walk stopped early because the context
// was done.
func (t *Traversal) Truncated() bool {
	return t.truncated
}

// All yields page ids in breadth-first order.
func (t *Traversal) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		t.truncated = false
		visited := map[string]struct{}{t.start: {}}
		frontier := []string{t.start}

		for depth := 0; len(frontier) > 0; depth++ {
			var next []string
			for _, id := range frontier {
				if t.ctx.Err() != nil {
					t.truncated = true
					return
				}
				if !yield(id) {
					return
				}
				if depth == t.maxDepth {
					continue
				}
				for _, nb := range t.g.neighbors(id, t.dir) {
					if _, seen := visited[nb]; seen {
						continue
					}
					visited[nb] = struct{}{}
					next = append(next, nb)
				}
			}
			frontier = next
		}
	}
}

// Collect runs the walk and returns all ids.
func (t *Traversal) Collect() []string {
	return slices.Collect(t.All())
}

// neighbors returns the distinct adjacent page ids of id in id order,
// excluding tombstoned pages.
func (g *Graph) neighbors(id string, dir Direction) []string {
	var ids []string
	s := g.shardOf(id)
	s.mu.RLock()
	if n, ok := s.nodes[id]; ok {
		if dir == Out {
			for i, r := range n.out {
				if i > 0 && n.out[i-1].Target == r.Target {
					continue
				}
				ids = append(ids, r.Target)
			}
		} else if !n.deleted {
			for src := range n.in {
				ids = append(ids, src)
			}
			sort.Strings(ids)
		}
	}
	s.mu.RUnlock()

	if dir == In {
		return ids
	}
	return slices.DeleteFunc(ids, g.isDeleted)
}

func (g *Graph) isDeleted(id string) bool {
	s := g.shardOf(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return ok && n.deleted
}

// FindCycle returns a cycle through start as a path [start, ..., x] where x
// references start, or nil if start is not on a cycle. The search follows
// outgoing edges depth-first and stops when ctx is done.
func (g *Graph) FindCycle(ctx context.Context, start string) []string {
	type frame struct {
		id   string
		next []string
		pos  int
	}

	visited := map[string]struct{}{start: {}}
	stack := []*frame{{id: start, next: g.neighbors(start, Out)}}

	for len(stack) > 0 {
		if ctx.Err() != nil {
			return nil
		}
		top := stack[len(stack)-1]
		if top.pos >= len(top.next) {
			stack = stack[:len(stack)-1]
			continue
		}
		nb := top.next[top.pos]
		top.pos++

		if nb == start {
			path := make([]string, len(stack))
			for i, f := range stack {
				path[i] = f.id
			}
			return path
		}
		if _, seen := visited[nb]; seen {
			continue
		}
		visited[nb] = struct{}{}
		stack = append(stack, &frame{id: nb, next: g.neighbors(nb, Out)})
	}
	return nil
}
