// Package query is the read-only view over a published snapshot. Every
// operation takes a context and is bounded; hitting a bound is reported
// explicitly, never silently truncated.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/weft-tools/loupe/internal/engine"
	"github.com/weft-tools/loupe/internal/graph"
)

// ErrNoSnapshot means the facade was asked to query before any build.
var ErrNoSnapshot = errors.New("no snapshot available")

// DefaultMaxDepth bounds traversals when the caller passes no depth.
const DefaultMaxDepth = 64

// DefaultMaxPaths bounds path enumeration when the caller passes no cap.
const DefaultMaxPaths = 1000

// Facade answers graph questions against one immutable snapshot. A facade is
// cheap; make a new one per snapshot rather than swapping state.
type Facade struct {
	snap *engine.Snapshot
}

// New wraps a snapshot. Passing nil yields a facade whose operations return
// ErrNoSnapshot.
func New(snap *engine.Snapshot) *Facade {
	return &Facade{snap: snap}
}

func (f *Facade) graphOrErr() (*graph.Graph, error) {
	if f.snap == nil || f.snap.Graph == nil {
		return nil, ErrNoSnapshot
	}
	return f.snap.Graph, nil
}

// Entity returns an entity by ID.
func (f *Facade) Entity(id graph.EntityID) (graph.Entity, error) {
	g, err := f.graphOrErr()
	if err != nil {
		return graph.Entity{}, err
	}
	ent, ok := g.Entity(id)
	if !ok {
		return graph.Entity{}, fmt.Errorf("entity %s: %w", id, graph.ErrEntityNotFound)
	}
	return ent, nil
}

// Find returns entities matching a name: exact qualified-name matches first,
// then exact simple-name matches, each sorted by ID.
func (f *Facade) Find(name string) ([]graph.Entity, error) {
	g, err := f.graphOrErr()
	if err != nil {
		return nil, err
	}
	var qualified, simple []graph.Entity
	for _, ent := range g.Entities() {
		switch {
		case ent.QualifiedName == name:
			qualified = append(qualified, ent)
		case ent.Name == name:
			simple = append(simple, ent)
		}
	}
	return append(qualified, simple...), nil
}

// Dependencies returns the tree of entities reachable from id via outgoing
// edges, depth-bounded.
func (f *Facade) Dependencies(ctx context.Context, id graph.EntityID, maxDepth int) (*graph.Tree, error) {
	g, err := f.graphOrErr()
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return g.Dependencies(ctx, id, maxDepth)
}

// Dependents returns the tree of entities that reach id via incoming edges,
// depth-bounded.
func (f *Facade) Dependents(ctx context.Context, id graph.EntityID, maxDepth int) (*graph.Tree, error) {
	g, err := f.graphOrErr()
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return g.Dependents(ctx, id, maxDepth)
}

// Cycles returns one entry per strongly connected component with a cycle.
func (f *Facade) Cycles(ctx context.Context) ([]graph.Cycle, error) {
	g, err := f.graphOrErr()
	if err != nil {
		return nil, err
	}
	return g.FindCycles(ctx)
}

// Path is one route through the graph.
type Path struct {
	Nodes []graph.EntityID `json:"nodes"`
}

func (p Path) String() string {
	parts := make([]string, len(p.Nodes))
	for i, id := range p.Nodes {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}

// PathResult is the outcome of a path query. Incomplete is set when a depth
// or path-count budget stopped the search before it was exhaustive; the
// accompanying diagnostic says which.
type PathResult struct {
	Paths       []Path
	Incomplete  bool
	Diagnostics []engine.Diagnostic
}

// ShortestPath returns a minimum-hop path from a to b following outgoing
// edges, or an empty result when none exists within maxDepth.
func (f *Facade) ShortestPath(ctx context.Context, a, b graph.EntityID, maxDepth int) (*PathResult, error) {
	g, err := f.graphOrErr()
	if err != nil {
		return nil, err
	}
	if _, ok := g.Entity(a); !ok {
		return nil, fmt.Errorf("entity %s: %w", a, graph.ErrEntityNotFound)
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	type hop struct {
		id    graph.EntityID
		depth int
	}
	parent := map[graph.EntityID]graph.EntityID{a: a}
	queue := []hop{{id: a, depth: 0}}
	found := false
	deepest := 0

	for len(queue) > 0 && !found {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]
		if cur.depth > deepest {
			deepest = cur.depth
		}
		if cur.id == b {
			found = true
			break
		}
		if cur.depth == maxDepth {
			continue
		}
		for _, edge := range g.OutEdges(cur.id) {
			if _, seen := parent[edge.Target]; seen {
				continue
			}
			if _, ok := g.Entity(edge.Target); !ok {
				continue
			}
			parent[edge.Target] = cur.id
			queue = append(queue, hop{id: edge.Target, depth: cur.depth + 1})
		}
	}

	res := &PathResult{}
	if !found {
		if deepest >= maxDepth {
			res.Incomplete = true
			res.Diagnostics = append(res.Diagnostics, budgetDiag(
				fmt.Sprintf("shortest-path search from %s stopped at depth %d", a, maxDepth)))
		}
		return res, nil
	}

	var nodes []graph.EntityID
	for cur := b; ; cur = parent[cur] {
		nodes = append(nodes, cur)
		if cur == a {
			break
		}
	}
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	res.Paths = []Path{{Nodes: nodes}}
	return res, nil
}

// AllPaths enumerates the simple paths from a to b up to maxDepth hops,
// stopping after maxPaths. Hitting either bound marks the result incomplete
// with a TraversalBudgetExceeded diagnostic.
func (f *Facade) AllPaths(ctx context.Context, a, b graph.EntityID, maxDepth, maxPaths int) (*PathResult, error) {
	g, err := f.graphOrErr()
	if err != nil {
		return nil, err
	}
	if _, ok := g.Entity(a); !ok {
		return nil, fmt.Errorf("entity %s: %w", a, graph.ErrEntityNotFound)
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxPaths <= 0 {
		maxPaths = DefaultMaxPaths
	}

	res := &PathResult{}
	onPath := map[graph.EntityID]bool{a: true}
	stack := []graph.EntityID{a}

	var walk func() error
	walk = func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := stack[len(stack)-1]
		if cur == b {
			res.Paths = append(res.Paths, Path{Nodes: append([]graph.EntityID(nil), stack...)})
			if len(res.Paths) >= maxPaths {
				res.Incomplete = true
			}
			return nil
		}
		if len(stack)-1 >= maxDepth {
			res.Incomplete = true
			return nil
		}
		// Parallel edges (several call sites between one pair) reach the
		// same successor; each node-path is enumerated once.
		visited := make(map[graph.EntityID]bool)
		for _, edge := range g.OutEdges(cur) {
			if res.Incomplete && len(res.Paths) >= maxPaths {
				return nil
			}
			if onPath[edge.Target] || visited[edge.Target] {
				continue
			}
			if _, ok := g.Entity(edge.Target); !ok {
				continue
			}
			visited[edge.Target] = true
			onPath[edge.Target] = true
			stack = append(stack, edge.Target)
			if err := walk(); err != nil {
				return err
			}
			stack = stack[:len(stack)-1]
			delete(onPath, edge.Target)
		}
		return nil
	}
	if err := walk(); err != nil {
		return nil, err
	}

	if res.Incomplete {
		res.Diagnostics = append(res.Diagnostics, budgetDiag(
			fmt.Sprintf("path enumeration %s -> %s stopped at depth %d / %d paths", a, b, maxDepth, maxPaths)))
	}
	sort.Slice(res.Paths, func(i, j int) bool {
		if len(res.Paths[i].Nodes) != len(res.Paths[j].Nodes) {
			return len(res.Paths[i].Nodes) < len(res.Paths[j].Nodes)
		}
		return res.Paths[i].String() < res.Paths[j].String()
	})
	return res, nil
}

func budgetDiag(msg string) engine.Diagnostic {
	return engine.Diagnostic{
		Kind:    engine.DiagTraversalBudgetExceeded,
		Message: msg,
	}
}
