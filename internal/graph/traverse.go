package graph

import (
	"context"
	"fmt"
)

// TreeNode is one visited entity in a traversal result.
type TreeNode struct {
	ID    EntityID `json:"id"`
	Depth int      `json:"depth"`
}

// Tree is the result of a depth-bounded dependency or dependent traversal.
// Nodes are recorded in visit order (breadth-first); Edges lists the edges
// crossed to reach them.
type Tree struct {
	Root  EntityID   `json:"root"`
	Nodes []TreeNode `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

// Dependencies traverses outgoing edges breadth-first from id up to maxDepth
// levels. Visited identifiers are deduplicated, so traversal terminates even
// across cycles. The context is checked at each visited node.
func (g *Graph) Dependencies(ctx context.Context, id EntityID, maxDepth int) (*Tree, error) {
	return g.traverse(ctx, id, maxDepth, g.OutEdges, func(e Edge) EntityID { return e.Target })
}

// Dependents traverses incoming edges breadth-first from id up to maxDepth
// levels, using the reverse adjacency index.
func (g *Graph) Dependents(ctx context.Context, id EntityID, maxDepth int) (*Tree, error) {
	return g.traverse(ctx, id, maxDepth, g.InEdges, func(e Edge) EntityID { return e.Source })
}

func (g *Graph) traverse(ctx context.Context, root EntityID, maxDepth int, adjacent func(EntityID) []Edge, next func(Edge) EntityID) (*Tree, error) {
	if _, ok := g.entities[root]; !ok {
		return nil, fmt.Errorf("traverse from %s: %w", root, ErrEntityNotFound)
	}

	tree := &Tree{Root: root}
	visited := map[EntityID]bool{root: true}

	type item struct {
		id    EntityID
		depth int
	}
	queue := []item{{id: root, depth: 0}}
	tree.Nodes = append(tree.Nodes, TreeNode{ID: root, Depth: 0})

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return tree, err
		}
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, e := range adjacent(cur.id) {
			nid := next(e)
			tree.Edges = append(tree.Edges, e)
			if visited[nid] {
				continue
			}
			// External targets have no entity to descend into but are still
			// reported as leaves.
			visited[nid] = true
			tree.Nodes = append(tree.Nodes, TreeNode{ID: nid, Depth: cur.depth + 1})
			if _, ok := g.entities[nid]; ok {
				queue = append(queue, item{id: nid, depth: cur.depth + 1})
			}
		}
	}
	return tree, nil
}
