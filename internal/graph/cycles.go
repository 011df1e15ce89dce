package graph

import (
	"context"
	"sort"
)

// Cycle is one strongly connected component containing a cycle. Members are
// sorted by identifier so output is deterministic across runs on identical
// input. A component is reported once, not once per edge.
type Cycle struct {
	Members []EntityID `json:"members"`
}

// FindCycles decomposes the graph into strongly connected components using
// Tarjan's algorithm (iterative, so deep graphs don't overflow the stack) and
// returns the components that contain a cycle: size >= 2, or a single entity
// with a self-edge. Circular dependencies are reported as structure, never
// treated as an error.
func (g *Graph) FindCycles(ctx context.Context) ([]Cycle, error) {
	index := make(map[EntityID]int, len(g.entities))
	lowlink := make(map[EntityID]int, len(g.entities))
	onStack := make(map[EntityID]bool, len(g.entities))
	var stack []EntityID
	var cycles []Cycle
	counter := 0

	// Deterministic start order.
	roots := make([]EntityID, 0, len(g.entities))
	for id := range g.entities {
		roots = append(roots, id)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	type frame struct {
		id       EntityID
		edgeIdx  int
		children []EntityID
	}

	for _, root := range roots {
		if _, seen := index[root]; seen {
			continue
		}
		callStack := []frame{{id: root, children: g.resolvedTargets(root)}}
		index[root] = counter
		lowlink[root] = counter
		counter++
		stack = append(stack, root)
		onStack[root] = true

		for len(callStack) > 0 {
			if err := ctx.Err(); err != nil {
				return cycles, err
			}
			top := &callStack[len(callStack)-1]
			if top.edgeIdx < len(top.children) {
				child := top.children[top.edgeIdx]
				top.edgeIdx++
				if _, seen := index[child]; !seen {
					index[child] = counter
					lowlink[child] = counter
					counter++
					stack = append(stack, child)
					onStack[child] = true
					callStack = append(callStack, frame{id: child, children: g.resolvedTargets(child)})
				} else if onStack[child] {
					if index[child] < lowlink[top.id] {
						lowlink[top.id] = index[child]
					}
				}
				continue
			}

			// All children done: pop the frame.
			v := top.id
			callStack = callStack[:len(callStack)-1]
			if len(callStack) > 0 {
				parent := &callStack[len(callStack)-1]
				if lowlink[v] < lowlink[parent.id] {
					lowlink[parent.id] = lowlink[v]
				}
			}
			if lowlink[v] == index[v] {
				var members []EntityID
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					members = append(members, w)
					if w == v {
						break
					}
				}
				if len(members) > 1 || g.hasSelfEdge(v) {
					sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
					cycles = append(cycles, Cycle{Members: members})
				}
			}
		}
	}

	sort.Slice(cycles, func(i, j int) bool { return cycles[i].Members[0] < cycles[j].Members[0] })
	return cycles, nil
}

// resolvedTargets returns the distinct in-graph targets of an entity's
// outgoing edges. External targets have no entity and cannot participate in a
// repository-internal cycle.
func (g *Graph) resolvedTargets(id EntityID) []EntityID {
	edges := g.forward[id]
	if len(edges) == 0 {
		return nil
	}
	seen := make(map[EntityID]bool, len(edges))
	var out []EntityID
	for _, e := range edges {
		if seen[e.Target] {
			continue
		}
		if _, ok := g.entities[e.Target]; !ok {
			continue
		}
		seen[e.Target] = true
		out = append(out, e.Target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Graph) hasSelfEdge(id EntityID) bool {
	for _, e := range g.forward[id] {
		if e.Target == id {
			return true
		}
	}
	return false
}
