package graph

import (
	"context"
	"testing"
)

func testEntity(file, name string) Entity {
	return Entity{
		ID:            NewEntityID(file, name),
		Name:          name,
		QualifiedName: name,
		Kind:          EntityKindFunction,
		File:          file,
		Language:      "go",
	}
}

func mustAdd(t *testing.T, g *Graph, entities ...Entity) {
	t.Helper()
	if errs := g.AddEntities(entities); len(errs) > 0 {
		t.Fatalf("add entities: %v", errs)
	}
}

func callEdge(from, to Entity, line int) Edge {
	return Edge{
		Source:     from.ID,
		Target:     to.ID,
		Kind:       EdgeKindCall,
		Site:       Site{File: from.File, Line: line},
		Resolution: ResolutionResolved,
	}
}

func TestAddAndLookup(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	b := testEntity("b.go", "B")
	mustAdd(t, g, a, b)

	if g.EntityCount() != 2 {
		t.Fatalf("expected 2 entities, got %d", g.EntityCount())
	}
	got, ok := g.Entity(a.ID)
	if !ok || got.Name != "A" {
		t.Errorf("lookup failed: %v %v", got, ok)
	}
	ids := g.EntitiesInFile("a.go")
	if len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("file index wrong: %v", ids)
	}
}

func TestIdentifierCollision(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	mustAdd(t, g, a)

	clash := a
	clash.QualifiedName = "other.A"
	errs := g.AddEntities([]Entity{clash})
	if len(errs) != 1 {
		t.Fatalf("expected 1 collision error, got %d", len(errs))
	}
	// First declaration wins.
	got, _ := g.Entity(a.ID)
	if got.QualifiedName != "A" {
		t.Errorf("collision overwrote entity: %q", got.QualifiedName)
	}
}

func TestReverseIndexConsistency(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	b := testEntity("b.go", "B")
	mustAdd(t, g, a, b)

	// Two distinct call sites between the same pair are distinct edges.
	if err := g.AddEdges([]Edge{callEdge(a, b, 3), callEdge(a, b, 9)}); err != nil {
		t.Fatalf("add edges: %v", err)
	}
	if g.EdgeCount() != 2 {
		t.Fatalf("expected 2 edges, got %d", g.EdgeCount())
	}
	if len(g.OutEdges(a.ID)) != 2 {
		t.Errorf("forward adjacency wrong: %v", g.OutEdges(a.ID))
	}
	if len(g.InEdges(b.ID)) != 2 {
		t.Errorf("reverse adjacency wrong: %v", g.InEdges(b.ID))
	}
}

func TestRemoveEntityCascades(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	b := testEntity("b.go", "B")
	c := testEntity("c.go", "C")
	mustAdd(t, g, a, b, c)
	if err := g.AddEdges([]Edge{callEdge(a, b, 1), callEdge(b, c, 2), callEdge(c, b, 3)}); err != nil {
		t.Fatalf("add edges: %v", err)
	}

	if err := g.RemoveEntities([]EntityID{b.ID}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := g.Entity(b.ID); ok {
		t.Error("entity b still present")
	}
	if g.EdgeCount() != 0 {
		t.Errorf("expected all incident edges removed, %d left", g.EdgeCount())
	}
	if len(g.OutEdges(a.ID)) != 0 || len(g.OutEdges(c.ID)) != 0 {
		t.Error("dangling forward edges after cascade")
	}
	if len(g.InEdges(c.ID)) != 0 {
		t.Error("dangling reverse edges after cascade")
	}
}

func TestFrozenRejectsMutation(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	mustAdd(t, g, a)
	g.Freeze()

	if errs := g.AddEntities([]Entity{testEntity("b.go", "B")}); len(errs) != 1 || errs[0] != ErrFrozen {
		t.Errorf("expected ErrFrozen, got %v", errs)
	}
	if err := g.RemoveEntities([]EntityID{a.ID}); err != ErrFrozen {
		t.Errorf("expected ErrFrozen, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	b := testEntity("b.go", "B")
	mustAdd(t, g, a, b)
	if err := g.AddEdges([]Edge{callEdge(a, b, 1)}); err != nil {
		t.Fatalf("add edges: %v", err)
	}
	g.Freeze()

	c := g.Clone()
	if c.Frozen() {
		t.Error("clone should be unfrozen")
	}
	if err := c.RemoveEntities([]EntityID{b.ID}); err != nil {
		t.Fatalf("mutate clone: %v", err)
	}
	if g.EntityCount() != 2 || g.EdgeCount() != 1 {
		t.Error("mutating clone affected original")
	}
}

func TestTraversalTerminatesAcrossCycle(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	b := testEntity("b.go", "B")
	c := testEntity("c.go", "C")
	mustAdd(t, g, a, b, c)
	if err := g.AddEdges([]Edge{callEdge(a, b, 1), callEdge(b, c, 2), callEdge(c, a, 3)}); err != nil {
		t.Fatalf("add edges: %v", err)
	}

	tree, err := g.Dependencies(context.Background(), a.ID, 10)
	if err != nil {
		t.Fatalf("dependencies: %v", err)
	}
	if len(tree.Nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(tree.Nodes))
	}
}

func TestNeighborsNeverOmitted(t *testing.T) {
	// dependencies then dependents from the same entity must each report every
	// direct neighbor present in the raw edge list.
	g := New()
	a := testEntity("a.go", "A")
	b := testEntity("b.go", "B")
	c := testEntity("c.go", "C")
	mustAdd(t, g, a, b, c)
	if err := g.AddEdges([]Edge{callEdge(a, b, 1), callEdge(c, a, 2)}); err != nil {
		t.Fatalf("add edges: %v", err)
	}

	deps, err := g.Dependencies(context.Background(), a.ID, 1)
	if err != nil {
		t.Fatalf("dependencies: %v", err)
	}
	if !containsNode(deps, b.ID) {
		t.Error("dependencies omitted direct neighbor b")
	}

	rdeps, err := g.Dependents(context.Background(), a.ID, 1)
	if err != nil {
		t.Fatalf("dependents: %v", err)
	}
	if !containsNode(rdeps, c.ID) {
		t.Error("dependents omitted direct neighbor c")
	}
}

func TestTraversalDepthBound(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	b := testEntity("b.go", "B")
	c := testEntity("c.go", "C")
	mustAdd(t, g, a, b, c)
	if err := g.AddEdges([]Edge{callEdge(a, b, 1), callEdge(b, c, 2)}); err != nil {
		t.Fatalf("add edges: %v", err)
	}

	tree, err := g.Dependencies(context.Background(), a.ID, 1)
	if err != nil {
		t.Fatalf("dependencies: %v", err)
	}
	if containsNode(tree, c.ID) {
		t.Error("depth bound 1 reached depth-2 node")
	}
}

func TestTraversalCancellation(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	b := testEntity("b.go", "B")
	mustAdd(t, g, a, b)
	if err := g.AddEdges([]Edge{callEdge(a, b, 1)}); err != nil {
		t.Fatalf("add edges: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Dependencies(ctx, a.ID, 5); err == nil {
		t.Error("expected context error")
	}
}

func TestFindCyclesOncePerComponent(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	b := testEntity("b.go", "B")
	c := testEntity("c.go", "C")
	d := testEntity("d.go", "D") // not in the cycle
	mustAdd(t, g, a, b, c, d)
	if err := g.AddEdges([]Edge{
		callEdge(a, b, 1), callEdge(b, c, 2), callEdge(c, a, 3),
		callEdge(d, a, 4),
		// Extra edge inside the component must not duplicate the report.
		callEdge(a, c, 5),
	}); err != nil {
		t.Fatalf("add edges: %v", err)
	}

	cycles, err := g.FindCycles(context.Background())
	if err != nil {
		t.Fatalf("find cycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected exactly 1 cycle component, got %d", len(cycles))
	}
	if len(cycles[0].Members) != 3 {
		t.Errorf("expected component {A,B,C}, got %v", cycles[0].Members)
	}
	for i := 1; i < len(cycles[0].Members); i++ {
		if cycles[0].Members[i-1] >= cycles[0].Members[i] {
			t.Error("component members not sorted")
		}
	}
}

func TestFindCyclesSelfLoop(t *testing.T) {
	g := New()
	a := testEntity("a.go", "A")
	mustAdd(t, g, a)
	if err := g.AddEdges([]Edge{callEdge(a, a, 1)}); err != nil {
		t.Fatalf("add edges: %v", err)
	}

	cycles, err := g.FindCycles(context.Background())
	if err != nil {
		t.Fatalf("find cycles: %v", err)
	}
	if len(cycles) != 1 || len(cycles[0].Members) != 1 {
		t.Errorf("expected single self-loop cycle, got %v", cycles)
	}
}

func TestFindCyclesDeterministic(t *testing.T) {
	build := func() *Graph {
		g := New()
		a := testEntity("a.go", "A")
		b := testEntity("b.go", "B")
		c := testEntity("c.go", "C")
		mustAdd(t, g, a, b, c)
		g.AddEdges([]Edge{callEdge(a, b, 1), callEdge(b, a, 2), callEdge(b, c, 3), callEdge(c, b, 4)})
		return g
	}

	first, err := build().FindCycles(context.Background())
	if err != nil {
		t.Fatalf("find cycles: %v", err)
	}
	second, err := build().FindCycles(context.Background())
	if err != nil {
		t.Fatalf("find cycles: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("nondeterministic component count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if len(first[i].Members) != len(second[i].Members) {
			t.Fatalf("nondeterministic component %d", i)
		}
		for j := range first[i].Members {
			if first[i].Members[j] != second[i].Members[j] {
				t.Errorf("nondeterministic member order in component %d", i)
			}
		}
	}
}

func containsNode(tree *Tree, id EntityID) bool {
	for _, n := range tree.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
