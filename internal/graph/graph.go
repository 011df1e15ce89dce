package graph

import (
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors for graph mutation.
var (
	// ErrFrozen is returned when mutating a frozen graph.
	ErrFrozen = errors.New("graph is frozen")

	// ErrEntityNotFound is returned when an entity lookup fails.
	ErrEntityNotFound = errors.New("entity not found")
)

// CollisionError reports two distinct declarations mapping to one identifier
// within a single snapshot. The first declaration wins; the collision is
// surfaced rather than silently overwritten.
type CollisionError struct {
	ID       EntityID
	Existing string // qualified name of the entity already present
	Incoming string // qualified name of the rejected entity
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("entity ID collision on %s: %q vs %q", e.ID, e.Existing, e.Incoming)
}

// Graph owns the entities and relationships for one repository snapshot.
// It maintains forward and reverse adjacency: for every edge A→B there is
// exactly one matching entry in B's reverse list.
//
// A Graph is not safe for concurrent mutation. The engine serializes writes
// and publishes frozen snapshots for concurrent readers.
type Graph struct {
	entities map[EntityID]Entity
	forward  map[EntityID][]Edge
	reverse  map[EntityID][]Edge
	// byFile indexes entity IDs by declaring file for per-file retraction.
	byFile map[string][]EntityID

	edgeCount int
	frozen    bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		entities: make(map[EntityID]Entity),
		forward:  make(map[EntityID][]Edge),
		reverse:  make(map[EntityID][]Edge),
		byFile:   make(map[string][]EntityID),
	}
}

// Frozen reports whether the graph accepts mutations.
func (g *Graph) Frozen() bool {
	return g.frozen
}

// Freeze marks the graph immutable. Further mutations return ErrFrozen.
func (g *Graph) Freeze() {
	g.frozen = true
}

// EntityCount returns the number of entities.
func (g *Graph) EntityCount() int {
	return len(g.entities)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return g.edgeCount
}

// Entity returns the entity with the given ID.
func (g *Graph) Entity(id EntityID) (Entity, bool) {
	e, ok := g.entities[id]
	return e, ok
}

// Entities returns all entities, sorted by ID for deterministic output.
func (g *Graph) Entities() []Entity {
	out := make([]Entity, 0, len(g.entities))
	for _, e := range g.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all edges, ordered by source then target.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.edgeCount)
	for _, edges := range g.forward {
		out = append(out, edges...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Site.Line < out[j].Site.Line
	})
	return out
}

// OutEdges returns the edges where id is the source.
func (g *Graph) OutEdges(id EntityID) []Edge {
	return g.forward[id]
}

// InEdges returns the edges where id is the target.
func (g *Graph) InEdges(id EntityID) []Edge {
	return g.reverse[id]
}

// EntitiesInFile returns the IDs of entities declared in the given file.
func (g *Graph) EntitiesInFile(path string) []EntityID {
	ids := g.byFile[path]
	out := make([]EntityID, len(ids))
	copy(out, ids)
	return out
}

// AddEntities inserts entities. A duplicate ID is rejected with a
// CollisionError (accumulated, not fatal); the remaining entities are still
// inserted.
func (g *Graph) AddEntities(entities []Entity) []error {
	if g.frozen {
		return []error{ErrFrozen}
	}
	var errs []error
	for _, e := range entities {
		if existing, ok := g.entities[e.ID]; ok {
			if existing.QualifiedName != e.QualifiedName || existing.File != e.File {
				errs = append(errs, &CollisionError{
					ID:       e.ID,
					Existing: existing.QualifiedName,
					Incoming: e.QualifiedName,
				})
			}
			continue
		}
		g.entities[e.ID] = e
		g.byFile[e.File] = append(g.byFile[e.File], e.ID)
	}
	return errs
}

// AddEdges inserts edges. Edges whose source is unknown are rejected; edges
// whose target is unknown must carry Resolution external or ambiguous.
func (g *Graph) AddEdges(edges []Edge) error {
	if g.frozen {
		return ErrFrozen
	}
	for _, e := range edges {
		if _, ok := g.entities[e.Source]; !ok {
			return fmt.Errorf("edge source %s: %w", e.Source, ErrEntityNotFound)
		}
		if _, ok := g.entities[e.Target]; !ok && e.Resolution == ResolutionResolved {
			return fmt.Errorf("edge target %s marked resolved: %w", e.Target, ErrEntityNotFound)
		}
		g.forward[e.Source] = append(g.forward[e.Source], e)
		g.reverse[e.Target] = append(g.reverse[e.Target], e)
		g.edgeCount++
	}
	return nil
}

// RemoveEntities removes entities by ID. Removal cascades: every edge where
// the entity is source or target is removed first, keeping the reverse index
// consistent, then the entity itself.
func (g *Graph) RemoveEntities(ids []EntityID) error {
	if g.frozen {
		return ErrFrozen
	}
	for _, id := range ids {
		e, ok := g.entities[id]
		if !ok {
			continue
		}
		g.removeEdgesForSource(id)
		g.removeEdgesForTarget(id)
		delete(g.entities, id)
		g.byFile[e.File] = removeID(g.byFile[e.File], id)
		if len(g.byFile[e.File]) == 0 {
			delete(g.byFile, e.File)
		}
	}
	return nil
}

// RemoveEdgesForSource removes all edges originating at the given entity.
func (g *Graph) RemoveEdgesForSource(id EntityID) error {
	if g.frozen {
		return ErrFrozen
	}
	g.removeEdgesForSource(id)
	return nil
}

// RemoveEdgesForFile removes all edges originating at entities declared in
// the given file. The entities themselves stay.
func (g *Graph) RemoveEdgesForFile(path string) error {
	if g.frozen {
		return ErrFrozen
	}
	for _, id := range g.byFile[path] {
		g.removeEdgesForSource(id)
	}
	return nil
}

func (g *Graph) removeEdgesForSource(id EntityID) {
	edges := g.forward[id]
	if len(edges) == 0 {
		return
	}
	delete(g.forward, id)
	g.edgeCount -= len(edges)
	// Drop the matching reverse entries.
	targets := make(map[EntityID]bool, len(edges))
	for _, e := range edges {
		targets[e.Target] = true
	}
	for t := range targets {
		g.reverse[t] = filterEdges(g.reverse[t], func(e Edge) bool { return e.Source != id })
		if len(g.reverse[t]) == 0 {
			delete(g.reverse, t)
		}
	}
}

func (g *Graph) removeEdgesForTarget(id EntityID) {
	edges := g.reverse[id]
	if len(edges) == 0 {
		return
	}
	delete(g.reverse, id)
	g.edgeCount -= len(edges)
	sources := make(map[EntityID]bool, len(edges))
	for _, e := range edges {
		sources[e.Source] = true
	}
	for s := range sources {
		g.forward[s] = filterEdges(g.forward[s], func(e Edge) bool { return e.Target != id })
		if len(g.forward[s]) == 0 {
			delete(g.forward, s)
		}
	}
}

// Clone returns a deep, unfrozen copy used for copy-on-write merges.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		entities:  make(map[EntityID]Entity, len(g.entities)),
		forward:   make(map[EntityID][]Edge, len(g.forward)),
		reverse:   make(map[EntityID][]Edge, len(g.reverse)),
		byFile:    make(map[string][]EntityID, len(g.byFile)),
		edgeCount: g.edgeCount,
	}
	for id, e := range g.entities {
		c.entities[id] = e
	}
	for id, edges := range g.forward {
		c.forward[id] = append([]Edge(nil), edges...)
	}
	for id, edges := range g.reverse {
		c.reverse[id] = append([]Edge(nil), edges...)
	}
	for path, ids := range g.byFile {
		c.byFile[path] = append([]EntityID(nil), ids...)
	}
	return c
}

func removeID(ids []EntityID, id EntityID) []EntityID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func filterEdges(edges []Edge, keep func(Edge) bool) []Edge {
	out := edges[:0]
	for _, e := range edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
