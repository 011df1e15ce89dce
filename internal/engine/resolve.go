package engine

import (
	"path"
	"sort"
	"strings"

	"github.com/weft-tools/loupe/internal/graph"
	"github.com/weft-tools/loupe/internal/lang"
)

// resolver turns the raw name references collected by analyzers into graph
// edges. Resolution runs after all files have been merged, so the name index
// covers the whole snapshot. Preference order for a name with several
// declarations: same file, then same directory, then anywhere else; ties
// within the winning tier make the edge ambiguous with the full candidate
// list attached.
type resolver struct {
	g           *graph.Graph
	byName      map[string][]graph.EntityID
	byQualified map[string][]graph.EntityID
	fileEntity  map[string]graph.EntityID
}

func newResolver(g *graph.Graph) *resolver {
	r := &resolver{
		g:           g,
		byName:      make(map[string][]graph.EntityID),
		byQualified: make(map[string][]graph.EntityID),
		fileEntity:  make(map[string]graph.EntityID),
	}
	for _, e := range g.Entities() {
		if e.Kind == graph.EntityKindFile {
			r.fileEntity[e.File] = e.ID
			continue
		}
		r.byName[e.Name] = append(r.byName[e.Name], e.ID)
		if e.QualifiedName != e.Name {
			r.byQualified[e.QualifiedName] = append(r.byQualified[e.QualifiedName], e.ID)
		}
	}
	return r
}

// externalID derives a stable target for an edge that leaves the repository,
// so repeated builds and traversal leaves agree on it.
func externalID(name string) graph.EntityID {
	return graph.NewEntityID("", "external:"+name)
}

// builtinNames covers the callable builtins of the supported languages.
// Calls to them resolve external without an unresolved-reference diagnostic.
var builtinNames = func() map[string]bool {
	names := []string{
		// Go
		"append", "cap", "clear", "close", "complex", "copy", "delete",
		"imag", "len", "make", "max", "min", "new", "panic", "print",
		"println", "real", "recover",
		// Go conversions to predeclared types parse as calls too.
		"bool", "byte", "error", "rune", "string", "any",
		"int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64", "uintptr",
		"float32", "float64", "complex64", "complex128",
		// Python
		"abs", "all", "any", "bool", "bytes", "dict", "enumerate",
		"filter", "float", "format", "frozenset", "getattr", "hasattr",
		"hash", "id", "int", "isinstance", "issubclass", "iter", "list",
		"map", "next", "object", "open", "range", "repr", "reversed",
		"round", "set", "setattr", "sorted", "str", "sum", "super",
		"tuple", "type", "vars", "zip",
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}()

// fileImports is the per-file import context references resolve against.
type fileImports struct {
	// external holds import roots that did not resolve inside the repo.
	// Dotted references through them are external without a diagnostic.
	external map[string]bool
	// inRepo maps an import root to the repo file it resolved to.
	inRepo map[string]string
}

// resolveFile produces all edges for one analyzed file: contains edges from
// the file entity, import edges, and edges for every raw reference.
func (r *resolver) resolveFile(res *lang.FileResult) ([]graph.Edge, []Diagnostic) {
	var edges []graph.Edge
	var diags []Diagnostic

	for _, e := range res.Entities {
		if e.ID == res.FileEntity {
			continue
		}
		edges = append(edges, graph.Edge{
			Source:     res.FileEntity,
			Target:     e.ID,
			Kind:       graph.EdgeKindContains,
			Resolution: graph.ResolutionResolved,
		})
	}

	imports := fileImports{
		external: make(map[string]bool, len(res.Imports)),
		inRepo:   make(map[string]string),
	}
	for _, imp := range res.Imports {
		edge, targetPath := r.resolveImport(res.FileEntity, imp)
		edges = append(edges, edge)
		if targetPath != "" {
			imports.inRepo[importRoot(imp)] = targetPath
		} else {
			imports.external[importRoot(imp)] = true
		}
	}

	for _, ref := range res.References {
		edge, diag := r.resolveReference(ref, imports)
		edges = append(edges, edge)
		if diag != nil {
			diags = append(diags, *diag)
		}
	}
	return edges, diags
}

// resolveReference resolves one raw reference to an edge. The reference is
// never dropped: an unknown target becomes an external edge, multiple equally
// good targets an ambiguous one.
func (r *resolver) resolveReference(ref lang.Reference, imports fileImports) (graph.Edge, *Diagnostic) {
	edge := graph.Edge{
		Source:     ref.From,
		Kind:       ref.Kind,
		Site:       ref.Site,
		TargetName: ref.Name,
	}

	root, rest := splitName(ref.Name)
	var candidates []graph.EntityID
	switch {
	case imports.inRepo[root] != "":
		// Reference through an in-repo import: look only in the
		// imported file.
		candidates = r.entitiesNamedIn(imports.inRepo[root], lastSegment(ref.Name))
		if len(candidates) == 0 {
			edge.Target = externalID(ref.Name)
			edge.Resolution = graph.ResolutionExternal
			return edge, &Diagnostic{
				Kind:    DiagUnresolvedReference,
				File:    ref.Site.File,
				Line:    ref.Site.Line,
				Name:    ref.Name,
				Message: "name " + ref.Name + " not found in imported file " + imports.inRepo[root],
			}
		}
	case imports.external[root]:
		edge.Target = externalID(ref.Name)
		edge.Resolution = graph.ResolutionExternal
		return edge, nil
	default:
		candidates = r.byQualified[ref.Name]
		if len(candidates) == 0 {
			candidates = r.byName[lastSegment(ref.Name)]
		}
	}

	if len(candidates) == 0 {
		edge.Target = externalID(ref.Name)
		edge.Resolution = graph.ResolutionExternal
		// Dotted names usually go through a local value whose type we do
		// not track, and builtins are not declared anywhere; neither is
		// worth a diagnostic.
		if rest != "" || builtinNames[root] {
			return edge, nil
		}
		return edge, &Diagnostic{
			Kind:    DiagUnresolvedReference,
			File:    ref.Site.File,
			Line:    ref.Site.Line,
			Name:    ref.Name,
			Message: "reference to undefined name " + ref.Name,
		}
	}

	ranked := r.rank(candidates, ref.Site.File)
	best := ranked[0]
	edge.Target = best.id
	if len(ranked) == 1 || ranked[1].tier > best.tier {
		edge.Resolution = graph.ResolutionResolved
		edge.TargetName = ""
		return edge, nil
	}

	edge.Resolution = graph.ResolutionAmbiguous
	edge.Candidates = make([]graph.EntityID, len(ranked))
	for i, c := range ranked {
		edge.Candidates[i] = c.id
	}
	return edge, &Diagnostic{
		Kind:    DiagAmbiguousReference,
		File:    ref.Site.File,
		Line:    ref.Site.Line,
		Name:    ref.Name,
		Message: "multiple declarations match " + ref.Name,
	}
}

// entitiesNamedIn returns the entities with the given simple name declared in
// one file.
func (r *resolver) entitiesNamedIn(file, name string) []graph.EntityID {
	var out []graph.EntityID
	for _, id := range r.g.EntitiesInFile(file) {
		e, ok := r.g.Entity(id)
		if ok && e.Kind != graph.EntityKindFile && e.Name == name {
			out = append(out, id)
		}
	}
	return out
}

type rankedCandidate struct {
	id   graph.EntityID
	tier int
}

// rank orders candidates: same file (0), same directory (1), elsewhere (2);
// within a tier, by EntityID for determinism.
func (r *resolver) rank(ids []graph.EntityID, fromFile string) []rankedCandidate {
	dir := path.Dir(fromFile)
	out := make([]rankedCandidate, 0, len(ids))
	for _, id := range ids {
		e, ok := r.g.Entity(id)
		if !ok {
			continue
		}
		tier := 2
		switch {
		case e.File == fromFile:
			tier = 0
		case path.Dir(e.File) == dir:
			tier = 1
		}
		out = append(out, rankedCandidate{id: id, tier: tier})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].tier != out[j].tier {
			return out[i].tier < out[j].tier
		}
		return out[i].id < out[j].id
	})
	return out
}

// resolveImport maps an import path to a file entity inside the repository
// when one matches; anything else is an external import edge, which is the
// normal case for the standard library and third-party modules. The second
// return value is the matched repo file path, "" for external imports.
func (r *resolver) resolveImport(from graph.EntityID, imp lang.Import) (graph.Edge, string) {
	edge := graph.Edge{
		Source:     from,
		Kind:       graph.EdgeKindImport,
		Site:       imp.Site,
		TargetName: imp.Path,
	}
	if target, targetPath, ok := r.importTarget(imp.Path); ok {
		edge.Target = target
		edge.Resolution = graph.ResolutionResolved
		return edge, targetPath
	}
	edge.Target = externalID(imp.Path)
	edge.Resolution = graph.ResolutionExternal
	return edge, ""
}

// importTarget tries the layouts an in-repo import can take. Dots become
// path separators (module-style imports); segments are stripped from the
// right so "pkg.helpers.format_name" still finds "pkg/helpers.py".
func (r *resolver) importTarget(importPath string) (graph.EntityID, string, bool) {
	segs := strings.Split(strings.ReplaceAll(importPath, ".", "/"), "/")
	for end := len(segs); end > 0; end-- {
		base := strings.Join(segs[:end], "/")
		for _, candidate := range []string{
			base + ".py",
			base + "/__init__.py",
			base + ".go",
		} {
			if id, ok := r.fileEntity[candidate]; ok {
				return id, candidate, true
			}
		}
		// Directory import: a package of files. Point at the
		// lexically first file in the directory for a stable target.
		if id, p, ok := r.dirEntity(base); ok {
			return id, p, true
		}
	}
	return "", "", false
}

func (r *resolver) dirEntity(dir string) (graph.EntityID, string, bool) {
	prefix := dir + "/"
	bestPath := ""
	var best graph.EntityID
	for p, id := range r.fileEntity {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if strings.Contains(p[len(prefix):], "/") {
			continue
		}
		if bestPath == "" || p < bestPath {
			bestPath, best = p, id
		}
	}
	return best, bestPath, bestPath != ""
}

// importRoot is the name a file refers to an import by.
func importRoot(imp lang.Import) string {
	if imp.Alias != "" {
		return imp.Alias
	}
	p := imp.Path
	if i := strings.LastIndexAny(p, "/."); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// splitName splits a dotted name into its first segment and the rest.
func splitName(name string) (root, rest string) {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// lastSegment returns the final dotted segment of a name.
func lastSegment(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
