package engine

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/weft-tools/loupe/internal/graph"
	"github.com/weft-tools/loupe/internal/lang"
	"github.com/weft-tools/loupe/internal/scan"
)

// memSource serves file content from memory.
type memSource map[string]string

func (m memSource) ReadFile(path string) ([]byte, error) {
	content, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(content), nil
}

func manifestFor(files memSource) *scan.Manifest {
	m := scan.NewManifest("/project")
	m.ScannedAt = time.Now()
	reg := lang.DefaultRegistry()
	for p, content := range files {
		m.Files[p] = scan.FileEntry{
			Path:        p,
			Fingerprint: scan.Fingerprint([]byte(content)),
			Size:        int64(len(content)),
			Language:    reg.DetectLanguage(p),
		}
	}
	return m
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(lang.DefaultRegistry(), WithWorkers(2))
}

func buildFrom(t *testing.T, e *Engine, files memSource) *Result {
	t.Helper()
	res, err := e.Build(context.Background(), manifestFor(files), files)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return res
}

func entityByQualified(t *testing.T, g *graph.Graph, qualified string) graph.Entity {
	t.Helper()
	for _, ent := range g.Entities() {
		if ent.QualifiedName == qualified {
			return ent
		}
	}
	t.Fatalf("entity %q not in graph", qualified)
	return graph.Entity{}
}

func edgesBetween(g *graph.Graph, source, target graph.EntityID, kind graph.EdgeKind) []graph.Edge {
	var out []graph.Edge
	for _, e := range g.OutEdges(source) {
		if e.Target == target && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func hasDiag(diags []Diagnostic, kind DiagKind, file string) bool {
	for _, d := range diags {
		if d.Kind == kind && (file == "" || d.File == file) {
			return true
		}
	}
	return false
}

func TestBuildResolvesCrossFileCall(t *testing.T) {
	files := memSource{
		"a.py": "def f():\n    return 1\n",
		"b.py": "from a import f\n\ndef g():\n    return f()\n",
	}
	e := newTestEngine(t)
	res := buildFrom(t, e, files)

	g := res.Snapshot.Graph
	caller := entityByQualified(t, g, "g")
	callee := entityByQualified(t, g, "f")
	edges := edgesBetween(g, caller.ID, callee.ID, graph.EdgeKindCall)
	if len(edges) != 1 {
		t.Fatalf("call edges g->f = %d, want 1", len(edges))
	}
	if edges[0].Resolution != graph.ResolutionResolved {
		t.Fatalf("resolution = %s", edges[0].Resolution)
	}
}

func TestBuildUndefinedReferenceBecomesExternal(t *testing.T) {
	files := memSource{
		"a.py": "def f():\n    return missing_fn()\n",
	}
	e := newTestEngine(t)
	res := buildFrom(t, e, files)

	g := res.Snapshot.Graph
	caller := entityByQualified(t, g, "f")
	var external *graph.Edge
	for _, edge := range g.OutEdges(caller.ID) {
		if edge.Kind == graph.EdgeKindCall && edge.Resolution == graph.ResolutionExternal {
			external = &edge
			break
		}
	}
	if external == nil {
		t.Fatal("no external call edge recorded")
	}
	if external.TargetName != "missing_fn" {
		t.Fatalf("TargetName = %q", external.TargetName)
	}
	if !hasDiag(res.Diagnostics, DiagUnresolvedReference, "a.py") {
		t.Fatalf("no unresolved-reference diagnostic: %v", res.Diagnostics)
	}
}

func TestBuildAmbiguousReference(t *testing.T) {
	files := memSource{
		"pkg/x.py": "def helper():\n    return 1\n",
		"pkg/y.py": "def helper():\n    return 2\n",
		"pkg/z.py": "def use():\n    return helper()\n",
	}
	e := newTestEngine(t)
	res := buildFrom(t, e, files)

	g := res.Snapshot.Graph
	caller := entityByQualified(t, g, "use")
	var ambiguous *graph.Edge
	for _, edge := range g.OutEdges(caller.ID) {
		if edge.Kind == graph.EdgeKindCall && edge.Resolution == graph.ResolutionAmbiguous {
			ambiguous = &edge
			break
		}
	}
	if ambiguous == nil {
		t.Fatal("no ambiguous edge recorded")
	}
	if len(ambiguous.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(ambiguous.Candidates))
	}
	if ambiguous.Target != ambiguous.Candidates[0] {
		t.Fatal("edge target is not the preferred candidate")
	}
	if !hasDiag(res.Diagnostics, DiagAmbiguousReference, "pkg/z.py") {
		t.Fatal("no ambiguous-reference diagnostic")
	}
}

func TestBuildCorruptedFileStillRepresented(t *testing.T) {
	files := memSource{
		"ok.py":  "def f():\n    pass\n",
		"bad.py": "def g():\xff\xfe\n",
	}
	e := newTestEngine(t)
	res := buildFrom(t, e, files)

	if res.Snapshot.Records["bad.py"].Status != StatusCorrupted {
		t.Fatalf("bad.py status = %s", res.Snapshot.Records["bad.py"].Status)
	}
	if !hasDiag(res.Diagnostics, DiagCorruptedFile, "bad.py") {
		t.Fatal("no corrupted-file diagnostic")
	}
	// The file entity still exists.
	if _, ok := res.Snapshot.Graph.Entity(graph.NewEntityID("bad.py", "")); !ok {
		t.Fatal("corrupted file has no file entity")
	}
}

func TestBuildUnsupportedFile(t *testing.T) {
	files := memSource{
		"main.py":   "x = 1\n",
		"notes.txt": "remember the milk\n",
	}
	e := newTestEngine(t)
	res := buildFrom(t, e, files)

	if res.Snapshot.Records["notes.txt"].Status != StatusUnsupported {
		t.Fatalf("notes.txt status = %s", res.Snapshot.Records["notes.txt"].Status)
	}
	if len(res.Snapshot.Graph.EntitiesInFile("notes.txt")) != 1 {
		t.Fatal("opaque file should contribute exactly its file entity")
	}
}

func TestBuildPartialFileKeepsRecoveredDecls(t *testing.T) {
	files := memSource{
		"p.py": "def ok():\n    pass\n\ndef broken(:\n",
	}
	e := newTestEngine(t)
	res := buildFrom(t, e, files)

	if res.Snapshot.Records["p.py"].Status != StatusPartial {
		t.Fatalf("status = %s, want partial", res.Snapshot.Records["p.py"].Status)
	}
	if !hasDiag(res.Diagnostics, DiagParseError, "p.py") {
		t.Fatal("no parse-error diagnostic")
	}
	entityByQualified(t, res.Snapshot.Graph, "ok")
}

func TestUpdateNoChangesKeepsSnapshot(t *testing.T) {
	files := memSource{"a.py": "def f():\n    pass\n"}
	e := newTestEngine(t)
	first := buildFrom(t, e, files)

	res, err := e.Update(context.Background(), manifestFor(files), files)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Snapshot.ID != first.Snapshot.ID {
		t.Fatal("no-op update replaced the snapshot")
	}
	if res.FilesAnalyzed != 0 {
		t.Fatalf("FilesAnalyzed = %d, want 0", res.FilesAnalyzed)
	}
}

func TestUpdateBodyEditDoesNotTouchOtherFiles(t *testing.T) {
	files := memSource{
		"a.py": "def f():\n    return 1\n",
		"b.py": "from a import f\n\ndef g():\n    return f()\n",
	}
	e := newTestEngine(t)
	first := buildFrom(t, e, files)
	fID := entityByQualified(t, first.Snapshot.Graph, "f").ID

	files["a.py"] = "def f():\n    return 2\n"
	res, err := e.Update(context.Background(), manifestFor(files), files)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.FilesAnalyzed != 1 {
		t.Fatalf("FilesAnalyzed = %d, want 1 (only a.py)", res.FilesAnalyzed)
	}

	g := res.Snapshot.Graph
	if entityByQualified(t, g, "f").ID != fID {
		t.Fatal("f's entity ID changed on a body-only edit")
	}
	caller := entityByQualified(t, g, "g")
	if edges := edgesBetween(g, caller.ID, fID, graph.EdgeKindCall); len(edges) != 1 {
		t.Fatalf("call edge g->f lost: %d", len(edges))
	}
}

func TestUpdateRemovedFileDanglesReferences(t *testing.T) {
	files := memSource{
		"a.py": "def f():\n    return 1\n",
		"b.py": "from a import f\n\ndef g():\n    return f()\n",
	}
	e := newTestEngine(t)
	buildFrom(t, e, files)

	delete(files, "a.py")
	res, err := e.Update(context.Background(), manifestFor(files), files)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	g := res.Snapshot.Graph
	caller := entityByQualified(t, g, "g")
	var sawExternal bool
	for _, edge := range g.OutEdges(caller.ID) {
		if edge.Kind == graph.EdgeKindCall && edge.Resolution == graph.ResolutionExternal {
			sawExternal = true
		}
		if edge.Resolution == graph.ResolutionResolved && edge.Kind == graph.EdgeKindCall {
			if _, ok := g.Entity(edge.Target); !ok {
				t.Fatal("resolved edge points at a removed entity")
			}
		}
	}
	if !sawExternal {
		t.Fatal("call into removed file did not become external")
	}
	if _, ok := g.Entity(graph.NewEntityID("a.py", "f")); ok {
		t.Fatal("removed file's entity survived")
	}
}

func TestUpdateMatchesFullRebuild(t *testing.T) {
	files := memSource{
		"lib.py": "def shared():\n    return 1\n",
		"one.py": "from lib import shared\n\ndef a():\n    return shared()\n",
		"two.py": "def standalone():\n    return 0\n",
	}
	e := newTestEngine(t)
	buildFrom(t, e, files)

	// Edit one file, add one, remove one.
	files["lib.py"] = "def shared():\n    return 2\n\ndef extra():\n    pass\n"
	files["three.py"] = "from lib import extra\n\ndef c():\n    return extra()\n"
	delete(files, "two.py")

	updated, err := e.Update(context.Background(), manifestFor(files), files)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	fresh := buildFrom(t, newTestEngine(t), files)

	if !reflect.DeepEqual(updated.Snapshot.Graph.Entities(), fresh.Snapshot.Graph.Entities()) {
		t.Fatal("incremental entity set differs from full rebuild")
	}
	if !reflect.DeepEqual(updated.Snapshot.Graph.Edges(), fresh.Snapshot.Graph.Edges()) {
		t.Fatalf("incremental edge set differs from full rebuild:\nupdated: %v\nfresh:   %v",
			updated.Snapshot.Graph.Edges(), fresh.Snapshot.Graph.Edges())
	}
}

func TestUpdateNewFileResolvesFormerExternal(t *testing.T) {
	files := memSource{
		"b.py": "from a import f\n\ndef g():\n    return f()\n",
	}
	e := newTestEngine(t)
	first := buildFrom(t, e, files)
	caller := entityByQualified(t, first.Snapshot.Graph, "g")
	foundResolved := false
	for _, edge := range first.Snapshot.Graph.OutEdges(caller.ID) {
		if edge.Kind == graph.EdgeKindCall && edge.Resolution == graph.ResolutionResolved {
			foundResolved = true
		}
	}
	if foundResolved {
		t.Fatal("call should start external")
	}

	files["a.py"] = "def f():\n    return 1\n"
	res, err := e.Update(context.Background(), manifestFor(files), files)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	g := res.Snapshot.Graph
	callee := entityByQualified(t, g, "f")
	if edges := edgesBetween(g, caller.ID, callee.ID, graph.EdgeKindCall); len(edges) != 1 {
		t.Fatal("formerly external call did not resolve to the new file")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	files := memSource{"a.py": "def f():\n    pass\n"}
	e := newTestEngine(t)
	first := buildFrom(t, e, files)

	held := first.Snapshot
	files["a.py"] = "def f():\n    pass\n\ndef h():\n    pass\n"
	if _, err := e.Update(context.Background(), manifestFor(files), files); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The snapshot taken before the update must be unchanged and frozen.
	if _, ok := held.Graph.Entity(graph.NewEntityID("a.py", "h")); ok {
		t.Fatal("old snapshot saw the new entity")
	}
	if !held.Graph.Frozen() {
		t.Fatal("published snapshot is not frozen")
	}
	if err := held.Graph.RemoveEntities(held.Graph.EntitiesInFile("a.py")); err == nil {
		t.Fatal("mutation of a frozen snapshot did not error")
	}
}

func TestBuildGoAndPythonTogether(t *testing.T) {
	files := memSource{
		"svc/main.go":  "package svc\n\nfunc Run() {\n\thelp()\n}\n\nfunc help() {}\n",
		"tools/gen.py": "def gen():\n    pass\n",
	}
	e := newTestEngine(t)
	res := buildFrom(t, e, files)

	g := res.Snapshot.Graph
	run := entityByQualified(t, g, "svc.Run")
	help := entityByQualified(t, g, "svc.help")
	if edges := edgesBetween(g, run.ID, help.ID, graph.EdgeKindCall); len(edges) != 1 {
		t.Fatal("Go call edge not resolved")
	}
	entityByQualified(t, g, "gen")
}

func TestBuildManyFilesParallel(t *testing.T) {
	files := memSource{}
	for i := 0; i < 40; i++ {
		files[fmt.Sprintf("m%02d.py", i)] = fmt.Sprintf("def fn%02d():\n    pass\n", i)
	}
	e := New(lang.DefaultRegistry(), WithWorkers(8))
	res := buildFrom(t, e, files)

	if res.FilesAnalyzed != 40 {
		t.Fatalf("FilesAnalyzed = %d", res.FilesAnalyzed)
	}
	// One file entity plus one function per file.
	if got := res.Snapshot.Graph.EntityCount(); got != 80 {
		t.Fatalf("entities = %d, want 80", got)
	}
}

func TestBuildUnreadableFileDegrades(t *testing.T) {
	all := memSource{
		"a.py":     "def f():\n    return 1\n",
		"ghost.py": "def gone():\n    return 2\n",
	}
	// ghost.py is in the manifest but vanishes before it can be read.
	src := memSource{"a.py": all["a.py"]}
	e := newTestEngine(t)
	res, err := e.Build(context.Background(), manifestFor(all), src)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	rec, ok := res.Snapshot.Records["ghost.py"]
	if !ok {
		t.Fatal("no record for unreadable file")
	}
	if rec.Status != StatusCorrupted {
		t.Fatalf("status = %s, want %s", rec.Status, StatusCorrupted)
	}
	if !hasDiag(res.Diagnostics, DiagCorruptedFile, "ghost.py") {
		t.Fatalf("no corrupted-file diagnostic: %v", res.Diagnostics)
	}
	// The unreadable file keeps its file entity; the readable one is intact.
	entityByQualified(t, res.Snapshot.Graph, "ghost.py")
	entityByQualified(t, res.Snapshot.Graph, "f")
}

func TestMergeCollisionDiagnostic(t *testing.T) {
	g := graph.New()
	id := graph.EntityID("deadbeefdeadbeef")
	analyses := map[string]*lang.FileResult{
		"a.py": {Path: "a.py", Entities: []graph.Entity{
			{ID: id, Name: "f", QualifiedName: "f", Kind: graph.EntityKindFunction, File: "a.py"},
		}},
		"b.py": {Path: "b.py", Entities: []graph.Entity{
			{ID: id, Name: "g", QualifiedName: "g", Kind: graph.EntityKindFunction, File: "b.py"},
		}},
	}

	diags := mergeEntities(g, analyses)
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1: %v", len(diags), diags)
	}
	d := diags[0]
	if d.Kind != DiagIdentifierCollision {
		t.Fatalf("kind = %s", d.Kind)
	}
	// Files merge in sorted path order, so a.py wins and b.py is rejected.
	if d.Name != "g" {
		t.Fatalf("name = %q, want g", d.Name)
	}
	if d.File != "b.py" {
		t.Fatalf("file = %q, want b.py", d.File)
	}
	if ent, _ := g.Entity(id); ent.QualifiedName != "f" {
		t.Fatalf("kept entity = %q, want first declaration f", ent.QualifiedName)
	}
}
