package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weft-tools/loupe/internal/graph"
	"github.com/weft-tools/loupe/internal/lang"
	"github.com/weft-tools/loupe/internal/scan"
)

// Update reconciles the published snapshot with a fresh manifest. Only
// changed files are reparsed; files whose edges could be affected by the
// change (they pointed into a changed file, or they reference a name a
// changed file defines) are re-resolved from their retained analyses. The
// result is published as a new snapshot; the old one stays valid for readers
// holding it.
//
// The outcome is required to match a full rebuild of the final file set.
func (e *Engine) Update(ctx context.Context, manifest *scan.Manifest, src ContentSource) (*Result, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	e.mu.RLock()
	cur := e.snap
	e.mu.RUnlock()
	if cur == nil {
		return e.build(ctx, manifest, src)
	}

	start := time.Now()
	changes := scan.Diff(cur.Manifest, manifest)
	if changes.Empty() {
		return &Result{Snapshot: cur, Duration: time.Since(start)}, nil
	}

	changed := append(append([]string{}, changes.Added...), changes.Modified...)
	retired := append(append([]string{}, changes.Modified...), changes.Removed...)

	// Names the retired file versions defined; anything referencing them
	// may need to re-resolve.
	affectedNames := make(map[string]bool)
	retiredSet := make(map[string]bool, len(retired))
	for _, p := range retired {
		retiredSet[p] = true
		for _, id := range cur.Graph.EntitiesInFile(p) {
			if ent, ok := cur.Graph.Entity(id); ok && ent.Kind != graph.EntityKindFile {
				affectedNames[ent.Name] = true
			}
		}
	}

	// Reparse the changed files through the worker pool.
	analyses, newRecords, diags, err := e.analyzeFiles(ctx, manifest, src, changed)
	if err != nil {
		return nil, err
	}
	for _, res := range analyses {
		for _, ent := range res.Entities {
			if ent.Kind != graph.EntityKindFile {
				affectedNames[ent.Name] = true
			}
		}
	}

	changedSet := make(map[string]bool, len(changed))
	for _, p := range changed {
		changedSet[p] = true
	}
	affected := e.affectedFiles(cur, manifest, retiredSet, changedSet, affectedNames, len(changes.Added) > 0)

	// Affected files re-resolve from their retained analyses; after a cache
	// restore those are gone and the files reparse once.
	var missing []string
	for p := range affected {
		if _, ok := e.analyses[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		reparsed, _, moreDiags, err := e.analyzeFiles(ctx, manifest, src, missing)
		if err != nil {
			return nil, err
		}
		for p, res := range reparsed {
			e.analyses[p] = res
		}
		diags = append(diags, moreDiags...)
	}

	// Copy-on-write: mutate a clone, publish it whole.
	g := cur.Graph.Clone()
	for _, p := range retired {
		if err := g.RemoveEntities(g.EntitiesInFile(p)); err != nil {
			return nil, err
		}
	}
	for p := range affected {
		if err := g.RemoveEdgesForFile(p); err != nil {
			return nil, err
		}
	}

	nextAnalyses := make(map[string]*lang.FileResult, len(e.analyses))
	for p, res := range e.analyses {
		if _, gone := retiredSet[p]; gone && !changedSet[p] {
			continue
		}
		nextAnalyses[p] = res
	}
	for p, res := range analyses {
		nextAnalyses[p] = res
	}

	diags = append(diags, mergeEntities(g, analyses)...)

	reresolve := make(map[string]*lang.FileResult, len(affected)+len(analyses))
	for p := range affected {
		if res, ok := nextAnalyses[p]; ok {
			reresolve[p] = res
		}
	}
	for p, res := range analyses {
		reresolve[p] = res
	}
	diags = append(diags, resolveInto(g, reresolve)...)
	g.Freeze()

	records := make(map[string]FileRecord, len(cur.Records))
	for p, rec := range cur.Records {
		if _, gone := retiredSet[p]; gone {
			continue
		}
		records[p] = rec
	}
	for p, rec := range newRecords {
		records[p] = rec
	}

	snap := &Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Graph:     g,
		Records:   records,
		Manifest:  manifest,
	}

	e.mu.Lock()
	e.snap = snap
	e.analyses = nextAnalyses
	e.mu.Unlock()

	e.logger.Info("graph updated",
		zap.String("snapshot", snap.ID),
		zap.Int("added", len(changes.Added)),
		zap.Int("modified", len(changes.Modified)),
		zap.Int("removed", len(changes.Removed)),
		zap.Int("reresolved", len(reresolve)),
		zap.Duration("took", time.Since(start)))

	e.storeSnapshot(ctx, snap)

	return &Result{
		Snapshot:      snap,
		Diagnostics:   diags,
		FilesAnalyzed: len(analyses) + len(missing),
		Duration:      time.Since(start),
	}, nil
}

// affectedFiles finds the unchanged files whose edges must be rebuilt: those
// with an edge into a retired file, those whose external or ambiguous edges
// name something the change set defines, those whose resolved targets carry
// an affected name (an added declaration can turn a resolved edge ambiguous),
// and, when files were added, those with an external import that might now
// resolve in-repo.
func (e *Engine) affectedFiles(cur *Snapshot, manifest *scan.Manifest, retiredSet, changedSet, affectedNames map[string]bool, filesAdded bool) map[string]bool {
	affected := make(map[string]bool)
	for p := range manifest.Files {
		if changedSet[p] || retiredSet[p] {
			continue
		}
		if e.fileNeedsReresolve(cur, p, retiredSet, affectedNames, filesAdded) {
			affected[p] = true
		}
	}
	return affected
}

func (e *Engine) fileNeedsReresolve(cur *Snapshot, p string, retiredSet, affectedNames map[string]bool, filesAdded bool) bool {
	for _, id := range cur.Graph.EntitiesInFile(p) {
		for _, edge := range cur.Graph.OutEdges(id) {
			switch edge.Resolution {
			case graph.ResolutionResolved:
				target, ok := cur.Graph.Entity(edge.Target)
				if !ok {
					continue
				}
				if retiredSet[target.File] {
					return true
				}
				if edge.Kind != graph.EdgeKindContains && affectedNames[target.Name] {
					return true
				}
			default:
				if edge.Kind == graph.EdgeKindImport {
					if filesAdded {
						return true
					}
					continue
				}
				if affectedNames[lastSegment(edge.TargetName)] {
					return true
				}
			}
		}
	}
	return false
}
