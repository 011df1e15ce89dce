// Package engine orchestrates graph construction: it feeds manifest files
// through the language analyzers in parallel, merges the results into a graph
// under a single writer, resolves references into edges, and publishes frozen
// snapshots. Incremental updates retract and re-analyze only changed files.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weft-tools/loupe/internal/graph"
	"github.com/weft-tools/loupe/internal/lang"
	"github.com/weft-tools/loupe/internal/scan"
)

// FileStatus is the analysis outcome for one file.
type FileStatus string

const (
	StatusParsed      FileStatus = "parsed"
	StatusPartial     FileStatus = "partial"
	StatusUnsupported FileStatus = "unsupported"
	StatusCorrupted   FileStatus = "corrupted"
)

// FileRecord tracks what the graph knows about one file.
type FileRecord struct {
	Path        string           `json:"path"`
	Fingerprint string           `json:"fingerprint"`
	Language    string           `json:"language"`
	Status      FileStatus       `json:"status"`
	EntityIDs   []graph.EntityID `json:"entity_ids"`
	AnalyzedAt  time.Time        `json:"analyzed_at"`
}

// Snapshot is an immutable, fully-merged view of the graph. Readers hold it
// for as long as they like; updates never mutate a published snapshot.
type Snapshot struct {
	ID        string
	CreatedAt time.Time
	Graph     *graph.Graph
	Records   map[string]FileRecord
	Manifest  *scan.Manifest
}

// Result reports one build or update.
type Result struct {
	Snapshot      *Snapshot
	Diagnostics   []Diagnostic
	FilesAnalyzed int
	Duration      time.Duration
}

// ContentSource supplies file content by manifest-relative path. A
// scan.Scanner satisfies it.
type ContentSource interface {
	ReadFile(path string) ([]byte, error)
}

// Cache persists snapshots across runs. Implemented by internal/cache.
type Cache interface {
	Store(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Default is a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithWorkers sets how many files are analyzed in parallel.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithCache attaches a snapshot cache. Builds and updates store into it;
// Restore loads from it.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// Engine builds and maintains the code graph.
type Engine struct {
	registry *lang.Registry
	logger   *zap.Logger
	workers  int
	cache    Cache

	// buildMu serializes Build/Update/Restore; mu guards the published
	// snapshot for readers.
	buildMu  sync.Mutex
	mu       sync.RWMutex
	snap     *Snapshot
	analyses map[string]*lang.FileResult
}

// New creates an engine using the given analyzer registry.
func New(registry *lang.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		logger:   zap.NewNop(),
		workers:  runtime.NumCPU(),
		analyses: make(map[string]*lang.FileResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot returns the last published snapshot, or nil before the first
// build.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// Build analyzes every file in the manifest and publishes a fresh snapshot,
// replacing whatever was there before.
func (e *Engine) Build(ctx context.Context, manifest *scan.Manifest, src ContentSource) (*Result, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	return e.build(ctx, manifest, src)
}

func (e *Engine) build(ctx context.Context, manifest *scan.Manifest, src ContentSource) (*Result, error) {
	start := time.Now()

	analyses, records, diags, err := e.analyzeFiles(ctx, manifest, src, manifest.Paths())
	if err != nil {
		return nil, err
	}

	g := graph.New()
	diags = append(diags, mergeEntities(g, analyses)...)
	diags = append(diags, resolveInto(g, analyses)...)
	g.Freeze()

	snap := &Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Graph:     g,
		Records:   records,
		Manifest:  manifest,
	}

	e.mu.Lock()
	e.snap = snap
	e.analyses = analyses
	e.mu.Unlock()

	e.logger.Info("graph built",
		zap.String("snapshot", snap.ID),
		zap.Int("files", len(records)),
		zap.Int("entities", g.EntityCount()),
		zap.Int("edges", g.EdgeCount()),
		zap.Duration("took", time.Since(start)))

	e.storeSnapshot(ctx, snap)

	return &Result{
		Snapshot:      snap,
		Diagnostics:   diags,
		FilesAnalyzed: len(analyses),
		Duration:      time.Since(start),
	}, nil
}

// Restore seeds the engine from the cache. It returns the cached snapshot;
// callers follow up with Update against a fresh manifest so changed files are
// reanalyzed. Cache problems are returned for logging but leave the engine
// cold rather than failing.
func (e *Engine) Restore(ctx context.Context) (*Snapshot, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	if e.cache == nil {
		return nil, nil
	}
	snap, err := e.cache.Load(ctx)
	if err != nil || snap == nil {
		return nil, err
	}
	e.mu.Lock()
	e.snap = snap
	e.analyses = make(map[string]*lang.FileResult)
	e.mu.Unlock()
	e.logger.Info("snapshot restored from cache",
		zap.String("snapshot", snap.ID),
		zap.Int("files", len(snap.Records)))
	return snap, nil
}

// analyzeFiles runs the given manifest paths through the analyzer pool.
// Analyzers share no state, so files fan out across workers; the collected
// results merge under one lock.
func (e *Engine) analyzeFiles(ctx context.Context, manifest *scan.Manifest, src ContentSource, paths []string) (map[string]*lang.FileResult, map[string]FileRecord, []Diagnostic, error) {
	analyses := make(map[string]*lang.FileResult, len(paths))
	records := make(map[string]FileRecord, len(paths))
	var diags []Diagnostic
	var mu sync.Mutex

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(e.workers)

	for _, p := range paths {
		entry, ok := manifest.Files[p]
		if !ok {
			continue
		}
		grp.Go(func() error {
			res, rec, fileDiags, err := e.analyzeOne(gctx, src, entry)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				analyses[entry.Path] = res
			}
			records[entry.Path] = rec
			diags = append(diags, fileDiags...)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return analyses, records, diags, nil
}

// analyzeOne analyzes a single file. Analyzer failures degrade to a record
// with a diagnostic; only context cancellation and unreadable content
// propagate as errors.
func (e *Engine) analyzeOne(ctx context.Context, src ContentSource, entry scan.FileEntry) (*lang.FileResult, FileRecord, []Diagnostic, error) {
	rec := FileRecord{
		Path:        entry.Path,
		Fingerprint: entry.Fingerprint,
		Language:    entry.Language,
		AnalyzedAt:  time.Now(),
	}

	content, err := src.ReadFile(entry.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rec, nil, ctx.Err()
		}
		// A file can vanish or turn unreadable between scan and read; the
		// record degrades to corrupted instead of failing the whole pass.
		rec.Status = StatusCorrupted
		res := corruptedResult(entry)
		rec.EntityIDs = []graph.EntityID{res.FileEntity}
		return res, rec, []Diagnostic{{
			Kind:    DiagCorruptedFile,
			File:    entry.Path,
			Message: fmt.Sprintf("read %s: %v", entry.Path, err),
		}}, nil
	}

	analyzer, supported := e.registry.ForFile(entry.Path)
	var diags []Diagnostic
	if !supported {
		rec.Status = StatusUnsupported
		diags = append(diags, Diagnostic{
			Kind:    DiagUnsupportedLanguage,
			File:    entry.Path,
			Message: "no analyzer for this file type",
		})
	}

	res, err := analyzer.Analyze(ctx, content, entry.Path)
	if err != nil {
		if errors.Is(err, lang.ErrCorrupted) || errors.Is(err, lang.ErrFileTooLarge) {
			rec.Status = StatusCorrupted
			diags = append(diags, Diagnostic{
				Kind:    DiagCorruptedFile,
				File:    entry.Path,
				Message: err.Error(),
			})
			// The file still gets its file entity so the manifest and
			// graph agree on what exists.
			res = corruptedResult(entry)
		} else {
			return nil, rec, nil, err
		}
	}

	if rec.Status == "" {
		rec.Status = StatusParsed
		if res.Partial {
			rec.Status = StatusPartial
		}
	}
	for _, issue := range res.Issues {
		diags = append(diags, Diagnostic{
			Kind:    DiagParseError,
			File:    entry.Path,
			Line:    issue.Line,
			Message: issue.Message,
		})
	}
	rec.EntityIDs = make([]graph.EntityID, len(res.Entities))
	for i, ent := range res.Entities {
		rec.EntityIDs[i] = ent.ID
	}
	return res, rec, diags, nil
}

// corruptedResult represents an undecodable file with just its file entity.
func corruptedResult(entry scan.FileEntry) *lang.FileResult {
	ent := graph.Entity{
		ID:            graph.NewEntityID(entry.Path, ""),
		Name:          entry.Path,
		QualifiedName: entry.Path,
		Kind:          graph.EntityKindFile,
		File:          entry.Path,
		Visibility:    graph.VisibilityPublic,
		Language:      entry.Language,
	}
	return &lang.FileResult{
		Path:       entry.Path,
		Language:   entry.Language,
		FileEntity: ent.ID,
		Entities:   []graph.Entity{ent},
		Partial:    true,
	}
}

// mergeEntities adds every analyzed file's entities to the graph in
// deterministic path order. ID collisions become diagnostics; the first
// declaration wins.
func mergeEntities(g *graph.Graph, analyses map[string]*lang.FileResult) []Diagnostic {
	var diags []Diagnostic
	for _, p := range sortedKeys(analyses) {
		res := analyses[p]
		for _, err := range g.AddEntities(res.Entities) {
			var collision *graph.CollisionError
			if errors.As(err, &collision) {
				diags = append(diags, Diagnostic{
					Kind:    DiagIdentifierCollision,
					File:    p,
					Name:    collision.Incoming,
					Message: err.Error(),
				})
			}
		}
	}
	return diags
}

// resolveInto resolves every file's references against the merged graph and
// adds the resulting edges.
func resolveInto(g *graph.Graph, analyses map[string]*lang.FileResult) []Diagnostic {
	r := newResolver(g)
	var diags []Diagnostic
	for _, p := range sortedKeys(analyses) {
		edges, fileDiags := r.resolveFile(analyses[p])
		if err := g.AddEdges(edges); err != nil {
			// Source entities always come from the same merge; this
			// only fires on a resolver bug.
			diags = append(diags, Diagnostic{
				Kind:    DiagUnresolvedReference,
				File:    p,
				Message: err.Error(),
			})
		}
		diags = append(diags, fileDiags...)
	}
	return diags
}

// storeSnapshot writes to the cache outside the merge critical section.
func (e *Engine) storeSnapshot(ctx context.Context, snap *Snapshot) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Store(ctx, snap); err != nil {
		e.logger.Warn("cache store failed", zap.Error(err))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
