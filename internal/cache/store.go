// Package cache persists graph snapshots in SQLite so a restart can reuse
// prior analysis. The cache is strictly an optimization: version mismatches
// and corruption degrade to a cold rebuild, never to a crash.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/weft-tools/loupe/internal/engine"
	"github.com/weft-tools/loupe/internal/graph"
	"github.com/weft-tools/loupe/internal/scan"
)

// Sentinel errors. Callers respond to both the same way: clear the cache and
// rebuild cold.
var (
	ErrVersionMismatch = errors.New("cache schema version mismatch")
	ErrCorrupted       = errors.New("cache corrupted")
)

// DBFileName is the database file inside the cache directory.
const DBFileName = "graph.db"

// Store handles persistence of graph snapshots to SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the snapshot database inside cacheDir, creating the
// directory when needed.
func Open(cacheDir string) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	dbPath := filepath.Join(cacheDir, DBFileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path to the database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

// Clear removes all cached data.
func (s *Store) Clear() error {
	tables := []string{"edges", "entities", "file_records", "metadata"}
	for _, table := range tables {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}
	return nil
}

// Invalidate drops the cached state for the given files: their records,
// their entities, and every edge touching those entities. A later Load
// returns a snapshot without them, so they reanalyze as new files.
func (s *Store) Invalidate(paths []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range paths {
		if _, err := tx.Exec(`
			DELETE FROM edges WHERE source IN (SELECT id FROM entities WHERE file = ?)
			   OR target IN (SELECT id FROM entities WHERE file = ?)
		`, p, p); err != nil {
			return fmt.Errorf("invalidating edges for %s: %w", p, err)
		}
		if _, err := tx.Exec("DELETE FROM entities WHERE file = ?", p); err != nil {
			return fmt.Errorf("invalidating entities for %s: %w", p, err)
		}
		if _, err := tx.Exec("DELETE FROM file_records WHERE path = ?", p); err != nil {
			return fmt.Errorf("invalidating record for %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// Store replaces the cached snapshot with the given one in a single
// transaction.
func (s *Store) Store(ctx context.Context, snap *engine.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"edges", "entities", "file_records", "metadata"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}

	entStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (id, name, qualified_name, kind, file,
			start_line, start_col, end_line, end_col,
			visibility, language, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer entStmt.Close()

	for _, e := range snap.Graph.Entities() {
		meta, err := json.Marshal(struct {
			Meta  graph.EntityMeta  `json:"meta,omitempty"`
			Extra map[string]string `json:"extra,omitempty"`
		}{e.Meta, e.Extra})
		if err != nil {
			return err
		}
		if _, err := entStmt.ExecContext(ctx,
			string(e.ID), e.Name, e.QualifiedName, string(e.Kind), e.File,
			e.Span.StartLine, e.Span.StartCol, e.Span.EndLine, e.Span.EndCol,
			string(e.Visibility), e.Language, string(meta)); err != nil {
			return fmt.Errorf("inserting entity %s: %w", e.ID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (source, target, kind, site_file, site_line,
			resolution, target_name, candidates_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()

	for _, e := range snap.Graph.Edges() {
		var candidates []byte
		if len(e.Candidates) > 0 {
			candidates, err = json.Marshal(e.Candidates)
			if err != nil {
				return err
			}
		}
		if _, err := edgeStmt.ExecContext(ctx,
			string(e.Source), string(e.Target), string(e.Kind),
			e.Site.File, e.Site.Line,
			string(e.Resolution), e.TargetName, string(candidates)); err != nil {
			return fmt.Errorf("inserting edge %s->%s: %w", e.Source, e.Target, err)
		}
	}

	recStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_records (path, fingerprint, language, status,
			entity_ids_json, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer recStmt.Close()

	for _, rec := range snap.Records {
		ids, err := json.Marshal(rec.EntityIDs)
		if err != nil {
			return err
		}
		if _, err := recStmt.ExecContext(ctx,
			rec.Path, rec.Fingerprint, rec.Language, string(rec.Status),
			string(ids), rec.AnalyzedAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("inserting record %s: %w", rec.Path, err)
		}
	}

	meta := map[string]string{
		"schema_version": SchemaVersion,
		"snapshot_id":    snap.ID,
		"created_at":     snap.CreatedAt.Format(time.RFC3339Nano),
		"root":           snap.Manifest.Root,
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT INTO metadata (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("writing metadata %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// Load reconstructs the cached snapshot. It returns (nil, nil) for an empty
// cache, ErrVersionMismatch for a database written by another schema
// version, and ErrCorrupted when rows do not reassemble into a consistent
// graph.
func (s *Store) Load(ctx context.Context) (*engine.Snapshot, error) {
	version, err := s.getMetadata("schema_version")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading schema version: %v", ErrCorrupted, err)
	}
	if version != SchemaVersion {
		return nil, fmt.Errorf("%w: found %q, want %q", ErrVersionMismatch, version, SchemaVersion)
	}

	snapshotID, err := s.getMetadata("snapshot_id")
	if err != nil {
		return nil, fmt.Errorf("%w: reading snapshot id: %v", ErrCorrupted, err)
	}
	root, err := s.getMetadata("root")
	if err != nil {
		return nil, fmt.Errorf("%w: reading root: %v", ErrCorrupted, err)
	}
	createdAt := time.Now()
	if raw, err := s.getMetadata("created_at"); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			createdAt = t
		}
	}

	g := graph.New()
	if err := s.loadEntities(ctx, g); err != nil {
		return nil, err
	}
	if err := s.loadEdges(ctx, g); err != nil {
		return nil, err
	}
	g.Freeze()

	records, manifest, err := s.loadRecords(ctx, root)
	if err != nil {
		return nil, err
	}

	return &engine.Snapshot{
		ID:        snapshotID,
		CreatedAt: createdAt,
		Graph:     g,
		Records:   records,
		Manifest:  manifest,
	}, nil
}

func (s *Store) loadEntities(ctx context.Context, g *graph.Graph) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, qualified_name, kind, file,
			start_line, start_col, end_line, end_col,
			visibility, language, meta_json
		FROM entities
	`)
	if err != nil {
		return fmt.Errorf("%w: querying entities: %v", ErrCorrupted, err)
	}
	defer rows.Close()

	var entities []graph.Entity
	for rows.Next() {
		var e graph.Entity
		var id, kind, visibility, metaJSON string
		if err := rows.Scan(&id, &e.Name, &e.QualifiedName, &kind, &e.File,
			&e.Span.StartLine, &e.Span.StartCol, &e.Span.EndLine, &e.Span.EndCol,
			&visibility, &e.Language, &metaJSON); err != nil {
			return fmt.Errorf("%w: scanning entity: %v", ErrCorrupted, err)
		}
		e.ID = graph.EntityID(id)
		e.Kind = graph.EntityKind(kind)
		e.Visibility = graph.Visibility(visibility)
		if metaJSON != "" {
			var meta struct {
				Meta  graph.EntityMeta  `json:"meta"`
				Extra map[string]string `json:"extra"`
			}
			if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
				return fmt.Errorf("%w: entity %s meta: %v", ErrCorrupted, id, err)
			}
			e.Meta = meta.Meta
			e.Extra = meta.Extra
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: reading entities: %v", ErrCorrupted, err)
	}
	if errs := g.AddEntities(entities); len(errs) > 0 {
		return fmt.Errorf("%w: duplicate entities in cache: %v", ErrCorrupted, errs[0])
	}
	return nil
}

func (s *Store) loadEdges(ctx context.Context, g *graph.Graph) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, target, kind, site_file, site_line,
			resolution, target_name, candidates_json
		FROM edges
	`)
	if err != nil {
		return fmt.Errorf("%w: querying edges: %v", ErrCorrupted, err)
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		var source, target, kind, resolution, candidatesJSON string
		if err := rows.Scan(&source, &target, &kind, &e.Site.File, &e.Site.Line,
			&resolution, &e.TargetName, &candidatesJSON); err != nil {
			return fmt.Errorf("%w: scanning edge: %v", ErrCorrupted, err)
		}
		e.Source = graph.EntityID(source)
		e.Target = graph.EntityID(target)
		e.Kind = graph.EdgeKind(kind)
		e.Resolution = graph.Resolution(resolution)
		if candidatesJSON != "" {
			if err := json.Unmarshal([]byte(candidatesJSON), &e.Candidates); err != nil {
				return fmt.Errorf("%w: edge candidates: %v", ErrCorrupted, err)
			}
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: reading edges: %v", ErrCorrupted, err)
	}
	if err := g.AddEdges(edges); err != nil {
		return fmt.Errorf("%w: inconsistent edges in cache: %v", ErrCorrupted, err)
	}
	return nil
}

func (s *Store) loadRecords(ctx context.Context, root string) (map[string]engine.FileRecord, *scan.Manifest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, fingerprint, language, status, entity_ids_json, analyzed_at
		FROM file_records
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: querying records: %v", ErrCorrupted, err)
	}
	defer rows.Close()

	records := make(map[string]engine.FileRecord)
	manifest := scan.NewManifest(root)
	for rows.Next() {
		var rec engine.FileRecord
		var status, idsJSON, analyzedAt string
		if err := rows.Scan(&rec.Path, &rec.Fingerprint, &rec.Language,
			&status, &idsJSON, &analyzedAt); err != nil {
			return nil, nil, fmt.Errorf("%w: scanning record: %v", ErrCorrupted, err)
		}
		rec.Status = engine.FileStatus(status)
		if idsJSON != "" {
			if err := json.Unmarshal([]byte(idsJSON), &rec.EntityIDs); err != nil {
				return nil, nil, fmt.Errorf("%w: record %s entity ids: %v", ErrCorrupted, rec.Path, err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, analyzedAt); err == nil {
			rec.AnalyzedAt = t
		}
		records[rec.Path] = rec
		// Mtime and size are not persisted; the next scan rehashes these
		// files and the fingerprint decides what changed.
		manifest.Files[rec.Path] = scan.FileEntry{
			Path:        rec.Path,
			Fingerprint: rec.Fingerprint,
			Language:    rec.Language,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: reading records: %v", ErrCorrupted, err)
	}
	return records, manifest, nil
}

func (s *Store) getMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	return value, err
}
