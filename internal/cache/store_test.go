package cache

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/weft-tools/loupe/internal/engine"
	"github.com/weft-tools/loupe/internal/graph"
	"github.com/weft-tools/loupe/internal/lang"
	"github.com/weft-tools/loupe/internal/scan"
)

type memSource map[string]string

func (m memSource) ReadFile(path string) ([]byte, error) {
	content, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(content), nil
}

func buildSnapshot(t *testing.T) *engine.Snapshot {
	t.Helper()
	files := memSource{
		"a.py": "class Base:\n    pass\n\nclass Impl(Base):\n    def run(self):\n        return helper()\n\ndef helper():\n    return 1\n",
		"b.py": "from a import helper\n\ndef entry():\n    return helper()\n",
	}
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
	res, err := engine.New(reg).Build(context.Background(), m, files)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return res.Snapshot
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreLoadRoundTrip(t *testing.T) {
	snap := buildSnapshot(t)
	s := openStore(t)
	ctx := context.Background()

	if err := s.Store(ctx, snap); err != nil {
		t.Fatalf("Store: %v", err)
	}
	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil for populated cache")
	}

	if loaded.ID != snap.ID {
		t.Fatalf("snapshot ID = %s, want %s", loaded.ID, snap.ID)
	}
	if !reflect.DeepEqual(loaded.Graph.Entities(), snap.Graph.Entities()) {
		t.Fatal("entity sets differ after round trip")
	}
	if !reflect.DeepEqual(loaded.Graph.Edges(), snap.Graph.Edges()) {
		t.Fatal("edge sets differ after round trip")
	}
	if !loaded.Graph.Frozen() {
		t.Fatal("loaded graph is not frozen")
	}
	for p, rec := range snap.Records {
		got, ok := loaded.Records[p]
		if !ok {
			t.Fatalf("record %s missing", p)
		}
		if got.Fingerprint != rec.Fingerprint || got.Status != rec.Status {
			t.Fatalf("record %s = %+v, want %+v", p, got, rec)
		}
	}
	if loaded.Manifest.Root != "/project" {
		t.Fatalf("manifest root = %s", loaded.Manifest.Root)
	}
	if loaded.Manifest.Files["a.py"].Fingerprint != snap.Manifest.Files["a.py"].Fingerprint {
		t.Fatal("manifest fingerprints differ")
	}
}

func TestLoadEmptyCache(t *testing.T) {
	s := openStore(t)
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap != nil {
		t.Fatal("empty cache returned a snapshot")
	}
}

func TestLoadVersionMismatch(t *testing.T) {
	snap := buildSnapshot(t)
	s := openStore(t)
	ctx := context.Background()

	if err := s.Store(ctx, snap); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := s.db.Exec("UPDATE metadata SET value = '999' WHERE key = 'schema_version'"); err != nil {
		t.Fatal(err)
	}

	_, err := s.Load(ctx)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}

	// The documented fallback: clear and rebuild cold.
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("after Clear: snap=%v err=%v", got, err)
	}
}

func TestLoadCorruptedRows(t *testing.T) {
	snap := buildSnapshot(t)
	s := openStore(t)
	ctx := context.Background()

	if err := s.Store(ctx, snap); err != nil {
		t.Fatalf("Store: %v", err)
	}
	// An edge whose source entity does not exist cannot reassemble.
	if _, err := s.db.Exec(`
		INSERT INTO edges (source, target, kind, site_file, site_line, resolution, target_name, candidates_json)
		VALUES ('nope', 'nada', 'call', '', 0, 'resolved', '', '')
	`); err != nil {
		t.Fatal(err)
	}

	_, err := s.Load(ctx)
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("err = %v, want ErrCorrupted", err)
	}
}

func TestInvalidate(t *testing.T) {
	snap := buildSnapshot(t)
	s := openStore(t)
	ctx := context.Background()

	if err := s.Store(ctx, snap); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Invalidate([]string{"b.py"}); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := loaded.Records["b.py"]; ok {
		t.Fatal("invalidated record survived")
	}
	if _, ok := loaded.Records["a.py"]; !ok {
		t.Fatal("untouched record lost")
	}
	if len(loaded.Graph.EntitiesInFile("b.py")) != 0 {
		t.Fatal("invalidated file's entities survived")
	}
	if _, ok := loaded.Graph.Entity(graph.NewEntityID("a.py", "helper")); !ok {
		t.Fatal("untouched file's entities lost")
	}
}

func TestEngineRestoreFromCache(t *testing.T) {
	snap := buildSnapshot(t)
	s := openStore(t)
	ctx := context.Background()
	if err := s.Store(ctx, snap); err != nil {
		t.Fatalf("Store: %v", err)
	}

	e := engine.New(lang.DefaultRegistry(), engine.WithCache(s))
	restored, err := e.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored == nil || restored.ID != snap.ID {
		t.Fatalf("restored = %+v", restored)
	}
	if e.Snapshot() == nil {
		t.Fatal("engine did not publish the restored snapshot")
	}
}
