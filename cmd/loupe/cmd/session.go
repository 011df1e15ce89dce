package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/weft-tools/loupe/internal/cache"
	"github.com/weft-tools/loupe/internal/config"
	"github.com/weft-tools/loupe/internal/engine"
	"github.com/weft-tools/loupe/internal/lang"
	"github.com/weft-tools/loupe/internal/query"
	"github.com/weft-tools/loupe/internal/scan"
)

// session wires the scanner, engine, and cache for one scan root. Every
// command opens a session, refreshes the snapshot, and queries it.
type session struct {
	root    string
	cfg     *config.Config
	logger  *zap.Logger
	scanner *scan.Scanner
	engine  *engine.Engine
	store   *cache.Store
}

func openSession(path string) (*session, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	var cfg *config.Config
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadFromDir(root)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	registry := lang.DefaultRegistry()
	scanner, err := scan.NewScanner(root, registry, scan.Options{
		ExcludeDirs:     cfg.Exclude.Dirs,
		ExcludePatterns: cfg.Exclude.FilesGlob,
		MaxFileSize:     cfg.Analysis.MaxFileSizeBytes,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.Analysis.Workers),
	}

	var store *cache.Store
	if !cfg.Cache.Disabled {
		store, err = cache.Open(cfg.CacheDir(root))
		if err != nil {
			logger.Warn("cache unavailable, continuing without it", zap.Error(err))
			store = nil
		} else {
			opts = append(opts, engine.WithCache(store))
		}
	}

	return &session{
		root:    root,
		cfg:     cfg,
		logger:  logger,
		scanner: scanner,
		engine:  engine.New(registry, opts...),
		store:   store,
	}, nil
}

func (s *session) close() {
	if s.store != nil {
		s.store.Close()
	}
	_ = s.logger.Sync()
}

// refresh brings the engine's snapshot up to date: restore from cache when
// possible, rescan the tree, and reanalyze whatever changed. An unusable
// cache is cleared and the graph rebuilt cold.
func (s *session) refresh(ctx context.Context) (*engine.Result, error) {
	if s.store != nil {
		if _, err := s.engine.Restore(ctx); err != nil {
			s.logger.Warn("cache restore failed, rebuilding", zap.Error(err))
			if errors.Is(err, cache.ErrVersionMismatch) || errors.Is(err, cache.ErrCorrupted) {
				if cerr := s.store.Clear(); cerr != nil {
					s.logger.Warn("cache clear failed", zap.Error(cerr))
				}
			}
		}
	}

	var prev *scan.Manifest
	if snap := s.engine.Snapshot(); snap != nil {
		prev = snap.Manifest
	}
	manifest, err := s.scanner.Scan(ctx, prev)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}
	return s.engine.Update(ctx, manifest, s.scanner)
}

// rebuild ignores any cached snapshot and reanalyzes every file.
func (s *session) rebuild(ctx context.Context) (*engine.Result, error) {
	manifest, err := s.scanner.Scan(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}
	return s.engine.Build(ctx, manifest, s.scanner)
}

func (s *session) facade() *query.Facade {
	return query.New(s.engine.Snapshot())
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func pathArg(args []string, index int) string {
	if len(args) > index {
		return args[index]
	}
	return "."
}

func printDiagnostics(diags []engine.Diagnostic, verbose bool) {
	if len(diags) == 0 {
		return
	}
	if verbose {
		for _, d := range diags {
			fmt.Fprintln(os.Stderr, d)
		}
		return
	}
	fmt.Printf("  Diagnostics:\n")
	counts := engine.CountByKind(diags)
	for _, kind := range sortedDiagKinds(counts) {
		fmt.Printf("    %-26s %d\n", kind, counts[kind])
	}
}

func sortedDiagKinds(counts map[engine.DiagKind]int) []engine.DiagKind {
	kinds := make([]engine.DiagKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
