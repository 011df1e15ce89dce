package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/weft-tools/loupe/internal/lang"
)

// Options controls what a scanner skips.
type Options struct {
	// ExcludeDirs are directory names skipped anywhere in the tree.
	ExcludeDirs []string
	// ExcludePatterns are gitignore-style patterns applied on top of the
	// root .gitignore.
	ExcludePatterns []string
	// MaxFileSize caps the files included in the manifest; larger files
	// are skipped with a log line. Zero means the analyzer default.
	MaxFileSize int64
	Logger      *zap.Logger
}

// Scanner discovers the analyzable files under a root directory.
type Scanner struct {
	root        string
	registry    *lang.Registry
	matcher     *ignore.GitIgnore
	excludeDirs map[string]bool
	maxFileSize int64
	logger      *zap.Logger
}

// NewScanner creates a scanner rooted at dir. The root's .gitignore, when
// present, is honored together with the configured exclude patterns.
func NewScanner(root string, registry *lang.Registry, opts Options) (*Scanner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	var matcher *ignore.GitIgnore
	gitignorePath := filepath.Join(abs, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		matcher, err = ignore.CompileIgnoreFileAndLines(gitignorePath, opts.ExcludePatterns...)
		if err != nil {
			return nil, fmt.Errorf("compile .gitignore: %w", err)
		}
	} else {
		matcher = ignore.CompileIgnoreLines(opts.ExcludePatterns...)
	}

	excludeDirs := make(map[string]bool, len(opts.ExcludeDirs)+1)
	excludeDirs[".git"] = true
	for _, d := range opts.ExcludeDirs {
		excludeDirs[d] = true
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = lang.DefaultMaxFileSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scanner{
		root:        abs,
		registry:    registry,
		matcher:     matcher,
		excludeDirs: excludeDirs,
		maxFileSize: maxSize,
		logger:      logger,
	}, nil
}

// Root returns the absolute scan root.
func (s *Scanner) Root() string { return s.root }

// Scan walks the tree and builds a manifest. When prev is non-nil, files
// whose size and mtime are unchanged reuse the previous fingerprint instead
// of being rehashed; the fingerprint stays the authoritative change signal
// for everything that differs.
func (s *Scanner) Scan(ctx context.Context, prev *Manifest) (*Manifest, error) {
	m := NewManifest(s.root)
	m.ScannedAt = time.Now()

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			s.logger.Warn("scan skip", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if s.excludeDirs[d.Name()] || s.matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if s.matcher.MatchesPath(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Warn("scan skip", zap.String("path", rel), zap.Error(err))
			return nil
		}
		if info.Size() > s.maxFileSize {
			s.logger.Warn("scan skip oversize",
				zap.String("path", rel),
				zap.Int64("size", info.Size()))
			return nil
		}

		entry := FileEntry{
			Path:     rel,
			Size:     info.Size(),
			Mtime:    info.ModTime(),
			Language: s.registry.DetectLanguage(rel),
		}
		if prevEntry, ok := cachedEntry(prev, rel, info); ok {
			entry.Fingerprint = prevEntry.Fingerprint
		} else {
			fp, err := fingerprintFile(path)
			if err != nil {
				s.logger.Warn("scan skip", zap.String("path", rel), zap.Error(err))
				return nil
			}
			entry.Fingerprint = fp
		}
		m.Files[rel] = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}
	return m, nil
}

// ReadFile returns the content of a manifest-relative path.
func (s *Scanner) ReadFile(rel string) ([]byte, error) {
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || filepath.IsAbs(rel) {
		return nil, fmt.Errorf("path %q escapes scan root", rel)
	}
	return os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
}

// cachedEntry reports whether the previous manifest already fingerprinted
// this exact file state.
func cachedEntry(prev *Manifest, rel string, info fs.FileInfo) (FileEntry, bool) {
	if prev == nil {
		return FileEntry{}, false
	}
	entry, ok := prev.Files[rel]
	if !ok || entry.Size != info.Size() || !entry.Mtime.Equal(info.ModTime()) {
		return FileEntry{}, false
	}
	return entry, true
}

// fingerprintFile hashes a file's content.
func fingerprintFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Fingerprint(content), nil
}

// Fingerprint returns the hex sha256 of content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
