// Package lang defines the language analyzer capability interface and the
// analyzers behind it. One analyzer per supported language; files in
// unsupported languages fall back to an opaque analyzer that still represents
// the file in the graph.
package lang

import (
	"context"
	"errors"

	"github.com/weft-tools/loupe/internal/graph"
)

// Sentinel errors returned by analyzers.
var (
	// ErrCorrupted means the content could not be decoded at all (for
	// example, binary data in a source extension). The file is skipped and
	// surfaced as a diagnostic, never a crash.
	ErrCorrupted = errors.New("corrupted file content")

	// ErrFileTooLarge means the content exceeds the analyzer's size limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")
)

// DefaultMaxFileSize bounds the content an analyzer will accept.
const DefaultMaxFileSize = 10 * 1024 * 1024

// Reference is a raw, unresolved reference from one entity to a name.
// Resolution to a target entity happens later, in the engine, once all files
// have been analyzed: same-file candidates shadow imports, cross-file
// candidates come after, unresolvable names become external edges.
type Reference struct {
	From graph.EntityID
	Name string
	Kind graph.EdgeKind
	Site graph.Site
}

// Import is an import statement found in a file.
type Import struct {
	Path  string
	Alias string
	Site  graph.Site
}

// Issue is a non-fatal problem encountered while analyzing a file.
type Issue struct {
	Message string
	Line    int
}

// FileResult is the output of analyzing one file. The first entity is always
// the file entity; the remaining entities are its declarations in source
// order. Partial is set when a syntax error limited extraction to whatever
// top-level declarations could be recovered; the file is still represented,
// never omitted.
type FileResult struct {
	Path       string
	Language   string
	FileEntity graph.EntityID
	Entities   []graph.Entity
	References []Reference
	Imports    []Import
	Partial    bool
	Issues     []Issue
}

// Analyzer is the per-language capability interface. Implementations hold no
// shared mutable state across files, so analysis of independent files can run
// in parallel.
type Analyzer interface {
	// Language returns the canonical language name, e.g. "go".
	Language() string

	// Extensions returns the file extensions this analyzer handles,
	// including the dot.
	Extensions() []string

	// Analyze parses content and extracts entities and raw references.
	// A syntax error in the file degrades the result (Partial=true with
	// recovered declarations) rather than failing it; only undecodable
	// content returns ErrCorrupted.
	Analyze(ctx context.Context, content []byte, path string) (*FileResult, error)
}

// newFileEntity builds the entity representing the file itself.
func newFileEntity(path, language string, lines int) graph.Entity {
	return graph.Entity{
		ID:            graph.NewEntityID(path, ""),
		Name:          path,
		QualifiedName: path,
		Kind:          graph.EntityKindFile,
		File:          path,
		Span:          graph.Span{StartLine: 1, EndLine: lines},
		Visibility:    graph.VisibilityPublic,
		Language:      language,
	}
}

// countLines returns the number of lines in content.
func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := 1
	for _, b := range content {
		if b == '\n' {
			n++
		}
	}
	return n
}
