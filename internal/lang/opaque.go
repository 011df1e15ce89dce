package lang

import (
	"bytes"
	"context"
	"fmt"

	"github.com/weft-tools/loupe/internal/graph"
)

// OpaqueAnalyzer handles files in unsupported languages. It short-circuits to
// a single File entity with no internal symbols; the file still participates
// in directory-structure and import edges targeting it.
type OpaqueAnalyzer struct {
	maxFileSize int64
}

// NewOpaqueAnalyzer creates the fallback analyzer.
func NewOpaqueAnalyzer() *OpaqueAnalyzer {
	return &OpaqueAnalyzer{maxFileSize: DefaultMaxFileSize}
}

// Language returns "unknown".
func (a *OpaqueAnalyzer) Language() string { return "unknown" }

// Extensions returns nil; the registry routes to this analyzer by fallback,
// not by extension.
func (a *OpaqueAnalyzer) Extensions() []string { return nil }

// Analyze emits exactly one File entity. Binary content is accepted: an
// opaque file has no symbols to decode.
func (a *OpaqueAnalyzer) Analyze(ctx context.Context, content []byte, path string) (*FileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int64(len(content)) > a.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(content))
	}

	file := newFileEntity(path, "unknown", countLines(content))
	if bytes.IndexByte(content, 0) >= 0 {
		file.Extra = map[string]string{"binary": "true"}
	}
	return &FileResult{
		Path:       path,
		Language:   "unknown",
		FileEntity: file.ID,
		Entities:   []graph.Entity{file},
	}, nil
}
