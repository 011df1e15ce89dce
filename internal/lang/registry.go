package lang

import (
	"path/filepath"
	"strings"
)

// Registry maps languages and file extensions to analyzers. Lookups that find
// no analyzer resolve to the opaque analyzer, so every file in a manifest can
// be analyzed.
type Registry struct {
	byLanguage  map[string]Analyzer
	byExtension map[string]Analyzer
	opaque      *OpaqueAnalyzer
}

// NewRegistry creates a registry containing the given analyzers.
func NewRegistry(analyzers ...Analyzer) *Registry {
	r := &Registry{
		byLanguage:  make(map[string]Analyzer),
		byExtension: make(map[string]Analyzer),
		opaque:      NewOpaqueAnalyzer(),
	}
	for _, a := range analyzers {
		r.Register(a)
	}
	return r
}

// DefaultRegistry returns a registry with all built-in analyzers.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewGoAnalyzer(),
		NewPythonAnalyzer(),
	)
}

// Register adds an analyzer, replacing any previous registration for its
// language or extensions.
func (r *Registry) Register(a Analyzer) {
	r.byLanguage[a.Language()] = a
	for _, ext := range a.Extensions() {
		r.byExtension[strings.ToLower(ext)] = a
	}
}

// ByLanguage returns the analyzer for a language name, or (nil, false).
func (r *Registry) ByLanguage(language string) (Analyzer, bool) {
	a, ok := r.byLanguage[language]
	return a, ok
}

// ForFile returns the analyzer for a file path and whether the language is
// supported. Unsupported files get the opaque analyzer.
func (r *Registry) ForFile(path string) (Analyzer, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if a, ok := r.byExtension[ext]; ok {
		return a, true
	}
	return r.opaque, false
}

// DetectLanguage returns the language name for a file path, or "" when no
// registered analyzer handles it.
func (r *Registry) DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if a, ok := r.byExtension[ext]; ok {
		return a.Language()
	}
	return ""
}

// Languages returns the registered language names.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.byLanguage))
	for name := range r.byLanguage {
		out = append(out, name)
	}
	return out
}
