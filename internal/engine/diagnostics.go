package engine

import "fmt"

// DiagKind classifies a recoverable problem encountered while building or
// updating the graph. Nothing in this taxonomy aborts a build; diagnostics
// accumulate and come back with the result.
type DiagKind string

const (
	DiagParseError              DiagKind = "parse_error"
	DiagUnsupportedLanguage     DiagKind = "unsupported_language"
	DiagCorruptedFile           DiagKind = "corrupted_file"
	DiagUnresolvedReference     DiagKind = "unresolved_reference"
	DiagAmbiguousReference      DiagKind = "ambiguous_reference"
	DiagCacheCorruption         DiagKind = "cache_corruption"
	DiagCacheVersionMismatch    DiagKind = "cache_version_mismatch"
	DiagTraversalBudgetExceeded DiagKind = "traversal_budget_exceeded"
	DiagIdentifierCollision     DiagKind = "identifier_collision"
)

// Diagnostic is one recorded problem, attributed to a file when one applies.
type Diagnostic struct {
	Kind    DiagKind `json:"kind"`
	File    string   `json:"file,omitempty"`
	Line    int      `json:"line,omitempty"`
	Name    string   `json:"name,omitempty"`
	Message string   `json:"message"`
}

func (d Diagnostic) String() string {
	switch {
	case d.File != "" && d.Line > 0:
		return fmt.Sprintf("%s: %s:%d: %s", d.Kind, d.File, d.Line, d.Message)
	case d.File != "":
		return fmt.Sprintf("%s: %s: %s", d.Kind, d.File, d.Message)
	default:
		return fmt.Sprintf("%s: %s", d.Kind, d.Message)
	}
}

// CountByKind tallies diagnostics per kind.
func CountByKind(diags []Diagnostic) map[DiagKind]int {
	if len(diags) == 0 {
		return nil
	}
	out := make(map[DiagKind]int)
	for _, d := range diags {
		out[d.Kind]++
	}
	return out
}
