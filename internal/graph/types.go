package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// EntityID is a stable identifier for an entity, derived from the declaring
// file path and qualified name. It does not depend on source positions, so it
// survives edits that only move a declaration within its file.
type EntityID string

// NewEntityID derives the identifier for a declaration.
func NewEntityID(file, qualifiedName string) EntityID {
	sum := sha256.Sum256([]byte(file + "\x00" + qualifiedName))
	return EntityID(hex.EncodeToString(sum[:8]))
}

// EntityKind represents the kind of a code entity.
type EntityKind string

const (
	EntityKindFile      EntityKind = "file"
	EntityKindModule    EntityKind = "module"
	EntityKindClass     EntityKind = "class"
	EntityKindInterface EntityKind = "interface"
	EntityKindFunction  EntityKind = "function"
	EntityKindMethod    EntityKind = "method"
	EntityKindVariable  EntityKind = "var"
	EntityKindConstant  EntityKind = "const"
)

// Visibility represents how widely an entity is accessible.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Span is a source range within a file. Lines are 1-indexed, columns 0-indexed.
type Span struct {
	StartLine int `json:"start_line"`
	StartCol  int `json:"start_col"`
	EndLine   int `json:"end_line"`
	EndCol    int `json:"end_col"`
}

// String returns "startLine:startCol-endLine:endCol".
func (s Span) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", s.StartLine, s.StartCol, s.EndLine, s.EndCol)
}

// EntityMeta holds the closed set of optional typed attributes an analyzer may
// attach to an entity. Anything outside this set goes into Entity.Extra.
type EntityMeta struct {
	Signature  string `json:"signature,omitempty"`
	Receiver   string `json:"receiver,omitempty"`
	ReturnType string `json:"return_type,omitempty"`
	DocComment string `json:"doc_comment,omitempty"`
}

// Entity is a named code unit: a file, module, class, function, or variable.
// Entities are immutable once added to a graph; a changed declaration produces
// a new Entity value under the same ID, swapped atomically during a merge.
type Entity struct {
	ID            EntityID          `json:"id"`
	Name          string            `json:"name"`
	QualifiedName string            `json:"qualified_name"`
	Kind          EntityKind        `json:"kind"`
	File          string            `json:"file"`
	Span          Span              `json:"span"`
	Visibility    Visibility        `json:"visibility"`
	Language      string            `json:"language"`
	Meta          EntityMeta        `json:"meta,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// EdgeKind represents the kind of a relationship between two entities.
type EdgeKind string

const (
	EdgeKindImport    EdgeKind = "import"
	EdgeKindCall      EdgeKind = "call"
	EdgeKindInherit   EdgeKind = "inherit"
	EdgeKindCompose   EdgeKind = "compose"
	EdgeKindDataFlow  EdgeKind = "dataflow"
	EdgeKindReference EdgeKind = "reference"
	EdgeKindContains  EdgeKind = "contains"
)

// Resolution states how an edge target was resolved.
type Resolution string

const (
	// ResolutionResolved means the target is a known entity in the graph.
	ResolutionResolved Resolution = "resolved"
	// ResolutionExternal means the target could not be resolved inside the
	// repository; the edge is kept rather than dropped.
	ResolutionExternal Resolution = "external"
	// ResolutionAmbiguous means multiple candidate targets matched; the edge
	// points at the preferred candidate and Candidates carries the full list.
	ResolutionAmbiguous Resolution = "ambiguous"
)

// Site is a call-site or reference location.
type Site struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// Edge is a directed relationship between two entities. Edges are not unique
// per (source, target, kind): distinct call sites produce distinct edges.
type Edge struct {
	Source     EntityID   `json:"source"`
	Target     EntityID   `json:"target"`
	Kind       EdgeKind   `json:"kind"`
	Site       Site       `json:"site,omitempty"`
	Resolution Resolution `json:"resolution"`
	// TargetName is the referenced name as written in source. Populated for
	// external and ambiguous edges so consumers can report what dangled.
	TargetName string `json:"target_name,omitempty"`
	// Candidates lists all matching targets for ambiguous edges, sorted by ID.
	Candidates []EntityID `json:"candidates,omitempty"`
}
