// Package scan walks a source tree and produces a manifest of analyzable
// files. The manifest is the unit of input to graph construction: each entry
// carries a content fingerprint, and comparing two manifests yields the exact
// change set an incremental update needs.
package scan

import (
	"sort"
	"time"
)

// FileEntry describes one file in a manifest.
type FileEntry struct {
	// Path is the file's path relative to the scan root, forward slashes.
	Path string `json:"path"`
	// Fingerprint is the hex sha256 of the file content. It is the
	// authoritative change signal; Mtime is only an optimization hint.
	Fingerprint string    `json:"fingerprint"`
	Size        int64     `json:"size"`
	Mtime       time.Time `json:"mtime"`
	// Language is the detected language, or "" when no analyzer handles
	// the extension.
	Language string `json:"language,omitempty"`
}

// Manifest is the set of files discovered by one scan.
type Manifest struct {
	Root      string               `json:"root"`
	ScannedAt time.Time            `json:"scanned_at"`
	Files     map[string]FileEntry `json:"files"`
}

// NewManifest creates an empty manifest for a root.
func NewManifest(root string) *Manifest {
	return &Manifest{Root: root, Files: make(map[string]FileEntry)}
}

// Paths returns the manifest's file paths in sorted order.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.Files))
	for p := range m.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Changes is the difference between two manifests, partitioned by what an
// updater has to do for each path.
type Changes struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Empty reports whether the change set requires no work.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Total returns the number of changed paths.
func (c Changes) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Removed)
}

// Diff compares an old manifest against a new one. A file counts as modified
// only when its fingerprint differs; mtime-only churn (touch, checkout) does
// not trigger reanalysis. All slices come back sorted.
func Diff(old, cur *Manifest) Changes {
	var c Changes
	if old == nil {
		for p := range cur.Files {
			c.Added = append(c.Added, p)
		}
		sort.Strings(c.Added)
		return c
	}
	for p, entry := range cur.Files {
		prev, ok := old.Files[p]
		switch {
		case !ok:
			c.Added = append(c.Added, p)
		case prev.Fingerprint != entry.Fingerprint:
			c.Modified = append(c.Modified, p)
		}
	}
	for p := range old.Files {
		if _, ok := cur.Files[p]; !ok {
			c.Removed = append(c.Removed, p)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Modified)
	sort.Strings(c.Removed)
	return c
}
