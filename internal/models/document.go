// Package models defines the domain types for Folio.
package models

import (
	"path"
	"sort"
	"strings"
	"time"
)

// SchemaVersion is written into every WorkspaceMetadata file.
const SchemaVersion = "1"

// Mode selects the editor used for a document.
type Mode string

// Supported document modes.
const (
	ModeRichNotes Mode = "rich-notes"
	ModeMarkdown  Mode = "markdown"
	ModeCode      Mode = "code"
)

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeRichNotes, ModeMarkdown, ModeCode:
		return true
	}
	return false
}

// Modes lists every supported mode.
func Modes() []Mode {
	return []Mode{ModeRichNotes, ModeMarkdown, ModeCode}
}

// WorkspaceInfo holds descriptive fields set once at workspace creation.
type WorkspaceInfo struct {
	Name        string    `json:"name"`
	Created     time.Time `json:"created"`
	Description string    `json:"description,omitempty"`
}

// DocumentMetadata is the persisted record for one document.
type DocumentMetadata struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Mode     Mode      `json:"mode"`
	Tags     []string  `json:"tags"`
	Language string    `json:"language,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// Clone returns a deep copy of d.
func (d DocumentMetadata) Clone() DocumentMetadata {
	d.Tags = append([]string{}, d.Tags...)
	return d
}

// WorkspaceMetadata is the root object of the metadata file.
// Documents is keyed by path relative to the document root.
type WorkspaceMetadata struct {
	Version   string                      `json:"version"`
	Workspace WorkspaceInfo               `json:"workspace"`
	Documents map[string]DocumentMetadata `json:"documents"`
}

// Clone returns a deep copy of m.
func (m *WorkspaceMetadata) Clone() *WorkspaceMetadata {
	out := &WorkspaceMetadata{
		Version:   m.Version,
		Workspace: m.Workspace,
		Documents: make(map[string]DocumentMetadata, len(m.Documents)),
	}
	for p, d := range m.Documents {
		out.Documents[p] = d.Clone()
	}
	return out
}

// Paths returns document paths in lexical order.
func (m *WorkspaceMetadata) Paths() []string {
	out := make([]string, 0, len(m.Documents))
	for p := range m.Documents {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// DocumentEntry pairs a document's metadata with its relative path.
type DocumentEntry struct {
	Path string `json:"path"`
	DocumentMetadata
}

// Entries returns every document as a DocumentEntry, ordered by path.
func (m *WorkspaceMetadata) Entries() []DocumentEntry {
	out := make([]DocumentEntry, 0, len(m.Documents))
	for _, p := range m.Paths() {
		out = append(out, DocumentEntry{Path: p, DocumentMetadata: m.Documents[p].Clone()})
	}
	return out
}

// TagCount is one row of the tag cloud.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// CountTags tallies, for every tag, how many documents carry it.
func (m *WorkspaceMetadata) CountTags() map[string]int {
	counts := make(map[string]int)
	for _, d := range m.Documents {
		seen := make(map[string]struct{}, len(d.Tags))
		for _, t := range d.Tags {
			if _, dup := seen[t]; dup || t == "" {
				continue
			}
			seen[t] = struct{}{}
			counts[t]++
		}
	}
	return counts
}

// NormalizeTags trims tags, drops empties and removes duplicates while
// preserving first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// TitleFromPath derives the default title: the base name without extension.
func TitleFromPath(p string) string {
	base := path.Base(p)
	if ext := path.Ext(base); ext != "" && ext != base {
		base = base[:len(base)-len(ext)]
	}
	return base
}
