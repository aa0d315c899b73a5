package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/reconcile"
	"github.com/starford/folio/internal/workspace"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 10 << 20

// WriteDocumentRequest is the request body for PUT /documents/{path}.
// Omitted metadata fields keep their current values.
type WriteDocumentRequest struct {
	Body     string       `json:"body"`
	Title    *string      `json:"title,omitempty"`
	Mode     *models.Mode `json:"mode,omitempty"`
	Tags     []string     `json:"tags,omitempty"`
	Language *string      `json:"language,omitempty"`
}

// Validate checks field formats.
func (r WriteDocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Mode, validation.NilOrNotEmpty, validation.By(validMode)),
		validation.Field(&r.Title, validation.NilOrNotEmpty, validation.Length(0, 512)),
		validation.Field(&r.Tags, validation.Each(validation.Required, validation.Length(1, 128))),
		validation.Field(&r.Language, validation.Length(0, 64)),
	)
}

func validMode(v any) error {
	m, ok := v.(*models.Mode)
	if !ok || m == nil {
		return nil
	}
	if !m.Valid() {
		return validation.NewError("validation_mode", "must be one of rich-notes, markdown, code")
	}
	return nil
}

// CommitRequest is the request body for POST /vcs/commit.
type CommitRequest struct {
	Message string `json:"message"`
}

// Validate checks field formats.
func (r CommitRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.Required, validation.Length(1, 1000)),
	)
}

// SyncRequest is the request body for POST /vcs/sync.
type SyncRequest struct {
	URL        string `json:"url"`
	Credential string `json:"credential,omitempty"`
}

// Validate checks field formats.
func (r SyncRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required),
	)
}

// DocumentListResponse wraps the document listing.
type DocumentListResponse struct {
	Documents []models.DocumentEntry `json:"documents"`
	Total     int                    `json:"total"`
	Stale     bool                   `json:"stale"`
}

// Document is the full document response type.
type Document = workspace.Document

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path     string      `json:"path"`
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Mode     models.Mode `json:"mode"`
	Tags     []string    `json:"tags"`
	Modified time.Time   `json:"modified"`
	Score    float64     `json:"score"`
	Snippet  string      `json:"snippet"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Stale   bool           `json:"stale"`
}

func toSearchResults(in []index.SearchResult) []SearchResult {
	out := make([]SearchResult, len(in))
	for i, r := range in {
		out[i] = SearchResult{
			Path: r.Path, ID: r.ID, Title: r.Title, Mode: r.Mode,
			Tags: r.Tags, Modified: r.Modified, Score: r.Score, Snippet: r.Snippet,
		}
	}
	return out
}

// TaggedDocument is one entry of a by-tag listing.
type TaggedDocument struct {
	Path     string      `json:"path"`
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Mode     models.Mode `json:"mode"`
	Tags     []string    `json:"tags"`
	Created  time.Time   `json:"created"`
	Modified time.Time   `json:"modified"`
}

func toTagged(in []index.Record) []TaggedDocument {
	out := make([]TaggedDocument, len(in))
	for i, r := range in {
		out[i] = TaggedDocument{
			Path: r.Path, ID: r.ID, Title: r.Title, Mode: r.Mode,
			Tags: r.Tags, Created: r.Created, Modified: r.Modified,
		}
	}
	return out
}

// TagCloudResponse wraps the tag cloud.
type TagCloudResponse struct {
	Tags []models.TagCount `json:"tags"`
}

// ReconcileResponse reports a reconciliation pass.
type ReconcileResponse struct {
	Indexed    int      `json:"indexed"`
	Discovered []string `json:"discovered"`
	Dangling   []string `json:"dangling"`
	Skipped    []string `json:"skipped"`
	DurationMS int64    `json:"duration_ms"`
}

func toReconcileResponse(res reconcile.Result) ReconcileResponse {
	return ReconcileResponse{
		Indexed:    res.Indexed,
		Discovered: nonNilSlice(res.Discovered),
		Dangling:   nonNilSlice(res.Dangling),
		Skipped:    nonNilSlice(res.Skipped),
		DurationMS: res.Duration.Milliseconds(),
	}
}

// PruneResponse lists the entries a prune removed.
type PruneResponse struct {
	Removed []string `json:"removed"`
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
