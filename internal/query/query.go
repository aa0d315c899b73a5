// Package query is the read side of a workspace: listing, search, tag
// filtering and the tag cloud. Nothing here writes.
package query

import (
	"context"
	"strings"

	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/models"
)

// DefaultLimit bounds search results when the caller passes no limit.
const DefaultLimit = 20

// MetadataSource yields the current workspace metadata. Implementations
// return a value the caller may not mutate.
type MetadataSource interface {
	Metadata() *models.WorkspaceMetadata
}

// Index is the subset of the search index the service reads.
type Index interface {
	Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error)
	ByTag(ctx context.Context, tag string) ([]index.Record, error)
	TagCounts(ctx context.Context) ([]models.TagCount, error)
}

// Service answers read queries.
type Service struct {
	meta MetadataSource
	idx  Index
}

// New returns a Service.
func New(meta MetadataSource, idx Index) *Service {
	return &Service{meta: meta, idx: idx}
}

// ListAll returns every tracked document ordered by path.
func (s *Service) ListAll() []models.DocumentEntry {
	return s.meta.Metadata().Entries()
}

// Search runs a ranked full-text query.
func (s *Service) Search(ctx context.Context, q string, limit int) ([]index.SearchResult, error) {
	if strings.TrimSpace(q) == "" {
		return []index.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return s.idx.Search(ctx, q, limit)
}

// ByTag returns documents whose tags contain tag, newest first.
func (s *Service) ByTag(ctx context.Context, tag string) ([]index.Record, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return []index.Record{}, nil
	}
	return s.idx.ByTag(ctx, tag)
}

// TagCloud returns every tag with its document count.
func (s *Service) TagCloud(ctx context.Context) ([]models.TagCount, error) {
	return s.idx.TagCounts(ctx)
}
