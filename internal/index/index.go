package index

import (
	"context"

	"github.com/starford/folio/internal/models"
)

// Index defines the read and write operations consumers need from the search
// index. Consumers should depend on this interface rather than the concrete
// *DB type to facilitate testing with fakes.
type Index interface {
	Begin(ctx context.Context) (*Batch, error)
	IndexDocument(ctx context.Context, path string, meta models.DocumentMetadata, content string) error
	Remove(ctx context.Context, path string) error
	RebuildTagCounts(ctx context.Context, meta *models.WorkspaceMetadata) error
	IncrementTagCounts(ctx context.Context, tags []string) error
	Clear(ctx context.Context) error

	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	ByTag(ctx context.Context, tag string) ([]Record, error)
	TagCounts(ctx context.Context) ([]models.TagCount, error)
	Document(ctx context.Context, path string) (*Record, error)
	Close() error
}

// Verify *DB satisfies Index at compile time.
var _ Index = (*DB)(nil)
