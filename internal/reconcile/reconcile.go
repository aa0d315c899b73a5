// Package reconcile restores consistency between the document tree, the
// workspace metadata and the search index after out-of-band changes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/folio/internal/frontmatter"
	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/storage"
)

// idNamespace scopes path-derived document IDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/starford/folio/document"))

// Files is the read side of the document tree.
type Files interface {
	List() ([]storage.FileInfo, error)
	Read(path string) ([]byte, error)
	Exists(path string) (bool, error)
}

// Saver persists workspace metadata.
type Saver interface {
	Save(m *models.WorkspaceMetadata) error
}

// Batcher opens index write batches.
type Batcher interface {
	Begin(ctx context.Context) (*index.Batch, error)
}

// Result summarizes one reconciliation pass.
type Result struct {
	Indexed    int           // documents written to the index
	Discovered []string      // paths added to the metadata
	Dangling   []string      // metadata paths with no file on disk
	Skipped    []string      // files that could not be read
	Duration   time.Duration // wall time of the pass
}

// Reconciler rebuilds the index and discovers untracked files.
type Reconciler struct {
	files   Files
	store   Saver
	index   Batcher
	logger  *slog.Logger
	exclude func(path string) bool
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithExclude skips document-root paths for which fn returns true.
func WithExclude(fn func(path string) bool) Option {
	return func(r *Reconciler) { r.exclude = fn }
}

// New returns a Reconciler.
func New(files Files, store Saver, idx Batcher, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		files:   files,
		store:   store,
		index:   idx,
		logger:  logger,
		exclude: func(string) bool { return false },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs a full pass against meta. meta is not modified; the returned
// metadata is what was persisted and must replace it. On error neither the
// metadata file nor the index has changed.
//
// Entries whose file is missing are reported in Result.Dangling and kept;
// only Prune removes them.
func (r *Reconciler) Run(ctx context.Context, meta *models.WorkspaceMetadata) (*models.WorkspaceMetadata, Result, error) {
	start := time.Now()
	next := meta.Clone()
	var res Result

	b, err := r.index.Begin(ctx)
	if err != nil {
		return nil, res, err
	}
	defer b.Rollback() //nolint:errcheck // no-op after commit

	if err := b.Clear(); err != nil {
		return nil, res, err
	}

	for _, p := range next.Paths() {
		data, err := r.files.Read(p)
		if errors.Is(err, fs.ErrNotExist) {
			res.Dangling = append(res.Dangling, p)
			continue
		}
		if err != nil {
			r.logger.Warn("reconcile: skipped unreadable document",
				slog.String("path", p), slog.String("error", err.Error()))
			res.Skipped = append(res.Skipped, p)
			continue
		}
		_, body := frontmatter.Decode(string(data))
		if err := b.IndexDocument(p, next.Documents[p], body); err != nil {
			return nil, res, err
		}
		res.Indexed++
	}

	files, err := r.files.List()
	if err != nil {
		return nil, res, fmt.Errorf("reconcile: list documents: %w", err)
	}
	discovered := map[string]models.DocumentMetadata{}
	for _, fi := range files {
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}
		if _, known := next.Documents[fi.Path]; known || r.exclude(fi.Path) {
			continue
		}
		data, err := r.files.Read(fi.Path)
		if err != nil {
			r.logger.Warn("reconcile: skipped unreadable file",
				slog.String("path", fi.Path), slog.String("error", err.Error()))
			res.Skipped = append(res.Skipped, fi.Path)
			continue
		}
		fields, body := frontmatter.Decode(string(data))
		dm := Discover(fi, fields)
		if err := b.IndexDocument(fi.Path, dm, body); err != nil {
			return nil, res, err
		}
		discovered[fi.Path] = dm
		res.Discovered = append(res.Discovered, fi.Path)
		res.Indexed++
		r.logger.Debug("reconcile: discovered", slog.String("path", fi.Path), slog.String("mode", string(dm.Mode)))
	}

	if len(discovered) > 0 {
		for p, dm := range discovered {
			next.Documents[p] = dm
		}
		if err := r.store.Save(next); err != nil {
			return nil, res, err
		}
	}

	if err := b.RebuildTagCounts(next); err != nil {
		return nil, res, err
	}
	if err := b.Commit(); err != nil {
		return nil, res, err
	}

	res.Duration = time.Since(start)
	r.logger.Info("reconcile: done",
		slog.Int("indexed", res.Indexed),
		slog.Int("discovered", len(res.Discovered)),
		slog.Int("dangling", len(res.Dangling)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Duration("took", res.Duration))
	return next, res, nil
}

// Prune drops metadata entries whose file no longer exists, removes them
// from the index and recomputes tag counts. It returns the new metadata and
// the removed paths. A file that cannot be checked is kept.
func (r *Reconciler) Prune(ctx context.Context, meta *models.WorkspaceMetadata) (*models.WorkspaceMetadata, []string, error) {
	next := meta.Clone()
	removed := []string{}
	for _, p := range next.Paths() {
		ok, err := r.files.Exists(p)
		if err != nil {
			r.logger.Warn("reconcile: prune check failed",
				slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		if !ok {
			delete(next.Documents, p)
			removed = append(removed, p)
		}
	}
	if len(removed) == 0 {
		return next, removed, nil
	}

	b, err := r.index.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer b.Rollback() //nolint:errcheck // no-op after commit
	for _, p := range removed {
		if err := b.Remove(p); err != nil {
			return nil, nil, err
		}
	}
	if err := r.store.Save(next); err != nil {
		return nil, nil, err
	}
	if err := b.RebuildTagCounts(next); err != nil {
		return nil, nil, err
	}
	if err := b.Commit(); err != nil {
		return nil, nil, err
	}
	r.logger.Info("reconcile: pruned", slog.Int("removed", len(removed)))
	return next, removed, nil
}

// DocumentID derives the stable ID a discovered file receives.
func DocumentID(path string) string {
	return uuid.NewSHA1(idNamespace, []byte(path)).String()
}

// Discover builds metadata for an untracked file from its header fields and
// filesystem timestamps. Header fields are optional.
func Discover(fi storage.FileInfo, fields frontmatter.Fields) models.DocumentMetadata {
	mode := models.Mode(fields.String(frontmatter.KeyMode))
	if !mode.Valid() {
		mode = ModeForPath(fi.Path)
	}
	title := fields.String(frontmatter.KeyTitle)
	if title == "" {
		title = models.TitleFromPath(fi.Path)
	}
	modified := fi.ModTime.UTC()
	created := fi.BirthTime.UTC()
	if fi.BirthTime.IsZero() {
		created = modified
	}
	return models.DocumentMetadata{
		ID:       DocumentID(fi.Path),
		Title:    title,
		Mode:     mode,
		Tags:     models.NormalizeTags(fields.Strings(frontmatter.KeyTags)),
		Language: fields.String(frontmatter.KeyLanguage),
		Created:  created,
		Modified: modified,
	}
}
