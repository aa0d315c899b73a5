package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/frontmatter"
	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/metastore"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/reconcile"
	"github.com/starford/folio/internal/storage"
)

// Document is a document's metadata together with its body.
type Document struct {
	Path string `json:"path"`
	models.DocumentMetadata
	Body     string `json:"body"`
	Checksum string `json:"checksum"` // of the raw file, header included
	Tracked  bool   `json:"tracked"`  // false until reconciliation picks it up
}

// WriteRequest is the input to WriteDocument. Nil metadata fields keep their
// current value.
type WriteRequest struct {
	Body     string
	Title    *string
	Mode     *models.Mode
	Tags     []string
	Language *string
	// IfMatch, when set, must equal the checksum of the file currently on
	// disk or the write fails with apperr.ErrConflict.
	IfMatch string
	// CreateOnly fails with apperr.ErrAlreadyExists when the document exists.
	CreateOnly bool
}

// ListDocuments returns every tracked document ordered by path.
func (w *Workspace) ListDocuments() ([]models.DocumentEntry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	return w.query.ListAll(), nil
}

// ReadDocument returns the document at path with its header stripped.
func (w *Workspace) ReadDocument(_ context.Context, path string) (*Document, error) {
	path, err := storage.Clean(path)
	if err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, apperr.ErrClosed
	}
	data, err := w.files.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("workspace: %s: %w", path, apperr.ErrNotFound)
		}
		return nil, err
	}
	_, body := frontmatter.Decode(string(data))
	dm, tracked := w.meta.Documents[path]
	return &Document{
		Path:             path,
		DocumentMetadata: dm.Clone(),
		Body:             body,
		Checksum:         checksum.Sum(data),
		Tracked:          tracked,
	}, nil
}

// WriteDocument writes body to path with a header built from the merged
// metadata, then updates the metadata file and the index. It reports
// whether the document was created.
func (w *Workspace) WriteDocument(ctx context.Context, path string, req WriteRequest) (*Document, bool, error) {
	path, err := storage.Clean(path)
	if err != nil {
		return nil, false, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, false, apperr.ErrClosed
	}

	existing, err := w.files.Read(path)
	onDisk := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	_, tracked := w.meta.Documents[path]
	if req.CreateOnly && (onDisk || tracked) {
		return nil, false, fmt.Errorf("workspace: %s: %w", path, apperr.ErrAlreadyExists)
	}
	if req.IfMatch != "" && (!onDisk || !checksum.Equal(existing, req.IfMatch)) {
		return nil, false, fmt.Errorf("workspace: %s: %w", path, apperr.ErrConflict)
	}

	var oldFields frontmatter.Fields
	if onDisk {
		oldFields, _ = frontmatter.Decode(string(existing))
	}

	patch := metastore.Patch{Title: req.Title, Mode: req.Mode, Tags: req.Tags, Language: req.Language}
	if !tracked {
		patch = seedFromHeader(patch, path, oldFields)
	}
	next := w.meta.Clone()
	dm := w.store.UpsertDocument(next, path, patch)

	// A headerless code body that itself opens with a delimiter (a YAML
	// stream, say) still gets a header, or reading it back would eat its
	// first section.
	raw := req.Body
	if dm.Mode != models.ModeCode || len(oldFields) > 0 || frontmatter.Delimited(req.Body) {
		raw = frontmatter.Encode(headerFields(oldFields, dm), req.Body)
	}
	data := []byte(raw)
	_, body := frontmatter.Decode(raw)

	w.writes.remember(path, data)
	if err := w.files.Write(path, data); err != nil {
		w.writes.forget(path)
		return nil, false, err
	}
	if err := w.store.Save(next); err != nil {
		w.stale.Store(true)
		return nil, false, err
	}
	w.meta = next

	if err := w.indexOne(ctx, path, dm, body, !tracked); err != nil {
		w.stale.Store(true)
		return nil, false, err
	}
	if w.opts.AutoStage {
		w.stage(ctx, path)
	}

	kind := ChangeUpdated
	if !tracked {
		kind = ChangeCreated
	}
	w.onChange(Change{Kind: kind, Path: path})
	w.logger.Debug("workspace: wrote document", slog.String("path", path), slog.String("kind", kind))

	return &Document{
		Path:             path,
		DocumentMetadata: dm,
		Body:             body,
		Checksum:         checksum.Sum(data),
		Tracked:          true,
	}, !tracked, nil
}

// seedFromHeader fills the fields patch leaves unset from the header of a
// file that exists on disk but is not tracked yet, falling back to what
// discovery would derive from the path.
func seedFromHeader(patch metastore.Patch, path string, old frontmatter.Fields) metastore.Patch {
	if patch.Title == nil {
		if title := old.String(frontmatter.KeyTitle); title != "" {
			patch.Title = &title
		}
	}
	if patch.Mode == nil {
		mode := models.Mode(old.String(frontmatter.KeyMode))
		if !mode.Valid() {
			mode = reconcile.ModeForPath(path)
		}
		patch.Mode = &mode
	}
	if patch.Tags == nil {
		if tags := old.Strings(frontmatter.KeyTags); len(tags) > 0 {
			patch.Tags = tags
		}
	}
	if patch.Language == nil {
		if lang := old.String(frontmatter.KeyLanguage); lang != "" {
			patch.Language = &lang
		}
	}
	return patch
}

// indexOne is the single-document index primitive of the write path. A new
// document bumps tag counts in place; anything else rebuilds them.
func (w *Workspace) indexOne(ctx context.Context, path string, dm models.DocumentMetadata, body string, isNew bool) error {
	b, err := w.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer b.Rollback() //nolint:errcheck // no-op after commit
	if err := b.IndexDocument(path, dm, body); err != nil {
		return err
	}
	if isNew {
		err = b.IncrementTagCounts(dm.Tags)
	} else {
		err = b.RebuildTagCounts(w.meta)
	}
	if err != nil {
		return err
	}
	return b.Commit()
}

// headerFields overlays the managed keys onto whatever else the existing
// header carried.
func headerFields(old frontmatter.Fields, dm models.DocumentMetadata) frontmatter.Fields {
	fields := frontmatter.Fields{}
	for k, v := range old {
		switch k {
		case frontmatter.KeyCreated, frontmatter.KeyModified:
			continue
		}
		fields[k] = v
	}
	fields[frontmatter.KeyID] = frontmatter.String(dm.ID)
	fields[frontmatter.KeyTitle] = frontmatter.String(dm.Title)
	fields[frontmatter.KeyMode] = frontmatter.String(string(dm.Mode))
	fields[frontmatter.KeyTags] = frontmatter.Strings(dm.Tags...)
	if dm.Language != "" {
		fields[frontmatter.KeyLanguage] = frontmatter.String(dm.Language)
	} else {
		delete(fields, frontmatter.KeyLanguage)
	}
	return fields
}

// DeleteDocument removes the document file, its metadata entry and its
// index rows. Deleting a path the metadata does not know fails with
// apperr.ErrNotFound.
func (w *Workspace) DeleteDocument(ctx context.Context, path string) error {
	path, err := storage.Clean(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperr.ErrClosed
	}

	next := w.meta.Clone()
	if err := w.store.RemoveDocument(next, path); err != nil {
		return err
	}
	w.writes.remember(path, nil)
	if err := w.files.Delete(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.writes.forget(path)
		return err
	}
	if err := w.store.Save(next); err != nil {
		w.stale.Store(true)
		return err
	}
	w.meta = next

	b, err := w.db.Begin(ctx)
	if err != nil {
		w.stale.Store(true)
		return err
	}
	defer b.Rollback() //nolint:errcheck // no-op after commit
	if err := b.Remove(path); err != nil {
		w.stale.Store(true)
		return err
	}
	if err := b.RebuildTagCounts(next); err != nil {
		w.stale.Store(true)
		return err
	}
	if err := b.Commit(); err != nil {
		w.stale.Store(true)
		return err
	}
	if w.opts.AutoStage {
		w.stage(ctx, path)
	}
	w.onChange(Change{Kind: ChangeDeleted, Path: path})
	return nil
}

// Search runs a ranked full-text query.
func (w *Workspace) Search(ctx context.Context, q string, limit int) ([]index.SearchResult, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, apperr.ErrClosed
	}
	return w.query.Search(ctx, q, limit)
}

// ByTag returns documents whose tags contain tag.
func (w *Workspace) ByTag(ctx context.Context, tag string) ([]index.Record, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, apperr.ErrClosed
	}
	return w.query.ByTag(ctx, tag)
}

// TagCloud returns every tag with its document count.
func (w *Workspace) TagCloud(ctx context.Context) ([]models.TagCount, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, apperr.ErrClosed
	}
	return w.query.TagCloud(ctx)
}

func (w *Workspace) checkOpen() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return apperr.ErrClosed
	}
	return nil
}
