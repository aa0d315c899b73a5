package workspace

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"

	"github.com/starford/folio/internal/reconcile"
	"github.com/starford/folio/internal/storage"
)

// HandleExternalChange is called with document paths a watcher saw change.
// Paths whose current state is what this workspace itself wrote are
// ignored; anything else marks the workspace stale and reconciles. It
// reports whether a reconciliation ran.
func (w *Workspace) HandleExternalChange(ctx context.Context, paths []string) (bool, error) {
	external := false
	for _, p := range paths {
		key, err := storage.Clean(p)
		if err != nil || w.exclude(key) || storage.IsTemp(path.Base(key)) {
			continue
		}
		data, err := w.files.Read(key)
		exists := err == nil
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			external = true
			break
		}
		if !w.writes.matches(key, data, exists) {
			w.logger.Debug("workspace: external change", slog.String("path", key))
			external = true
			break
		}
	}
	if !external {
		return false, nil
	}
	w.MarkStale()
	if _, err := w.Reconcile(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// ReconcileIfStale reconciles only when an out-of-band change was seen.
func (w *Workspace) ReconcileIfStale(ctx context.Context) (reconcile.Result, bool, error) {
	if !w.Stale() {
		return reconcile.Result{}, false, nil
	}
	res, err := w.Reconcile(ctx)
	return res, true, err
}
