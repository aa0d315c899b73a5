package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/reconcile"
)

// repoPath maps a document key to a path relative to the workspace root,
// which is where the repository lives.
func (w *Workspace) repoPath(docPath string) string {
	rel, err := filepath.Rel(w.root, filepath.Join(w.docsDir, filepath.FromSlash(docPath)))
	if err != nil {
		return docPath
	}
	return filepath.ToSlash(rel)
}

func (w *Workspace) metadataRepoPath() string {
	rel, err := filepath.Rel(w.root, w.store.Path())
	if err != nil {
		return w.store.Path()
	}
	return filepath.ToSlash(rel)
}

// stage hands changed documents and the metadata file to version control.
// Staging failures are logged; the write itself already succeeded.
func (w *Workspace) stage(ctx context.Context, docPaths ...string) {
	paths := make([]string, 0, len(docPaths)+1)
	for _, p := range docPaths {
		paths = append(paths, w.repoPath(p))
	}
	paths = append(paths, w.metadataRepoPath())
	if err := w.vcs.Stage(ctx, paths...); err != nil {
		w.logger.Warn("workspace: stage failed", slog.String("error", err.Error()))
	}
}

// Commit stages the documents directory and metadata file and commits
// them. A clean tree returns vcs.ErrNothingToCommit.
func (w *Workspace) Commit(ctx context.Context, message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperr.ErrClosed
	}
	docs, err := filepath.Rel(w.root, w.docsDir)
	if err != nil {
		return fmt.Errorf("workspace: commit: %w", err)
	}
	if err := w.vcs.Stage(ctx, filepath.ToSlash(docs), w.metadataRepoPath()); err != nil {
		return err
	}
	return w.vcs.Commit(ctx, message)
}

// Push publishes local commits to the configured remote and branch.
func (w *Workspace) Push(ctx context.Context) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return apperr.ErrClosed
	}
	return w.vcs.Push(ctx, w.opts.Remote, w.opts.Branch)
}

// Pull merges the remote branch and then reconciles, whether or not the
// pull succeeded, since a failed merge can still leave files changed.
func (w *Workspace) Pull(ctx context.Context) (reconcile.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return reconcile.Result{}, apperr.ErrClosed
	}
	pullErr := w.vcs.Pull(ctx, w.opts.Remote, w.opts.Branch)
	return w.afterRemote(ctx, "pull", pullErr)
}

// Sync points the repository at url, pulls, pushes and reconciles.
func (w *Workspace) Sync(ctx context.Context, url, credential string) (reconcile.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return reconcile.Result{}, apperr.ErrClosed
	}
	syncErr := w.vcs.SyncWithRemote(ctx, url, credential)
	return w.afterRemote(ctx, "sync", syncErr)
}

// afterRemote reloads the metadata file, which the remote may have changed,
// and reconciles. It runs with w.mu held.
func (w *Workspace) afterRemote(ctx context.Context, op string, opErr error) (reconcile.Result, error) {
	w.stale.Store(true)
	if opErr != nil {
		w.logger.Warn("workspace: "+op+" failed", slog.String("error", opErr.Error()))
	}
	meta, err := w.store.Load()
	if err != nil {
		return reconcile.Result{}, errors.Join(opErr, err)
	}
	w.meta = meta
	res, err := w.reconcileLocked(ctx)
	return res, errors.Join(opErr, err)
}

// Status reports per-path repository status relative to the workspace root.
func (w *Workspace) Status(ctx context.Context) (map[string]string, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	return w.vcs.Status(ctx)
}
