// Package workspace owns an open workspace: its document tree, metadata
// file, search index and repository. A Workspace is the only writer of the
// metadata file and the index while it is open; switching workspaces is an
// explicit Close followed by Open.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/metastore"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/query"
	"github.com/starford/folio/internal/reconcile"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/vcs"
)

// Change kinds passed to Options.OnChange.
const (
	ChangeCreated    = "created"
	ChangeUpdated    = "updated"
	ChangeDeleted    = "deleted"
	ChangeReconciled = "reconciled"
)

// Change describes a mutation observers may want to hear about. Path is
// empty and Result set for ChangeReconciled.
type Change struct {
	Kind   string
	Path   string
	Result *reconcile.Result
}

// Options configures Open. Relative directories are resolved against Root.
type Options struct {
	Root         string
	DocumentsDir string // default "documents"
	MetadataFile string // default "folio.json"
	IndexDir     string // default ".folio"
	IndexDriver  string // default index.DriverPureGo
	Description  string // used when a fresh metadata file is created

	VCS       vcs.VersionControl // default vcs.Noop
	Remote    string             // default vcs.DefaultRemote
	Branch    string             // default "main"
	AutoStage bool               // stage every write through VCS

	Logger   *slog.Logger
	Clock    func() time.Time
	OnChange func(Change)
}

func (o *Options) setDefaults() {
	if o.DocumentsDir == "" {
		o.DocumentsDir = "documents"
	}
	if o.MetadataFile == "" {
		o.MetadataFile = "folio.json"
	}
	if o.IndexDir == "" {
		o.IndexDir = ".folio"
	}
	if o.IndexDriver == "" {
		o.IndexDriver = index.DriverPureGo
	}
	if o.VCS == nil {
		o.VCS = vcs.Noop{}
	}
	if o.Remote == "" {
		o.Remote = vcs.DefaultRemote
	}
	if o.Branch == "" {
		o.Branch = "main"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.OnChange == nil {
		o.OnChange = func(Change) {}
	}
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// Workspace is an open workspace handle.
type Workspace struct {
	opts     Options
	root     string
	docsDir  string
	files    *storage.FS
	store    *metastore.Store
	db       *index.DB
	rec      *reconcile.Reconciler
	query    *query.Service
	vcs      vcs.VersionControl
	logger   *slog.Logger
	onChange func(Change)
	exclude  func(string) bool

	mu     sync.RWMutex
	meta   *models.WorkspaceMetadata
	closed bool

	stale  atomic.Bool
	writes selfWrites
}

// Open prepares the workspace directories, loads (or initializes) the
// metadata file, opens the index and runs a full reconciliation. A corrupt
// metadata file fails Open rather than being replaced.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	opts.setDefaults()
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	docsDir := resolve(root, opts.DocumentsDir)
	indexDir := resolve(root, opts.IndexDir)
	metaPath := resolve(root, opts.MetadataFile)

	for _, dir := range []string{docsDir, indexDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("workspace: mkdir %s: %w", dir, err)
		}
	}
	if err := ensureGitignore(root, indexDir); err != nil {
		return nil, err
	}

	files, err := storage.NewFS(docsDir)
	if err != nil {
		return nil, err
	}
	store := metastore.New(metaPath, filepath.Base(root), metastore.WithClock(opts.Clock))
	meta, created, err := store.LoadOrInitialize(opts.Description)
	if err != nil {
		return nil, fmt.Errorf("workspace: open %s: %w", root, err)
	}

	db, err := index.Open(opts.IndexDriver, filepath.Join(indexDir, "index.db"))
	if err != nil {
		return nil, err
	}

	w := &Workspace{
		opts:     opts,
		root:     root,
		docsDir:  docsDir,
		files:    files,
		store:    store,
		db:       db,
		vcs:      opts.VCS,
		logger:   opts.Logger,
		onChange: opts.OnChange,
		meta:     meta,
		writes:   selfWrites{recent: make(map[string]string)},
	}
	w.exclude = excludeFunc(docsDir, indexDir, metaPath, filepath.Join(root, ".gitignore"))
	w.rec = reconcile.New(files, store, db, opts.Logger, reconcile.WithExclude(w.exclude))
	w.query = query.New(w, db)

	w.logger.Info("workspace: opened",
		slog.String("root", root),
		slog.Bool("created", created),
		slog.Bool("full_text", db.FullText()))

	if _, err := w.reconcileLocked(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// Excluded reports whether path, relative to the documents directory, is
// one of the workspace's own bookkeeping files. Watchers use it to stay
// blind to the index and the metadata file.
func (w *Workspace) Excluded(path string) bool {
	return w.exclude(path)
}

// excludeFunc hides the workspace's own bookkeeping files when the
// documents directory contains them. A name followed only by digits is the
// temporary sibling an atomic rewrite of that file goes through.
func excludeFunc(docsDir string, owned ...string) func(string) bool {
	var prefixes []string
	for _, p := range owned {
		rel, err := filepath.Rel(docsDir, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		prefixes = append(prefixes, filepath.ToSlash(rel))
	}
	return func(p string) bool {
		for _, pre := range prefixes {
			rest, ok := strings.CutPrefix(p, pre)
			if ok && (rest == "" || strings.HasPrefix(rest, "/") || isDigits(rest)) {
				return true
			}
		}
		return false
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ensureGitignore makes sure the index directory is ignored by git.
func ensureGitignore(root, indexDir string) error {
	rel, err := filepath.Rel(root, indexDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}
	line := "/" + filepath.ToSlash(rel) + "/"
	path := filepath.Join(root, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("workspace: read .gitignore: %w", err)
	}
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) == line {
			return nil
		}
	}
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		data = append(data, '\n')
	}
	data = append(data, line+"\n"...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("workspace: write .gitignore: %w", err)
	}
	return nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// DocumentsDir returns the absolute documents directory.
func (w *Workspace) DocumentsDir() string { return w.docsDir }

// Close releases the index. A second Close returns apperr.ErrClosed.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperr.ErrClosed
	}
	w.closed = true
	w.logger.Info("workspace: closed", slog.String("root", w.root))
	return w.db.Close()
}

// Metadata returns a copy of the current workspace metadata.
func (w *Workspace) Metadata() *models.WorkspaceMetadata {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.meta.Clone()
}

// Stale reports whether the tree changed out of band since the last
// reconciliation, so the index may not reflect it.
func (w *Workspace) Stale() bool { return w.stale.Load() }

// MarkStale flags the index as possibly out of date.
func (w *Workspace) MarkStale() { w.stale.Store(true) }

// Reconcile runs a full reconciliation pass.
func (w *Workspace) Reconcile(ctx context.Context) (reconcile.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return reconcile.Result{}, apperr.ErrClosed
	}
	return w.reconcileLocked(ctx)
}

func (w *Workspace) reconcileLocked(ctx context.Context) (reconcile.Result, error) {
	next, res, err := w.rec.Run(ctx, w.meta)
	if err != nil {
		w.stale.Store(true)
		return res, err
	}
	w.meta = next
	w.stale.Store(false)
	w.onChange(Change{Kind: ChangeReconciled, Result: &res})
	return res, nil
}

// Prune removes metadata entries whose files are gone and returns their
// paths. It is the only way dangling entries are ever dropped.
func (w *Workspace) Prune(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, apperr.ErrClosed
	}
	next, removed, err := w.rec.Prune(ctx, w.meta)
	if err != nil {
		return nil, err
	}
	w.meta = next
	for _, p := range removed {
		w.onChange(Change{Kind: ChangeDeleted, Path: p})
	}
	if len(removed) > 0 && w.opts.AutoStage {
		w.stage(ctx, removed...)
	}
	return removed, nil
}
