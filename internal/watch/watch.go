// Package watch reports out-of-band changes under a directory tree. Events
// are collected per relative path and delivered in debounced batches.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"

	"github.com/starford/folio/internal/storage"
)

// DefaultDebounce is used when a non-positive debounce is given.
const DefaultDebounce = 250 * time.Millisecond

// Handler receives the slash-separated relative paths that changed since
// the previous call. Calls never overlap.
type Handler func(ctx context.Context, paths []string)

// Watcher watches root and every directory below it.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger
	handler  Handler
	ignore   func(rel string) bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithIgnore drops every path for which fn returns true. fn receives the
// same slash-separated relative path a Handler would; an ignored directory
// is not watched at all.
func WithIgnore(fn func(rel string) bool) Option {
	return func(w *Watcher) { w.ignore = fn }
}

// New returns a Watcher.
func New(root string, debounce time.Duration, logger *slog.Logger, h Handler, opts ...Option) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{root: root, debounce: debounce, logger: logger, handler: h}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes events until ctx is cancelled. New directories created at
// runtime are added to the watch list and files already inside them are
// reported.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addDirsRecursive(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", w.root))

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("watcher: stopped")
			return nil

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			w.handler(ctx, paths)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := w.addDirsRecursive(fw, ev.Name); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						w.logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
					w.collectDir(ev.Name, pending)
					timer.Reset(w.debounce)
					continue
				}
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if rel, ok := w.rel(ev.Name); ok {
				pending[rel] = struct{}{}
				timer.Reset(w.debounce)
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// ignored filters repository internals, in-flight atomic writes and
// anything the caller excluded.
func (w *Watcher) ignored(abs string) bool {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return true
	}
	for dir := rel; dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if filepath.Base(dir) == ".git" {
			return true
		}
	}
	if storage.IsTemp(filepath.Base(abs)) {
		return true
	}
	if w.ignore != nil && rel != "." {
		return w.ignore(norm.NFC.String(filepath.ToSlash(rel)))
	}
	return false
}

func (w *Watcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." {
		return "", false
	}
	return norm.NFC.String(filepath.ToSlash(rel)), true
}

// collectDir marks every regular file under dir as changed.
func (w *Watcher) collectDir(dir string, pending map[string]struct{}) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || w.ignored(p) {
			return nil
		}
		if rel, ok := w.rel(p); ok {
			pending[rel] = struct{}{}
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories, except ignored
// ones, to the watcher.
func (w *Watcher) addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && w.ignored(path) {
				return filepath.SkipDir
			}
			return fw.Add(path)
		}
		return nil
	})
}
