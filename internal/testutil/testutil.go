// Package testutil provides shared test helpers for opening throwaway
// workspaces and indexes.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/workspace"
)

// Logger discards everything; tests that care about logs build their own.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestIndex opens an index with the pure-Go driver in a temp directory and
// closes it on cleanup.
func TestIndex(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(index.DriverPureGo, filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestWorkspace opens a workspace rooted in a temp directory. Unset options
// default to the pure-Go index driver and a discarding logger.
func TestWorkspace(t *testing.T, opts workspace.Options) *workspace.Workspace {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	if opts.IndexDriver == "" {
		opts.IndexDriver = index.DriverPureGo
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}
	ws, err := workspace.Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}
