package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/starford/folio/internal/sse"
	"github.com/starford/folio/internal/vcs"
	"github.com/starford/folio/internal/workspace"
)

var errConfigRequired = errors.New("config is required")

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// newVCS returns the git collaborator when enabled, initializing the
// repository on first use. Without git on PATH it falls back to no VCS.
func newVCS(ctx context.Context, cfg *Config, logger *slog.Logger) (vcs.VersionControl, error) {
	if !cfg.Git.Enabled {
		return vcs.Noop{}, nil
	}
	if !vcs.Available() {
		logger.Warn("git enabled but not found on PATH; continuing without version control")
		return vcs.Noop{}, nil
	}
	g := vcs.NewGit(cfg.Workspace.Root,
		vcs.WithAuthor(cfg.Git.AuthorName, cfg.Git.AuthorEmail),
		vcs.WithBranch(cfg.Git.Branch),
		vcs.WithLogger(logger),
	)
	if !g.IsRepo(ctx) {
		if err := g.Init(ctx); err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
		logger.Info("initialized git repository", slog.String("root", cfg.Workspace.Root))
	}
	return g, nil
}

// openWorkspace opens the configured workspace. onChange may be nil.
func openWorkspace(ctx context.Context, cfg *Config, logger *slog.Logger, onChange func(workspace.Change)) (*workspace.Workspace, error) {
	vc, err := newVCS(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Open(ctx, workspace.Options{
		Root:         cfg.Workspace.Root,
		DocumentsDir: cfg.Workspace.DocumentsDir,
		MetadataFile: cfg.Workspace.MetadataFile,
		IndexDir:     cfg.Workspace.IndexDir,
		IndexDriver:  cfg.Index.Driver,
		Description:  cfg.Workspace.Description,
		VCS:          vc,
		Remote:       cfg.Git.Remote,
		Branch:       cfg.Git.Branch,
		AutoStage:    cfg.Git.Enabled && cfg.Git.AutoStage,
		Logger:       logger,
		OnChange:     onChange,
	})
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	return ws, nil
}

// publishChanges forwards workspace changes to SSE clients.
func publishChanges(b *sse.Broker) func(workspace.Change) {
	return func(c workspace.Change) {
		if c.Kind != workspace.ChangeReconciled {
			b.PublishDocumentEvent(c.Kind, c.Path)
			return
		}
		var d sse.ReconciledData
		if c.Result != nil {
			d = sse.ReconciledData{
				Indexed:    c.Result.Indexed,
				Discovered: len(c.Result.Discovered),
				Dangling:   len(c.Result.Dangling),
				Skipped:    len(c.Result.Skipped),
			}
		}
		b.PublishReconciled(d)
	}
}
