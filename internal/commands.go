package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/starford/folio/internal/mcpserver"
	"github.com/starford/folio/internal/workspace"
)

// withWorkspace opens the workspace for a one-shot command, logging to
// stderr so stdout carries only the command's output.
func withWorkspace(ctx context.Context, opts []Option, fn func(*application, *workspace.Workspace) error) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)
	ws, err := openWorkspace(ctx, app.config, logger, nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(app, ws)
}

// Reconcile runs a reconciliation pass and prints its result as JSON.
// Opening the workspace already reconciles, so the second pass reports
// what an idle workspace looks like.
func Reconcile(ctx context.Context, opts ...Option) error {
	return withWorkspace(ctx, opts, func(app *application, ws *workspace.Workspace) error {
		res, err := ws.Reconcile(ctx)
		if err != nil {
			return err
		}
		return printJSON(app.out, map[string]any{
			"indexed":     res.Indexed,
			"discovered":  nonNil(res.Discovered),
			"dangling":    nonNil(res.Dangling),
			"skipped":     nonNil(res.Skipped),
			"duration_ms": res.Duration.Milliseconds(),
		})
	})
}

// Search prints ranked matches for query, one per line.
func Search(ctx context.Context, query string, limit int, opts ...Option) error {
	return withWorkspace(ctx, opts, func(app *application, ws *workspace.Workspace) error {
		results, err := ws.Search(ctx, query, limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
		for _, r := range results {
			fmt.Fprintf(tw, "%.3f\t%s\t%s\n", r.Score, r.Path, r.Title)
		}
		return tw.Flush()
	})
}

// Tags prints the tag cloud, or the documents carrying tag when non-empty.
func Tags(ctx context.Context, tag string, opts ...Option) error {
	return withWorkspace(ctx, opts, func(app *application, ws *workspace.Workspace) error {
		tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
		if tag != "" {
			docs, err := ws.ByTag(ctx, tag)
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\n", d.Path, d.Title)
			}
			return tw.Flush()
		}
		cloud, err := ws.TagCloud(ctx)
		if err != nil {
			return err
		}
		for _, t := range cloud {
			fmt.Fprintf(tw, "%d\t%s\n", t.Count, t.Name)
		}
		return tw.Flush()
	})
}

// Prune drops metadata entries whose files are gone and prints their paths.
func Prune(ctx context.Context, opts ...Option) error {
	return withWorkspace(ctx, opts, func(app *application, ws *workspace.Workspace) error {
		removed, err := ws.Prune(ctx)
		if err != nil {
			return err
		}
		for _, p := range removed {
			fmt.Fprintln(app.out, p)
		}
		return nil
	})
}

// ServeMCP serves the MCP tools on stdin/stdout.
func ServeMCP(ctx context.Context, opts ...Option) error {
	return withWorkspace(ctx, opts, func(app *application, ws *workspace.Workspace) error {
		return mcpserver.New(ws, app.version).ServeStdio()
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
