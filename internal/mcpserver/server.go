// Package mcpserver exposes Folio workspace operations as MCP tools over
// stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/workspace"
)

// Workspace is the subset of workspace operations the tools call.
type Workspace interface {
	ListDocuments() ([]models.DocumentEntry, error)
	ReadDocument(ctx context.Context, path string) (*workspace.Document, error)
	WriteDocument(ctx context.Context, path string, req workspace.WriteRequest) (*workspace.Document, bool, error)
	Search(ctx context.Context, q string, limit int) ([]index.SearchResult, error)
	ByTag(ctx context.Context, tag string) ([]index.Record, error)
	TagCloud(ctx context.Context) ([]models.TagCount, error)
}

var _ Workspace = (*workspace.Workspace)(nil)

// Server wraps the MCP server with Folio tools.
type Server struct {
	mcp *server.MCPServer
	ws  Workspace
}

// New creates an MCP server with every Folio tool registered.
func New(ws Workspace, version string) *Server {
	s := &Server{ws: ws}

	s.mcp = server.NewMCPServer(
		"Folio",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Full-text search over document titles, tags and bodies. Results are ranked best first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms; every term must match")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read a document's metadata and body."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the documents directory (e.g. notes/plan.md)")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List tracked documents, optionally under a folder."),
		mcp.WithString("folder", mcp.Description("Optional folder prefix (empty for all)")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("documents_by_tag",
		mcp.WithDescription("List documents carrying a tag. Matching is case-insensitive and by substring."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag to look for")),
	), s.documentsByTag)

	s.mcp.AddTool(mcp.NewTool("tag_cloud",
		mcp.WithDescription("Every tag with the number of documents that carry it."),
	), s.tagCloud)

	s.mcp.AddTool(mcp.NewTool("write_document",
		mcp.WithDescription("Create or replace a document. Read the "+DocumentFormatURI+
			" resource first; Folio manages the header, so pass only the body text."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the documents directory")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Document body without a header")),
		mcp.WithString("title", mcp.Description("Title (keeps the current one when omitted)")),
		mcp.WithString("mode", mcp.Description("markdown, rich-notes or code")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags; replaces the current set when given")),
		mcp.WithBoolean("create_only", mcp.Description("Fail if the document already exists")),
	), s.writeDocument)

	s.mcp.AddResource(
		mcp.NewResource(DocumentFormatURI, "Document Format",
			mcp.WithResourceDescription("How Folio stores documents and their headers."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio serves MCP on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError renders err for the model. Not-found and conflict errors get a
// short message; the rest pass through.
func toolError(path string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path))
	case errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError(fmt.Sprintf("document already exists: %s", path))
	case errors.Is(err, apperr.ErrInvalidPath):
		return mcp.NewToolResultError(fmt.Sprintf("invalid path: %s", path))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.ws.Search(ctx, query, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.ws.ReadDocument(ctx, path)
	if err != nil {
		return toolError(path, err), nil
	}
	return jsonResult(doc)
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := strings.Trim(req.GetString("folder", ""), "/")
	docs, err := s.ws.ListDocuments()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var paths []string
	for _, d := range docs {
		if folder != "" && !strings.HasPrefix(d.Path, folder+"/") {
			continue
		}
		paths = append(paths, d.Path)
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no documents"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) documentsByTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	docs, err := s.ws.ByTag(ctx, tag)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(docs)
}

func (s *Server) tagCloud(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.ws.TagCloud(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(tags)
}

func (s *Server) writeDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	wr := workspace.WriteRequest{
		Body:       body,
		CreateOnly: req.GetBool("create_only", false),
	}
	if title := req.GetString("title", ""); title != "" {
		wr.Title = &title
	}
	if m := req.GetString("mode", ""); m != "" {
		mode := models.Mode(m)
		if !mode.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid mode %q: want markdown, rich-notes or code", m)), nil
		}
		wr.Mode = &mode
	}
	if raw := req.GetString("tags", ""); raw != "" {
		wr.Tags = splitTags(raw)
	}

	doc, created, err := s.ws.WriteDocument(ctx, path, wr)
	if err != nil {
		return toolError(path, err), nil
	}
	verb := "updated"
	if created {
		verb = "created"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s (id %s)", verb, doc.Path, doc.ID)), nil
}

func splitTags(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      DocumentFormatURI,
			MIMEType: "text/markdown",
			Text:     DocumentFormat,
		},
	}, nil
}
