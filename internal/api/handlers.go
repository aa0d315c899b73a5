package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/reconcile"
	"github.com/starford/folio/internal/workspace"
)

// Workspace is what the handlers need from an open workspace.
type Workspace interface {
	ListDocuments() ([]models.DocumentEntry, error)
	ReadDocument(ctx context.Context, path string) (*workspace.Document, error)
	WriteDocument(ctx context.Context, path string, req workspace.WriteRequest) (*workspace.Document, bool, error)
	DeleteDocument(ctx context.Context, path string) error
	Search(ctx context.Context, q string, limit int) ([]index.SearchResult, error)
	ByTag(ctx context.Context, tag string) ([]index.Record, error)
	TagCloud(ctx context.Context) ([]models.TagCount, error)
	Reconcile(ctx context.Context) (reconcile.Result, error)
	ReconcileIfStale(ctx context.Context) (reconcile.Result, bool, error)
	Prune(ctx context.Context) ([]string, error)
	Commit(ctx context.Context, message string) error
	Pull(ctx context.Context) (reconcile.Result, error)
	Push(ctx context.Context) error
	Sync(ctx context.Context, url, credential string) (reconcile.Result, error)
	Stale() bool
}

var _ Workspace = (*workspace.Workspace)(nil)

// Handler holds API route handlers.
type Handler struct {
	ws Workspace
}

// NewHandler creates a new Handler.
func NewHandler(ws Workspace) *Handler {
	return &Handler{ws: ws}
}

// documentPath extracts the document path from the URL (everything after
// /documents/). Encoded slashes (notes%2Fplan.md) are accepted.
func documentPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// decodeBody reads a JSON body into v and validates it when v knows how.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if vv, ok := v.(interface{ Validate() error }); ok {
		if err := vv.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return false
		}
	}
	return true
}

// ListDocuments handles GET /documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.ws.ListDocuments()
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{
		Documents: docs,
		Total:     len(docs),
		Stale:     h.ws.Stale(),
	})
}

// GetDocument handles GET /documents/*. The response carries the raw-file
// checksum in an ETag for use with If-Match.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.ws.ReadDocument(r.Context(), path)
	if err != nil {
		writeError(w, "get document", err, slog.String("path", path))
		return
	}
	w.Header().Set("ETag", `"`+doc.Checksum+`"`)
	writeJSON(w, http.StatusOK, doc)
}

// PutDocument handles PUT /documents/*. It creates the document when it
// does not exist (201) and updates it otherwise (200). If-Match enables
// optimistic concurrency; If-None-Match: * makes the request create-only.
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req WriteDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	doc, created, err := h.ws.WriteDocument(r.Context(), path, workspace.WriteRequest{
		Body:       req.Body,
		Title:      req.Title,
		Mode:       req.Mode,
		Tags:       req.Tags,
		Language:   req.Language,
		IfMatch:    strings.Trim(r.Header.Get("If-Match"), `"`),
		CreateOnly: r.Header.Get("If-None-Match") == "*",
	})
	if err != nil {
		writeError(w, "write document", err, slog.String("path", path))
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("ETag", `"`+doc.Checksum+`"`)
	writeJSON(w, status, doc)
}

// DeleteDocument handles DELETE /documents/*.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.ws.DeleteDocument(r.Context(), path); err != nil {
		writeError(w, "delete document", err, slog.String("path", path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /search?q=&limit=. A blank query yields no results.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.ws.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Results: toSearchResults(results),
		Stale:   h.ws.Stale(),
	})
}

// TagCloud handles GET /tags.
func (h *Handler) TagCloud(w http.ResponseWriter, r *http.Request) {
	tags, err := h.ws.TagCloud(r.Context())
	if err != nil {
		writeError(w, "tag cloud", err)
		return
	}
	writeJSON(w, http.StatusOK, TagCloudResponse{Tags: tags})
}

// ByTag handles GET /tags/{tag}.
func (h *Handler) ByTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if decoded, err := url.PathUnescape(tag); err == nil {
		tag = decoded
	}
	docs, err := h.ws.ByTag(r.Context(), tag)
	if err != nil {
		writeError(w, "by tag", err, slog.String("tag", tag))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": toTagged(docs)})
}

// Reconcile handles POST /reconcile. With ?if_stale=true the pass only runs
// when an out-of-band change is pending; otherwise 204 is returned.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if ifStale, _ := strconv.ParseBool(r.URL.Query().Get("if_stale")); ifStale {
		res, ran, err := h.ws.ReconcileIfStale(r.Context())
		if err != nil {
			writeError(w, "reconcile", err)
			return
		}
		if !ran {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, toReconcileResponse(res))
		return
	}
	res, err := h.ws.Reconcile(r.Context())
	if err != nil {
		writeError(w, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResponse(res))
}

// Prune handles POST /prune.
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) {
	removed, err := h.ws.Prune(r.Context())
	if err != nil {
		writeError(w, "prune", err)
		return
	}
	writeJSON(w, http.StatusOK, PruneResponse{Removed: nonNilSlice(removed)})
}

// Commit handles POST /vcs/commit.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.ws.Commit(r.Context(), req.Message); err != nil {
		writeError(w, "commit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Push handles POST /vcs/push.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	if err := h.ws.Push(r.Context()); err != nil {
		writeError(w, "push", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pull handles POST /vcs/pull. The workspace is reconciled even when the
// pull fails; the reconcile result is returned alongside any error.
func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	res, err := h.ws.Pull(r.Context())
	h.writeRemoteResult(w, "pull", res, err)
}

// Sync handles POST /vcs/sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.ws.Sync(r.Context(), req.URL, req.Credential)
	h.writeRemoteResult(w, "sync", res, err)
}

func (h *Handler) writeRemoteResult(w http.ResponseWriter, op string, res reconcile.Result, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, toReconcileResponse(res))
		return
	}
	if errors.Is(err, context.Canceled) {
		writeJSON(w, http.StatusRequestTimeout, errorBody(op+" cancelled"))
		return
	}
	slog.Error(op+" failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusBadGateway, map[string]any{
		"error":     op + " failed",
		"reconcile": toReconcileResponse(res),
	})
}
