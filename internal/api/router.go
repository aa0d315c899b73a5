package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(ws Workspace, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(ws)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Get("/documents/*", h.GetDocument)
	r.Put("/documents/*", h.PutDocument)
	r.Delete("/documents/*", h.DeleteDocument)

	// Queries.
	r.Get("/search", h.Search)
	r.Get("/tags", h.TagCloud)
	r.Get("/tags/{tag}", h.ByTag)

	// Maintenance.
	r.Post("/reconcile", h.Reconcile)
	r.Post("/prune", h.Prune)

	// Version control.
	r.Route("/vcs", func(r chi.Router) {
		r.Post("/commit", h.Commit)
		r.Post("/pull", h.Pull)
		r.Post("/push", h.Push)
		r.Post("/sync", h.Sync)
	})

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
