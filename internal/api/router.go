package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/runebook/internal/remotestore"
	"github.com/starford/runebook/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced; tokens maps
// each accepted token to the identity it may access.
// broker, if non-nil, receives workspace changes and serves the event stream.
func NewRouter(db remotestore.Store, broker *sse.Broker, authEnabled bool, tokens map[string]string) chi.Router {
	h := NewHandler(db, broker)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, tokens))

	r.Route("/workspaces/{identity}", func(r chi.Router) {
		r.Use(RequireIdentity)

		r.Get("/", h.GetWorkspace)
		r.Put("/", h.PutWorkspace)
		r.Delete("/", h.DeleteWorkspace)

		if broker != nil {
			r.Get("/events", h.WatchWorkspace)
		}
	})

	return r
}
