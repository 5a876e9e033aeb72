package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/bibcite/internal/citeservice"
)

// NewRouter creates a chi router with all API routes mounted.
// Read-only routes are public; mutating routes and the event stream require
// the Bearer token when authEnabled is set. sseHandler, if non-nil, is
// mounted at GET /events.
func NewRouter(svc *citeservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()

	r.Post("/render", h.Render)
	r.Get("/entries", h.Entries)
	r.Get("/libraries", h.Libraries)
	r.Get("/catalog", h.Catalog)
	r.Get("/styles", h.Styles)
	r.Get("/styles/{name}", h.GetAsset(citeservice.KindStyle, "application/xml"))
	r.Get("/templates", h.Templates)
	r.Get("/templates/{name}", h.GetAsset(citeservice.KindTemplate, "text/html; charset=utf-8"))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		r.Post("/libraries/refresh", h.RefreshLibrary)
		r.Post("/cache/clear", h.ClearCache)

		r.Put("/styles/{name}", h.PutAsset(citeservice.KindStyle))
		r.Delete("/styles/{name}", h.DeleteAsset(citeservice.KindStyle))
		r.Put("/templates/{name}", h.PutAsset(citeservice.KindTemplate))
		r.Delete("/templates/{name}", h.DeleteAsset(citeservice.KindTemplate))

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
