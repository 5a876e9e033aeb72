package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/starford/bibcite/internal/apperr"
	"github.com/starford/bibcite/internal/citeservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *citeservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *citeservice.Service) *Handler {
	return &Handler{svc: svc}
}

// writeServiceError maps service errors onto status codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrURLNotAllowed):
		writeError(w, http.StatusForbidden, err.Error())
	case citeservice.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Render handles POST /api/render.
//
//	@Summary		Expand bibliography directives in a document
//	@Tags			render
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenderRequest	true	"Document to render"
//	@Success		200		{object}	RenderResponse
//	@Failure		400		{object}	errResponse
//	@Router			/render [post]
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	html := h.svc.RenderMarkup(r.Context(), req.DocumentID, req.Content)
	writeJSON(w, http.StatusOK, RenderResponse{HTML: html})
}

// Entries handles GET /api/entries.
//
// With key it returns one record, with q the matching records, and otherwise
// the list of keys.
//
//	@Summary		Look up library entries
//	@Tags			entries
//	@Produce		json
//	@Param			url		query		string	false	"Library URL (default library when empty)"
//	@Param			key		query		string	false	"Citation key"
//	@Param			q		query		string	false	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	EntriesResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/entries [get]
func (h *Handler) Entries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	url := q.Get("url")

	if key := q.Get("key"); key != "" {
		rec, err := h.svc.GetEntry(r.Context(), url, key)
		if err != nil {
			writeServiceError(w, "get entry", err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	if query := q.Get("q"); query != "" {
		limit, _ := strconv.Atoi(q.Get("limit"))
		recs, err := h.svc.SearchEntries(r.Context(), url, query, limit)
		if err != nil {
			writeServiceError(w, "search entries", err)
			return
		}
		writeJSON(w, http.StatusOK, EntriesResponse{Entries: recs})
		return
	}

	keys, err := h.svc.ListKeys(r.Context(), url)
	if err != nil {
		writeServiceError(w, "list keys", err)
		return
	}
	writeJSON(w, http.StatusOK, KeysResponse{Keys: keys})
}

// Libraries handles GET /api/libraries.
//
//	@Summary		List stored libraries
//	@Tags			libraries
//	@Produce		json
//	@Success		200	{object}	LibrariesResponse
//	@Router			/libraries [get]
func (h *Handler) Libraries(w http.ResponseWriter, r *http.Request) {
	libs, err := h.svc.Libraries(r.Context())
	if err != nil {
		writeServiceError(w, "list libraries", err)
		return
	}
	writeJSON(w, http.StatusOK, LibrariesResponse{Libraries: libs})
}

// RefreshLibrary handles POST /api/libraries/refresh.
//
//	@Summary		Re-download a library, bypassing the dormancy window
//	@Tags			libraries
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RefreshRequest	false	"Library to refresh (default library when empty)"
//	@Success		200		{object}	SyncResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/libraries/refresh [post]
func (h *Handler) RefreshLibrary(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	res, err := h.svc.RefreshLibrary(r.Context(), req.URL)
	if err != nil {
		writeServiceError(w, "refresh library", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ClearCache handles POST /api/cache/clear.
//
//	@Summary		Clear fetch state, stored libraries and compiled assets
//	@Tags			cache
//	@Success		204	"Cache cleared"
//	@Security		BearerAuth
//	@Router			/cache/clear [post]
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context()); err != nil {
		writeServiceError(w, "clear cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Catalog handles GET /api/catalog.
//
//	@Summary		List available styles and templates
//	@Tags			catalog
//	@Produce		json
//	@Success		200	{object}	Catalog
//	@Router			/catalog [get]
func (h *Handler) Catalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Catalog())
}

// Styles handles GET /api/styles.
func (h *Handler) Styles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, NamesResponse{Names: h.svc.Catalog().Styles})
}

// Templates handles GET /api/templates.
func (h *Handler) Templates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, NamesResponse{Names: h.svc.Catalog().Templates})
}

// GetAsset returns handlers for GET /api/{styles,templates}/{name}, serving
// the raw source of a user asset.
func (h *Handler) GetAsset(kind, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		data, err := h.svc.GetAsset(kind, name)
		if err != nil {
			writeServiceError(w, "get "+kind, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// PutAsset returns handlers for PUT /api/{styles,templates}/{name}. The
// request body is the raw asset source.
//
//	@Summary		Upload a user style or template
//	@Tags			catalog
//	@Accept			plain
//	@Param			name	path	string	true	"Asset name"
//	@Success		204		"Stored"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/styles/{name} [put]
func (h *Handler) PutAsset(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if len(body) == 0 {
			writeError(w, http.StatusBadRequest, "body is required")
			return
		}
		if err := h.svc.PutAsset(kind, chi.URLParam(r, "name"), body); err != nil {
			writeServiceError(w, "put "+kind, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteAsset returns handlers for DELETE /api/{styles,templates}/{name}.
//
//	@Summary		Delete a user style or template
//	@Tags			catalog
//	@Param			name	path	string	true	"Asset name"
//	@Success		204		"Deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/styles/{name} [delete]
func (h *Handler) DeleteAsset(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.DeleteAsset(kind, chi.URLParam(r, "name")); err != nil {
			writeServiceError(w, "delete "+kind, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
