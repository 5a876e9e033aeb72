package api

import (
	"github.com/starford/bibcite/internal/citeservice"
	"github.com/starford/bibcite/internal/library"
	"github.com/starford/bibcite/internal/models"
)

// RenderRequest is the request body for rendering a document.
type RenderRequest struct {
	DocumentID string `json:"document_id,omitempty" example:"post-42"`
	Content    string `json:"content" example:"See [bibcite key=smith2020]." validate:"required"`
}

// RenderResponse carries the rendered document.
type RenderResponse struct {
	HTML string `json:"html" validate:"required"`
}

// RefreshRequest names the library to refresh.
type RefreshRequest struct {
	URL string `json:"url,omitempty" example:"https://example.org/library.bib"`
}

// SyncResult is the outcome of a library refresh (aliased from the domain layer).
type SyncResult = library.Result

// Catalog lists styles and templates (aliased from the domain layer).
type Catalog = citeservice.Catalog

// EntriesResponse wraps search results.
type EntriesResponse struct {
	Entries []models.Record `json:"entries" validate:"required"`
}

// KeysResponse wraps the citation keys of one library.
type KeysResponse struct {
	Keys []string `json:"keys" validate:"required"`
}

// LibrariesResponse wraps the stored libraries.
type LibrariesResponse struct {
	Libraries []models.LibraryInfo `json:"libraries" validate:"required"`
}

// NamesResponse wraps a list of style or template names.
type NamesResponse struct {
	Names []string `json:"names" validate:"required"`
}
