// Package storage manages the user-supplied asset directories (CSL styles and
// list templates).
package storage

import "github.com/starford/bibcite/internal/models"

// Provider is the interface for asset directory operations. Assets are
// addressed by name; the provider owns the file extension.
type Provider interface {
	// Root returns the absolute directory backing the provider.
	Root() string
	// List returns metadata for every asset, sorted by name.
	List() ([]models.Asset, error)
	// Read returns the raw bytes of the named asset.
	Read(name string) ([]byte, error)
	// Write atomically writes the named asset.
	Write(name string, content []byte) error
	// Delete removes the named asset.
	Delete(name string) error
}
