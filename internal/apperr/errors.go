// Package apperr holds sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidEntry    = errors.New("invalid entry")
	ErrInvalidName     = errors.New("invalid name")
	ErrUnknownStyle    = errors.New("unknown style")
	ErrUnknownTemplate = errors.New("unknown template")
	ErrURLNotAllowed   = errors.New("library url not allowed")
)
