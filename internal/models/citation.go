// Package models defines the domain types for bibcite.
package models

import (
	"encoding/json"
	"maps"
	"time"
)

// Record is a canonical CSL-JSON object. Records are treated as immutable once
// produced; callers that need to add fields work on a Clone.
type Record map[string]any

// Key returns the citation key of the record: "citation-label" when present,
// otherwise "id" (numeric ids included).
func (r Record) Key() string {
	if s, ok := r["citation-label"].(string); ok && s != "" {
		return s
	}
	return r.ID()
}

// ID returns the CSL "id" field as a string.
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		b, _ := json.Marshal(v)
		return string(b)
	}
	return ""
}

// String returns the named field if it holds a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// JSON encodes the record, returning "null" for a nil record.
func (r Record) JSON() string {
	if r == nil {
		return "null"
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "null"
	}
	return string(b)
}

// FetchState is the per-URL conditional-fetch metadata kept by the fetcher.
type FetchState struct {
	URL       string    `json:"url"`
	ETag      string    `json:"etag,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Body      []byte    `json:"-"`
	BodyHash  string    `json:"body_hash,omitempty"`
}

// LibraryInfo describes one stored library scope.
type LibraryInfo struct {
	ScopeID  string `json:"scope_id"`
	URL      string `json:"url"`
	Entries  int    `json:"entries"`
	LastHash string `json:"last_hash,omitempty"`
}

// Asset is a user-supplied style or template file.
type Asset struct {
	Name      string    `json:"name"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
