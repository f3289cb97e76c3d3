// Package protocol defines the API request/response types and the error
// taxonomy shared by the link codec, the server and the client.
package protocol

import (
	"time"

	"github.com/AtharvRG/fractal/pkg/models"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ShortenRequest is the body for POST /api/shorten.
type ShortenRequest struct {
	Payload    string `json:"payload"`
	TTLSeconds int64  `json:"ttlSeconds,omitempty"`
}

// ShortenResponse is returned by POST /api/shorten.
type ShortenResponse struct {
	ID        string     `json:"id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ResolveResponse is returned by GET /api/shorten?id=.
type ResolveResponse struct {
	Payload   string     `json:"payload"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	HitCount  int64      `json:"hit_count"`
}

// DeleteResponse is returned by DELETE /api/shorten?id=.
type DeleteResponse struct {
	OK bool `json:"ok"`
}

// EphemeralShareRequest is the body for POST /api/share.
type EphemeralShareRequest struct {
	Compressed string `json:"compressed"`
}

// EphemeralShareResponse is returned by POST /api/share and GET /api/share?id=.
type EphemeralShareResponse struct {
	ID         string `json:"id,omitempty"`
	Compressed string `json:"compressed,omitempty"`
}

// PasteResponse is returned by POST /api/paste.
type PasteResponse struct {
	ID string `json:"id"`
}

// PasteFetchResponse is returned by GET /api/paste?id=.
type PasteFetchResponse struct {
	Tree models.Tree `json:"tree"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Paste  bool   `json:"paste"`
}
