// Package shortlink stores envelope payloads under short random ids.
package shortlink

import (
	"context"
	"crypto/rand"
	"errors"
	"time"
)

var (
	// ErrIDTaken is returned by Store.Insert when the id already exists.
	ErrIDTaken = errors.New("short id already taken")
	// ErrInvalidPayload is returned when a payload is too short to be a link.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrIDSpaceExhausted is returned when every allocation attempt collided.
	ErrIDSpaceExhausted = errors.New("short id allocation exhausted")
)

// IDAlphabet is the set of characters short ids are drawn from.
const IDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"

// DefaultIDLength is the length of generated ids.
const DefaultIDLength = 8

// Record is one stored short link. Payload never changes after creation.
type Record struct {
	ID        string
	Payload   string
	CreatedAt time.Time
	ExpiresAt *time.Time
	HitCount  int64
}

// Expired reports whether r has an expiry at or before now.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Store persists short-link records.
type Store interface {
	// Insert adds rec. It returns ErrIDTaken if rec.ID exists.
	Insert(ctx context.Context, rec *Record) error
	// Get returns the record for id, or protocol.ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	IncrementHits(ctx context.Context, id string) error
	// Delete removes id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes records that expired before now and returns how many.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
	Name() string
	Close() error
}

// NewID returns a random id of length n drawn from IDAlphabet.
func NewID(n int) (string, error) {
	if n <= 0 {
		n = DefaultIDLength
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = IDAlphabet[int(b[i])%len(IDAlphabet)]
	}
	return string(b), nil
}

// ValidID reports whether id is non-empty, at most 64 characters and drawn from IDAlphabet.
func ValidID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}
