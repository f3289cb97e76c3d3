package shortlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AtharvRG/fractal/internal/metrics"
	"github.com/AtharvRG/fractal/pkg/protocol"
	"github.com/AtharvRG/fractal/pkg/retry"
)

const (
	// DefaultEphemeralTTL is how long an ephemeral share lives.
	DefaultEphemeralTTL = 7 * 24 * time.Hour
	// MinCompressedLength is the shortest ephemeral payload accepted.
	MinCompressedLength = 10
)

type ephemeralEntry struct {
	compressed string
	storedAt   time.Time
}

// EphemeralStore is the in-memory store behind the older "#s:" links.
// Entries vanish on restart and after the TTL.
type EphemeralStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]ephemeralEntry
}

func NewEphemeralStore(ttl time.Duration) *EphemeralStore {
	if ttl <= 0 {
		ttl = DefaultEphemeralTTL
	}
	return &EphemeralStore{ttl: ttl, now: time.Now, entries: make(map[string]ephemeralEntry)}
}

// Put stores compressed and returns its new id.
func (e *EphemeralStore) Put(ctx context.Context, compressed string) (string, error) {
	if len(compressed) < MinCompressedLength {
		return "", fmt.Errorf("%w: payload shorter than %d characters", ErrInvalidPayload, MinCompressedLength)
	}
	e.GC()

	id, err := retry.DoWithResult(ctx, retry.Immediate(5), func(int) (string, error) {
		id, err := NewID(DefaultIDLength)
		if err != nil {
			return "", err
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, taken := e.entries[id]; taken {
			return "", retry.Retryable(ErrIDTaken)
		}
		e.entries[id] = ephemeralEntry{compressed: compressed, storedAt: e.now()}
		metrics.SetEphemeralSharesActive(len(e.entries))
		return id, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return "", ErrIDSpaceExhausted
	}
	return id, err
}

// Get returns the payload stored under id.
func (e *EphemeralStore) Get(id string) (string, error) {
	e.GC()
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[id]
	if !ok {
		return "", fmt.Errorf("share %q: %w", id, protocol.ErrNotFound)
	}
	return entry.compressed, nil
}

// GC drops entries older than the TTL and returns how many it removed.
func (e *EphemeralStore) GC() int {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, entry := range e.entries {
		if now.Sub(entry.storedAt) > e.ttl {
			delete(e.entries, id)
			n++
		}
	}
	if n > 0 {
		metrics.SetEphemeralSharesActive(len(e.entries))
	}
	return n
}

func (e *EphemeralStore) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}
