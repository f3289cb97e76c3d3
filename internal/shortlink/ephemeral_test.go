package shortlink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtharvRG/fractal/pkg/protocol"
)

func TestEphemeralPutGet(t *testing.T) {
	e := NewEphemeralStore(0)
	id, err := e.Put(context.Background(), "TQ_payload,deadbeef")
	require.NoError(t, err)
	assert.Len(t, id, DefaultIDLength)

	got, err := e.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "TQ_payload,deadbeef", got)

	_, err = e.Get("missing1")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestEphemeralRejectsShort(t *testing.T) {
	_, err := NewEphemeralStore(0).Put(context.Background(), "short")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEphemeralExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	e := NewEphemeralStore(time.Hour)
	e.now = clock.Now

	id, err := e.Put(context.Background(), "0123456789abc")
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = e.Get(id)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = e.Get(id)
	assert.ErrorIs(t, err, protocol.ErrNotFound)
	assert.Equal(t, 0, e.Len())
}
