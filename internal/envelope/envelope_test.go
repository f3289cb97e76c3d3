package envelope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtharvRG/fractal/internal/textenc"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

const payload = "MQt5AAAAFlRGAQIFYS50eHQCBWhlbGxvCWRpci9iLmJpbgE"

func TestChecksum(t *testing.T) {
	// sha256("abc") = ba7816bf...
	assert.Equal(t, "ba7816bf", Checksum("abc"))
	assert.Len(t, Checksum(""), ChecksumLength)
}

func TestWrapUnwrap(t *testing.T) {
	for _, size := range []int{0, 1, 3, 7, 16, len(payload), len(payload) + 5} {
		env := Wrap(payload, size)
		assert.True(t, IsEnvelope(env), "size %d", size)

		got, err := Unwrap(env)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, payload, got)
	}
}

func TestWrapChunkCount(t *testing.T) {
	env := Wrap(payload, 10)
	fields := strings.Split(env, Separator)
	wantChunks := (len(payload) + 9) / 10
	assert.Len(t, fields, wantChunks+1)
	assert.Equal(t, Checksum(payload), fields[len(fields)-1])
	for _, f := range fields[:len(fields)-1] {
		assert.True(t, textenc.IsBase64URL(f))
	}
}

func TestChunkSizeInvariance(t *testing.T) {
	a, err := Unwrap(Wrap(payload, 4))
	require.NoError(t, err)
	b, err := Unwrap(Wrap(payload, 4096))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUnwrapChecksumZeroed(t *testing.T) {
	env := Wrap(payload, 16)
	i := strings.LastIndex(env, Separator)
	tampered := env[:i+1] + "00000000"

	got, err := Unwrap(tampered)
	assert.ErrorIs(t, err, protocol.ErrChecksumMismatch)
	assert.Empty(t, got)
}

func TestUnwrapSingleCharacterFlips(t *testing.T) {
	env := Wrap(payload, 12)
	checksumStart := strings.LastIndex(env, Separator)
	alphabet := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_+/=,."

	for pos := 0; pos < checksumStart; pos++ {
		if env[pos] == ',' {
			continue
		}
		for j := 0; j < len(alphabet); j++ {
			c := alphabet[j]
			if c == env[pos] {
				continue
			}
			flipped := env[:pos] + string(c) + env[pos+1:]
			_, err := Unwrap(flipped)
			require.ErrorIs(t, err, protocol.ErrChecksumMismatch, "pos %d -> %q", pos, c)
		}
	}
}

func TestUnwrapUppercaseChecksum(t *testing.T) {
	env := Wrap(payload, 0)
	upper := env[:strings.LastIndex(env, Separator)+1] + strings.ToUpper(Checksum(payload))
	got, err := Unwrap(upper)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestUnwrapMalformed(t *testing.T) {
	for _, s := range []string{"", "abcd", ",,,", "abc,"} {
		_, err := Unwrap(s)
		assert.ErrorIs(t, err, protocol.ErrMalformedLink, s)
	}
}

func TestIsEnvelope(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"abc,0123abcd", true},
		{"a,b,DEADBEEF", true},
		{"abc0123abcd", false},
		{"abc,0123abc", false},
		{"abc,0123abcde", false},
		{"abc,0123abcg", false},
		{"n.abc", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsEnvelope(tt.in), tt.in)
	}
}
