// Package envelope splits encoded text into comma-joined chunks followed by
// an integrity checksum, and verifies it on the way back.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/AtharvRG/fractal/internal/textenc"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

// DefaultChunkSize is the number of text characters per chunk.
const DefaultChunkSize = 2 << 20

// ChecksumLength is the number of hex characters in the checksum field.
const ChecksumLength = 8

// Separator joins chunks and the checksum.
const Separator = ","

// Checksum returns the first 8 hex characters of SHA-256 over text.
func Checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:ChecksumLength]
}

// Wrap slices text into chunkSize pieces, base64url-encodes each piece and
// appends the checksum of the unchunked text. A chunkSize of 0 or less uses
// DefaultChunkSize.
func Wrap(text string, chunkSize int) string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	fields := make([]string, 0, len(text)/chunkSize+2)
	for start := 0; start < len(text); start += chunkSize {
		end := min(start+chunkSize, len(text))
		fields = append(fields, textenc.URLSafe.Encode([]byte(text[start:end])))
	}
	fields = append(fields, Checksum(text))
	return strings.Join(fields, Separator)
}

// Unwrap reverses Wrap. Fewer than two fields is ErrMalformedLink. A chunk
// that does not decode, or a digest that disagrees, is ErrChecksumMismatch.
func Unwrap(s string) (string, error) {
	fields := splitFields(s)
	if len(fields) < 2 {
		return "", fmt.Errorf("%w: envelope needs chunks and a checksum, got %d field(s)",
			protocol.ErrMalformedLink, len(fields))
	}

	chunks, want := fields[:len(fields)-1], fields[len(fields)-1]

	var b strings.Builder
	for i, c := range chunks {
		raw, err := textenc.URLSafeExact.Decode(c)
		if err != nil {
			return "", fmt.Errorf("%w: chunk %d does not decode", protocol.ErrChecksumMismatch, i)
		}
		b.Write(raw)
	}

	text := b.String()
	if got := Checksum(text); !strings.EqualFold(got, want) {
		return "", fmt.Errorf("%w: expected %s, computed %s", protocol.ErrChecksumMismatch, want, got)
	}
	return text, nil
}

// IsEnvelope reports whether s has the envelope shape: at least one comma
// and a final field of exactly 8 hex characters.
func IsEnvelope(s string) bool {
	i := strings.LastIndex(s, Separator)
	if i < 0 {
		return false
	}
	tail := s[i+1:]
	if len(tail) != ChecksumLength {
		return false
	}
	for j := 0; j < len(tail); j++ {
		if !isHex(tail[j]) {
			return false
		}
	}
	return true
}

func splitFields(s string) []string {
	parts := strings.Split(s, Separator)
	fields := parts[:0]
	for _, p := range parts {
		if p != "" {
			fields = append(fields, p)
		}
	}
	return fields
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
