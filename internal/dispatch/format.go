// Package dispatch identifies which generation of the link protocol produced
// a payload and routes it to the matching decoder.
package dispatch

import (
	"context"
	"strings"

	"github.com/AtharvRG/fractal/internal/envelope"
	"github.com/AtharvRG/fractal/internal/textenc"
	"github.com/AtharvRG/fractal/pkg/models"
)

// WireFormat names a link payload generation.
type WireFormat int

const (
	FormatUnknown WireFormat = iota
	// FormatCurrent is the chunked, checksummed, algorithm-tagged binary tree.
	FormatCurrent
	// FormatLegacyDense is "v2:" followed by the 91-symbol alphabet.
	FormatLegacyDense
	// FormatLegacyJSON is "n." or "p." followed by base64 of deflated JSON.
	FormatLegacyJSON
)

func (f WireFormat) String() string {
	switch f {
	case FormatCurrent:
		return "current"
	case FormatLegacyDense:
		return "legacy-dense"
	case FormatLegacyJSON:
		return "legacy-json"
	default:
		return "unknown"
	}
}

// DensePrefix marks a legacy dense payload.
const DensePrefix = "v2:"

// JSON payload modes.
const (
	ModePlain  = "n."
	ModePacked = "p."
)

// Decoder turns a payload of one wire format into a tree.
type Decoder interface {
	Format() WireFormat
	Decode(ctx context.Context, payload string) (models.Tree, error)
}

// Older links were sometimes written with the standard base64 alphabet.
var stdDigits = strings.NewReplacer("+", "-", "/", "_")

// Classify inspects s without decoding it.
func Classify(s string) WireFormat {
	switch {
	case strings.HasPrefix(s, DensePrefix):
		return FormatLegacyDense
	case envelope.IsEnvelope(s):
		return FormatCurrent
	}

	_, body := splitMode(s)
	if textenc.IsBase64URL(stdDigits.Replace(strings.TrimRight(body, "="))) {
		return FormatLegacyJSON
	}
	return FormatUnknown
}

// splitMode separates an optional "n."/"p." prefix. Payloads without one are plain.
func splitMode(s string) (mode, body string) {
	if strings.HasPrefix(s, ModePlain) || strings.HasPrefix(s, ModePacked) {
		return s[:2], s[2:]
	}
	return ModePlain, s
}
