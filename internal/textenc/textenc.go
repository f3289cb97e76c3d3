// Package textenc maps bytes to URL-safe text and back.
package textenc

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/AtharvRG/fractal/pkg/protocol"
)

// Alphabet is a reversible byte-to-text encoding.
type Alphabet interface {
	Encode(src []byte) string
	Decode(s string) ([]byte, error)
}

var (
	// URLSafe is unpadded base64url, used for every new payload. Decoding
	// tolerates padding and the standard alphabet.
	URLSafe Alphabet = base64URL{}
	// URLSafeExact decodes only canonical unpadded base64url.
	URLSafeExact Alphabet = base64URL{exact: true}
	// Dense is the 91-symbol alphabet of the legacy "v2:" links.
	Dense Alphabet = base91{}
)

var (
	rawURL       = base64.RawURLEncoding.Strict()
	stdToURL     = strings.NewReplacer("+", "-", "/", "_")
	base64Digits = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
)

type base64URL struct {
	exact bool
}

// Encode returns unpadded base64url.
func (base64URL) Encode(src []byte) string {
	return base64.RawURLEncoding.EncodeToString(src)
}

// Decode accepts unpadded or padded base64url, and the standard alphabet's
// '+' and '/'. Non-zero trailing bits are rejected so that every distinct
// string maps to distinct bytes.
func (e base64URL) Decode(s string) ([]byte, error) {
	if !e.exact {
		s = strings.TrimRight(stdToURL.Replace(s), "=")
	}
	b, err := rawURL.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64url: %v", protocol.ErrMalformedLink, err)
	}
	return b, nil
}

// IsBase64URL reports whether s consists only of base64url digits and is non-empty.
func IsBase64URL(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(base64Digits, s[i]) < 0 {
			return false
		}
	}
	return true
}
