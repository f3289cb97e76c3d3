// Package router decides whether a payload is embedded in a link or sent to
// an external store.
package router

// Decision is the outcome of Decide.
type Decision int

const (
	// Embed means the payload fits in a self-contained link.
	Embed Decision = iota
	// Redirect means the payload must go to an external unlimited-size store.
	Redirect
)

func (d Decision) String() string {
	if d == Redirect {
		return "redirect"
	}
	return "embed"
}

const (
	DefaultMaxRawBytes      = 10 << 20
	DefaultMaxEncodedLength = 10 << 20
)

// Thresholds bounds what may be embedded. A zero field uses its default.
type Thresholds struct {
	MaxRawBytes      int64
	MaxEncodedLength int
}

// DefaultThresholds returns 10 MiB for both bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxRawBytes: DefaultMaxRawBytes, MaxEncodedLength: DefaultMaxEncodedLength}
}

// Decide returns Redirect when either bound is exceeded. Values equal to a
// bound still embed.
func (t Thresholds) Decide(rawBytes int64, encodedLength int) Decision {
	if t.RawExceeded(rawBytes) || t.EncodedExceeded(encodedLength) {
		return Redirect
	}
	return Embed
}

// RawExceeded reports whether rawBytes alone forces a redirect. Callers use
// it to skip compression for trees that can never embed.
func (t Thresholds) RawExceeded(rawBytes int64) bool {
	limit := t.MaxRawBytes
	if limit <= 0 {
		limit = DefaultMaxRawBytes
	}
	return rawBytes > limit
}

// EncodedExceeded reports whether an encoded length forces a redirect.
func (t Thresholds) EncodedExceeded(encodedLength int) bool {
	limit := t.MaxEncodedLength
	if limit <= 0 {
		limit = DefaultMaxEncodedLength
	}
	return encodedLength > limit
}
