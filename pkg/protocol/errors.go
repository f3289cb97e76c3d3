package protocol

import "errors"

// Link decoding failures.
var (
	// ErrCorruptPayload means the binary tree buffer is structurally invalid.
	ErrCorruptPayload = errors.New("corrupt payload")
	// ErrDecompressFailed means no decompressor accepted the bytes.
	ErrDecompressFailed = errors.New("decompress failed")
	// ErrChecksumMismatch means the envelope digest disagrees with its chunks.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrMalformedLink means the link shape is not recognized, even after repair.
	ErrMalformedLink = errors.New("malformed link")
	// ErrUnsupportedPayload means the shape was recognized but the content is not a tree.
	ErrUnsupportedPayload = errors.New("unsupported payload")
)

// Remote store failures.
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrExpired          = errors.New("expired")
	ErrNotFound         = errors.New("not found")
)

// IsRemote reports whether err came from a short-link or paste store rather
// than from the link itself.
func IsRemote(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrExpired) || errors.Is(err, ErrNotFound)
}
