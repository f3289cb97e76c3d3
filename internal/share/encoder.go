// Package share turns trees into links and links back into trees,
// composing the codec, compression, text and envelope stages with the
// short-link and paste stores.
package share

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/compress"
	"github.com/AtharvRG/fractal/internal/envelope"
	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/metrics"
	"github.com/AtharvRG/fractal/internal/router"
	"github.com/AtharvRG/fractal/internal/textenc"
	"github.com/AtharvRG/fractal/internal/treecodec"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/tree"
)

var (
	// ErrEmptyTree is returned when a tree has no files to share.
	ErrEmptyTree = errors.New("tree has no files")
	// ErrTooLarge is returned when a tree must be redirected and no paste store is configured.
	ErrTooLarge = errors.New("tree too large for a link")
)

// EditorPath is the path links are rooted at.
const EditorPath = "/editor/"

// Link is the result of encoding a tree.
type Link struct {
	Decision router.Decision
	// Fragment is "#h:" plus the envelope for embedded trees, or a
	// paste reference after a redirect.
	Fragment      string
	Envelope      string
	Algorithm     compress.Tag
	RawBytes      int64
	PackedBytes   int
	EncodedLength int
	Checksum      string
}

// URL joins the fragment to baseURL.
func (l *Link) URL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + EditorPath + l.Fragment
}

// Encoder builds links from trees.
type Encoder struct {
	negotiator *compress.Negotiator
	chunkSize  int
	thresholds router.Thresholds
	logger     *zap.Logger
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithChunkSize sets the envelope chunk size in characters.
func WithChunkSize(n int) EncoderOption {
	return func(e *Encoder) { e.chunkSize = n }
}

// WithThresholds sets the embed limits.
func WithThresholds(t router.Thresholds) EncoderOption {
	return func(e *Encoder) { e.thresholds = t }
}

func NewEncoder(n *compress.Negotiator, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		negotiator: n,
		chunkSize:  envelope.DefaultChunkSize,
		thresholds: router.DefaultThresholds(),
		logger:     logging.Named("share"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode serializes, compresses and wraps t. When t is too large to embed
// the returned Link has Decision Redirect and no fragment.
func (e *Encoder) Encode(ctx context.Context, t models.Tree) (*Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tree.Files(t)) == 0 {
		return nil, ErrEmptyTree
	}

	link := &Link{RawBytes: tree.RawSize(t)}
	if e.thresholds.RawExceeded(link.RawBytes) {
		link.Decision = router.Redirect
		metrics.RecordEncode(link.Decision.String(), 0)
		e.logger.Info("tree exceeds raw size limit", zap.Int64("raw_bytes", link.RawBytes))
		return link, nil
	}

	if err := e.negotiator.EnsureReady(ctx); err != nil {
		return nil, err
	}
	packed, err := treecodec.Serialize(t)
	if err != nil {
		return nil, fmt.Errorf("serialize tree: %w", err)
	}
	tag, body, err := e.negotiator.Compress(packed)
	if err != nil {
		return nil, err
	}
	text := textenc.URLSafe.Encode(compress.Frame(tag, body))

	link.Algorithm = tag
	link.PackedBytes = len(packed)
	link.EncodedLength = len(text)
	link.Decision = e.thresholds.Decide(link.RawBytes, link.EncodedLength)
	metrics.RecordEncode(link.Decision.String(), link.EncodedLength)

	if link.Decision == router.Redirect {
		e.logger.Info("encoded tree exceeds link limit", zap.Int("encoded_length", link.EncodedLength))
		return link, nil
	}

	link.Envelope = envelope.Wrap(text, e.chunkSize)
	link.Checksum = envelope.Checksum(text)
	link.Fragment = KindPayload.Prefix() + link.Envelope

	e.logger.Debug("tree encoded",
		zap.Stringer("algorithm", tag),
		zap.Int("packed_bytes", link.PackedBytes),
		zap.Int("encoded_length", link.EncodedLength))
	return link, nil
}
