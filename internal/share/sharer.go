package share

import (
	"context"
	"fmt"

	"github.com/AtharvRG/fractal/internal/paste"
	"github.com/AtharvRG/fractal/internal/router"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/tree"
)

// Sharer encodes a tree and publishes it to a paste store when it is too
// large to embed.
type Sharer struct {
	encoder *Encoder
	paste   paste.Store
	kind    Kind
}

// NewSharer returns a Sharer. store may be nil, in which case oversize
// trees fail with ErrTooLarge. kind is KindGist or KindPaste and names the
// fragment prefix of published links.
func NewSharer(e *Encoder, store paste.Store, kind Kind) *Sharer {
	return &Sharer{encoder: e, paste: store, kind: kind}
}

// Share returns an embedded link, or a paste link for oversize trees.
func (s *Sharer) Share(ctx context.Context, t models.Tree) (*Link, error) {
	link, err := s.encoder.Encode(ctx, t)
	if err != nil {
		return nil, err
	}
	if link.Decision == router.Embed {
		return link, nil
	}
	if s.paste == nil {
		return link, fmt.Errorf("%w: %d raw bytes, %d encoded characters", ErrTooLarge, link.RawBytes, link.EncodedLength)
	}

	id, err := s.paste.Publish(ctx, t)
	if err != nil {
		return link, fmt.Errorf("publish oversize tree: %w", err)
	}
	link.Fragment = s.kind.Prefix() + id
	return link, nil
}

// Publish sends t to the paste store regardless of size.
func (s *Sharer) Publish(ctx context.Context, t models.Tree) (*Link, error) {
	if s.paste == nil {
		return nil, fmt.Errorf("no paste store configured")
	}
	id, err := s.paste.Publish(ctx, t)
	if err != nil {
		return nil, err
	}
	return &Link{Decision: router.Redirect, Fragment: s.kind.Prefix() + id, RawBytes: tree.RawSize(t)}, nil
}
