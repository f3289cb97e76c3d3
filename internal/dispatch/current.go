package dispatch

import (
	"bytes"
	"context"
	"fmt"

	"github.com/AtharvRG/fractal/internal/compress"
	"github.com/AtharvRG/fractal/internal/envelope"
	"github.com/AtharvRG/fractal/internal/textenc"
	"github.com/AtharvRG/fractal/internal/treecodec"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

// CurrentDecoder reads envelope payloads: chunks and checksum around
// base64url text of a tagged, compressed binary tree.
type CurrentDecoder struct {
	negotiator *compress.Negotiator
	maxDecoded int64
}

// NewCurrentDecoder returns a decoder using n for decompression.
func NewCurrentDecoder(n *compress.Negotiator, maxDecodedBytes int64) *CurrentDecoder {
	if maxDecodedBytes <= 0 {
		maxDecodedBytes = compress.DefaultMaxDecodedBytes
	}
	return &CurrentDecoder{negotiator: n, maxDecoded: maxDecodedBytes}
}

func (d *CurrentDecoder) Format() WireFormat { return FormatCurrent }

func (d *CurrentDecoder) Decode(ctx context.Context, payload string) (models.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := envelope.Unwrap(payload)
	if err != nil {
		return nil, err
	}

	raw, err := textenc.URLSafe.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope body is not base64url", protocol.ErrUnsupportedPayload)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", protocol.ErrUnsupportedPayload)
	}

	var packed []byte
	if tag, body, ok := compress.Unframe(raw); ok {
		packed, err = d.negotiator.Decompress(tag, body)
	} else {
		// Links from before the algorithm marker are bare gzip.
		packed, err = compress.Gunzip(raw, d.maxDecoded)
		if err != nil {
			err = fmt.Errorf("%w: untagged gzip: %w", protocol.ErrDecompressFailed, err)
		}
	}
	if err != nil {
		return nil, err
	}

	if bytes.HasPrefix(packed, []byte("FT")) {
		return treecodec.Deserialize(packed)
	}
	t, err := ParseJSONTree(packed)
	if err != nil {
		return nil, err
	}
	return t, nil
}
