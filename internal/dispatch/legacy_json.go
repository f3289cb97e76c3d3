package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/AtharvRG/fractal/internal/compress"
	"github.com/AtharvRG/fractal/internal/textenc"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

// packedFlag leads an inflated "p." body whose JSON was packed two
// characters per UTF-16 code unit.
const packedFlag = '\u0001'

// JSONDecoder reads "n." and "p." payloads: base64url of deflated JSON.
type JSONDecoder struct {
	maxDecoded int64
}

func NewJSONDecoder(maxDecodedBytes int64) *JSONDecoder {
	if maxDecodedBytes <= 0 {
		maxDecodedBytes = compress.DefaultMaxDecodedBytes
	}
	return &JSONDecoder{maxDecoded: maxDecodedBytes}
}

func (d *JSONDecoder) Format() WireFormat { return FormatLegacyJSON }

func (d *JSONDecoder) Decode(ctx context.Context, payload string) (models.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode, body := splitMode(payload)

	deflated, err := textenc.URLSafe.Decode(body)
	if err != nil {
		return nil, err
	}
	inflated, err := compress.Inflate(deflated, d.maxDecoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrDecompressFailed, err)
	}

	if mode == ModePacked {
		if rest, ok := bytes.CutPrefix(inflated, []byte{packedFlag}); ok {
			inflated = unpackPairs(rest)
		}
	}
	return ParseJSONTree(inflated)
}

// unpackPairs reverses pair packing: each UTF-16 code unit of the text
// carried two 8-bit characters, high byte first. A NUL pad from an odd
// input length is dropped.
func unpackPairs(b []byte) []byte {
	runes := make([]rune, 0, utf8.RuneCount(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		runes = append(runes, r)
		b = b[size:]
	}

	units := utf16.Encode(runes)
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		out = utf8.AppendRune(out, rune(u>>8))
		out = utf8.AppendRune(out, rune(u&0xff))
	}
	return bytes.TrimRight(out, "\x00")
}
