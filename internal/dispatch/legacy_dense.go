package dispatch

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/AtharvRG/fractal/internal/compress"
	"github.com/AtharvRG/fractal/internal/textenc"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
	"github.com/AtharvRG/fractal/pkg/tree"
)

// Node flags of the dense node stream.
const (
	denseBinary   = 1 << 0
	denseContent  = 1 << 1
	denseChildren = 1 << 2
)

// DenseDecoder reads "v2:" payloads: a deflated node stream written with
// the 91-symbol alphabet. Decode only; new links never use this form.
type DenseDecoder struct {
	maxDecoded int64
}

func NewDenseDecoder(maxDecodedBytes int64) *DenseDecoder {
	if maxDecodedBytes <= 0 {
		maxDecodedBytes = compress.DefaultMaxDecodedBytes
	}
	return &DenseDecoder{maxDecoded: maxDecodedBytes}
}

func (d *DenseDecoder) Format() WireFormat { return FormatLegacyDense }

func (d *DenseDecoder) Decode(ctx context.Context, payload string) (models.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, ok := strings.CutPrefix(payload, DensePrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q prefix", protocol.ErrMalformedLink, DensePrefix)
	}

	deflated, err := textenc.Dense.Decode(body)
	if err != nil {
		return nil, err
	}
	raw, err := compress.Inflate(deflated, d.maxDecoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrDecompressFailed, err)
	}

	t, err := decodeNodes(raw)
	if err != nil {
		return nil, err
	}
	tree.Normalize(t)
	return t, nil
}

// decodeNodes reads: node count, then per node id, name, a flag byte,
// optional content and an optional child id list. Strings are
// varint-length-prefixed UTF-8.
func decodeNodes(b []byte) (models.Tree, error) {
	r := &nodeReader{buf: b}
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	// Every node needs at least three bytes.
	if count > uint64(len(r.buf)/3) {
		return nil, r.fail("node count %d exceeds payload", count)
	}

	t := make(models.Tree, count)
	for i := uint64(0); i < count; i++ {
		id, err := r.str()
		if err != nil {
			return nil, err
		}
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		if r.pos >= len(r.buf) {
			return nil, r.fail("truncated flags for %q", id)
		}
		flags := r.buf[r.pos]
		r.pos++

		n := &models.FileSystemNode{ID: id, Name: name, IsBinary: flags&denseBinary != 0}
		if flags&denseContent != 0 {
			content, err := r.str()
			if err != nil {
				return nil, err
			}
			n.Content = models.Text(content)
		}
		if flags&denseChildren != 0 {
			kids, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if kids > uint64(len(r.buf)-r.pos) {
				return nil, r.fail("child count %d exceeds payload", kids)
			}
			n.Children = make([]string, 0, kids)
			for c := uint64(0); c < kids; c++ {
				cid, err := r.str()
				if err != nil {
					return nil, err
				}
				n.Children = append(n.Children, cid)
			}
		}
		if id == "" {
			return nil, r.fail("empty node id")
		}
		t[id] = n
	}
	return t, nil
}

type nodeReader struct {
	buf []byte
	pos int
}

func (r *nodeReader) fail(format string, args ...any) error {
	return fmt.Errorf("%w: dense node stream at byte %d: %s",
		protocol.ErrCorruptPayload, r.pos, fmt.Sprintf(format, args...))
}

func (r *nodeReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, r.fail("bad varint")
	}
	r.pos += n
	return v, nil
}

func (r *nodeReader) str() (string, error) {
	l, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if l > uint64(len(r.buf)-r.pos) {
		return "", r.fail("string length %d exceeds payload", l)
	}
	s := string(r.buf[r.pos : r.pos+int(l)])
	r.pos += int(l)
	return s, nil
}
