package compress

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

const (
	DefaultBrotliQuality = brotli.BestCompression
	DefaultGzipLevel     = gzip.BestCompression
)

var probe = []byte("treeshare compression probe treeshare compression probe")

// Brotli is the primary strategy.
type Brotli struct {
	quality int
}

// NewBrotli returns a brotli strategy at the given quality (0-11).
func NewBrotli(quality int) *Brotli {
	if quality < brotli.BestSpeed || quality > brotli.BestCompression {
		quality = DefaultBrotliQuality
	}
	return &Brotli{quality: quality}
}

func (b *Brotli) Tag() Tag     { return TagBrotli }
func (b *Brotli) Name() string { return "brotli" }

func (b *Brotli) Init(ctx context.Context) error {
	return roundTripProbe(ctx, b)
}

func (b *Brotli) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, b.quality)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *Brotli) Decompress(src []byte, limit int64) ([]byte, error) {
	return readLimited(brotli.NewReader(bytes.NewReader(src)), limit)
}

// Gzip is the fallback strategy.
type Gzip struct {
	level int
}

// NewGzip returns a gzip strategy at the given level.
func NewGzip(level int) *Gzip {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = DefaultGzipLevel
	}
	return &Gzip{level: level}
}

func (g *Gzip) Tag() Tag     { return TagDeflate }
func (g *Gzip) Name() string { return "gzip" }

func (g *Gzip) Init(ctx context.Context) error {
	return roundTripProbe(ctx, g)
}

func (g *Gzip) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Gzip) Decompress(src []byte, limit int64) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readLimited(r, limit)
}

// Gunzip decompresses a bare gzip stream. Used for markerless legacy payloads.
func Gunzip(src []byte, limit int64) ([]byte, error) {
	return (&Gzip{}).Decompress(src, limit)
}

// Inflate decompresses a zlib stream, as written by older link generations.
func Inflate(src []byte, limit int64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readLimited(r, limit)
}

// Deflate writes a zlib stream at the best compression level.
func Deflate(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxDecodedBytes
	}
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrLimitExceeded, limit)
	}
	return out, nil
}

func roundTripProbe(ctx context.Context, s Strategy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	packed, err := s.Compress(probe)
	if err != nil {
		return err
	}
	out, err := s.Decompress(packed, int64(len(probe)))
	if err != nil {
		return err
	}
	if !bytes.Equal(out, probe) {
		return fmt.Errorf("%s probe round trip mismatch", s.Name())
	}
	return nil
}
