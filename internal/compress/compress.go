// Package compress negotiates between an ordered list of compression
// strategies and tags the output with the algorithm that produced it.
package compress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/metrics"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

// Tag is the one-byte algorithm marker prepended to compressed payloads.
type Tag byte

const (
	TagDeflate Tag = '0'
	TagBrotli  Tag = '1'
)

// Valid reports whether t names a known algorithm.
func (t Tag) Valid() bool {
	return t == TagDeflate || t == TagBrotli
}

func (t Tag) String() string {
	switch t {
	case TagDeflate:
		return "gzip"
	case TagBrotli:
		return "brotli"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(t))
	}
}

// DefaultMaxDecodedBytes bounds decompressed output.
const DefaultMaxDecodedBytes = 64 << 20

// ErrLimitExceeded is returned when decompressed output passes the configured bound.
var ErrLimitExceeded = errors.New("decompressed size exceeds limit")

// Strategy is one compression algorithm.
type Strategy interface {
	Tag() Tag
	Name() string
	// Init probes the algorithm once. A non-nil error marks it unavailable.
	Init(ctx context.Context) error
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, limit int64) ([]byte, error)
}

// Negotiator compresses with the first strategy that works and decompresses
// with the tagged strategy first, then the others.
type Negotiator struct {
	strategies []Strategy
	maxDecoded int64
	logger     *zap.Logger

	mu          sync.Mutex
	ready       bool
	unavailable map[Tag]error
	readyErr    error
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithStrategies replaces the default strategy list. Order is preference order.
func WithStrategies(s ...Strategy) Option {
	return func(n *Negotiator) { n.strategies = s }
}

// WithMaxDecodedBytes bounds the output of Decompress.
func WithMaxDecodedBytes(limit int64) Option {
	return func(n *Negotiator) { n.maxDecoded = limit }
}

// WithLogger sets the logger used for fallback decisions.
func WithLogger(l *zap.Logger) Option {
	return func(n *Negotiator) { n.logger = l }
}

// New returns a Negotiator preferring brotli with a gzip fallback.
func New(opts ...Option) *Negotiator {
	n := &Negotiator{
		strategies: []Strategy{NewBrotli(DefaultBrotliQuality), NewGzip(DefaultGzipLevel)},
		maxDecoded: DefaultMaxDecodedBytes,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logging.Named("compress")
	}
	return n
}

// EnsureReady probes every strategy once. It fails only when no strategy
// is usable. A probe run cut short by ctx is discarded and retried on the
// next call. Safe to call repeatedly and concurrently.
func (n *Negotiator) EnsureReady(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ready {
		return n.readyErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unavailable := make(map[Tag]error)
	for _, s := range n.strategies {
		if err := s.Init(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			unavailable[s.Tag()] = err
			n.logger.Warn("compression strategy unavailable",
				zap.String("strategy", s.Name()), zap.Error(err))
		}
	}
	n.unavailable = unavailable
	if len(unavailable) == len(n.strategies) {
		n.readyErr = fmt.Errorf("no compression strategy available")
	}
	n.ready = true
	return n.readyErr
}

// Available reports whether the strategy for tag passed its probe.
func (n *Negotiator) Available(tag Tag) bool {
	_ = n.EnsureReady(context.Background())
	if _, bad := n.unavailable[tag]; bad {
		return false
	}
	return n.strategy(tag) != nil
}

func (n *Negotiator) strategy(tag Tag) Strategy {
	for _, s := range n.strategies {
		if s.Tag() == tag {
			return s
		}
	}
	return nil
}

// Compress runs the strategies in order and returns the first non-empty
// result with its tag.
func (n *Negotiator) Compress(src []byte) (Tag, []byte, error) {
	if err := n.EnsureReady(context.Background()); err != nil {
		return 0, nil, err
	}

	var errs []error
	for _, s := range n.strategies {
		if err, bad := n.unavailable[s.Tag()]; bad {
			n.skip(s, "unavailable", err)
			errs = append(errs, fmt.Errorf("%s: unavailable: %w", s.Name(), err))
			continue
		}
		out, err := s.Compress(src)
		if err != nil {
			n.skip(s, "failed", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if len(out) == 0 {
			n.skip(s, "empty", nil)
			errs = append(errs, fmt.Errorf("%s: empty output", s.Name()))
			continue
		}
		return s.Tag(), out, nil
	}
	return 0, nil, fmt.Errorf("compress: %w", errors.Join(errs...))
}

// Decompress tries the strategy named by tag, then every other strategy.
// An unknown tag goes straight to the list in preference order.
func (n *Negotiator) Decompress(tag Tag, src []byte) ([]byte, error) {
	_ = n.EnsureReady(context.Background())

	order := make([]Strategy, 0, len(n.strategies))
	if s := n.strategy(tag); s != nil {
		order = append(order, s)
	}
	for _, s := range n.strategies {
		if s.Tag() != tag {
			order = append(order, s)
		}
	}

	var errs []error
	for i, s := range order {
		if err, bad := n.unavailable[s.Tag()]; bad {
			n.skip(s, "unavailable", err)
			errs = append(errs, fmt.Errorf("%s: unavailable", s.Name()))
			continue
		}
		out, err := s.Decompress(src, n.maxDecoded)
		if err == nil {
			if i > 0 {
				n.logger.Debug("payload decompressed by fallback strategy",
					zap.Stringer("tag", tag), zap.String("strategy", s.Name()))
			}
			return out, nil
		}
		n.skip(s, "failed", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		if errors.Is(err, ErrLimitExceeded) {
			break
		}
	}
	return nil, fmt.Errorf("%w: %w", protocol.ErrDecompressFailed, errors.Join(errs...))
}

func (n *Negotiator) skip(s Strategy, reason string, err error) {
	metrics.RecordCompressFallback(s.Name(), reason)
	n.logger.Debug("compression strategy skipped",
		zap.String("strategy", s.Name()),
		zap.String("reason", reason),
		zap.Error(err))
}

// Frame prepends the tag byte to body.
func Frame(tag Tag, body []byte) []byte {
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(tag))
	return append(out, body...)
}

// Unframe splits a framed payload. ok is false when the first byte is not a known tag.
func Unframe(b []byte) (tag Tag, body []byte, ok bool) {
	if len(b) == 0 {
		return 0, nil, false
	}
	tag = Tag(b[0])
	if !tag.Valid() {
		return 0, b, false
	}
	return tag, b[1:], true
}
