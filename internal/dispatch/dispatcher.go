package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/compress"
	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/metrics"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

// Result is a decoded payload and how it was read.
type Result struct {
	Tree    models.Tree
	Format  WireFormat
	Repairs []string
}

// Dispatcher repairs a payload, classifies it and hands it to the decoder
// registered for its format.
type Dispatcher struct {
	decoders map[WireFormat]Decoder
	logger   *zap.Logger
}

// New returns a Dispatcher over the given decoders. A later decoder for
// the same format replaces an earlier one.
func New(decoders ...Decoder) *Dispatcher {
	d := &Dispatcher{
		decoders: make(map[WireFormat]Decoder, len(decoders)),
		logger:   logging.Named("dispatch"),
	}
	for _, dec := range decoders {
		d.decoders[dec.Format()] = dec
	}
	return d
}

// NewDispatcher returns a Dispatcher that reads every link generation.
func NewDispatcher(n *compress.Negotiator, maxDecodedBytes int64) *Dispatcher {
	return New(
		NewCurrentDecoder(n, maxDecodedBytes),
		NewDenseDecoder(maxDecodedBytes),
		NewJSONDecoder(maxDecodedBytes),
	)
}

// Decode reads raw into a tree. The repaired payload is tried first; if it
// fails and repairs beyond whitespace were applied, the payload with only
// whitespace removed is tried once more.
func (d *Dispatcher) Decode(ctx context.Context, raw string) (*Result, error) {
	repaired, repairs := Repair(raw)
	for _, r := range repairs {
		metrics.RecordRepair(r)
	}

	res, err := d.decodeOne(ctx, repaired)
	if err == nil {
		res.Repairs = repairs
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	if plain := stripWhitespace(raw); plain != repaired {
		if res, retryErr := d.decodeOne(ctx, plain); retryErr == nil {
			d.logger.Debug("payload decoded without repairs",
				zap.Strings("skipped", repairs), logging.Format(res.Format.String()))
			if plain != raw {
				res.Repairs = []string{RepairWhitespace}
			}
			return res, nil
		}
	}
	return nil, err
}

func (d *Dispatcher) decodeOne(ctx context.Context, payload string) (*Result, error) {
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", protocol.ErrMalformedLink)
	}
	format := Classify(payload)
	if format == FormatUnknown {
		metrics.RecordDecode(format.String(), false)
		return nil, fmt.Errorf("%w: unrecognized payload", protocol.ErrMalformedLink)
	}
	dec, ok := d.decoders[format]
	if !ok {
		metrics.RecordDecode(format.String(), false)
		return nil, fmt.Errorf("%w: no decoder for %s payloads", protocol.ErrUnsupportedPayload, format)
	}

	t, err := dec.Decode(ctx, payload)
	metrics.RecordDecode(format.String(), err == nil)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			d.logger.Debug("payload decode failed", logging.Format(format.String()), zap.Error(err))
		}
		return nil, err
	}
	return &Result{Tree: t, Format: format}, nil
}
