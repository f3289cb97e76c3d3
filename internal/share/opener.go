package share

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/dispatch"
	"github.com/AtharvRG/fractal/internal/linkcache"
	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/paste"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

// DefaultResolveTimeout bounds each remote lookup made by Open.
const DefaultResolveTimeout = 15 * time.Second

// Resolver looks up ids on a share server. *client.Client implements it.
type Resolver interface {
	ResolveShortLink(ctx context.Context, id string) (*protocol.ResolveResponse, error)
	FetchShare(ctx context.Context, id string) (string, error)
}

// Opened is a decoded link.
type Opened struct {
	Tree    models.Tree
	Source  Kind
	Format  dispatch.WireFormat // FormatUnknown for paste sources
	Repairs []string
	// Canonical is the self-contained "#h:" form of the link, empty for
	// paste sources.
	Canonical string
	FromCache bool
}

// Opener decodes any supported link.
type Opener struct {
	dispatcher *dispatch.Dispatcher
	resolver   Resolver
	gists      paste.Store
	pastes     paste.Store
	cache      *linkcache.Cache
	timeout    time.Duration
	logger     *zap.Logger
}

// OpenerOption configures an Opener.
type OpenerOption func(*Opener)

func WithResolver(r Resolver) OpenerOption { return func(o *Opener) { o.resolver = r } }

func WithGistStore(s paste.Store) OpenerOption { return func(o *Opener) { o.gists = s } }

func WithPasteStore(s paste.Store) OpenerOption { return func(o *Opener) { o.pastes = s } }

// WithCache sets the local cache consulted when the server cannot answer.
func WithCache(c *linkcache.Cache) OpenerOption { return func(o *Opener) { o.cache = c } }

func WithResolveTimeout(d time.Duration) OpenerOption {
	return func(o *Opener) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func NewOpener(d *dispatch.Dispatcher, opts ...OpenerOption) *Opener {
	o := &Opener{
		dispatcher: d,
		timeout:    DefaultResolveTimeout,
		logger:     logging.Named("share"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open parses link, resolves it if it points at a store, and decodes it.
func (o *Opener) Open(ctx context.Context, link string) (*Opened, error) {
	f, err := ParseLink(link)
	if err != nil {
		return nil, err
	}

	switch f.Kind {
	case KindPayload:
		return o.decode(ctx, f.Value, KindPayload)
	case KindShortLink:
		return o.openShortLink(ctx, f.Value)
	case KindEphemeral:
		return o.openEphemeral(ctx, f.Value)
	case KindGist:
		return o.openPaste(ctx, o.gists, f)
	case KindPaste:
		return o.openPaste(ctx, o.pastes, f)
	}
	return nil, fmt.Errorf("%w: unsupported link kind %s", protocol.ErrMalformedLink, f.Kind)
}

func (o *Opener) decode(ctx context.Context, payload string, source Kind) (*Opened, error) {
	res, err := o.dispatcher.Decode(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &Opened{
		Tree:      res.Tree,
		Source:    source,
		Format:    res.Format,
		Repairs:   res.Repairs,
		Canonical: KindPayload.Prefix() + payload,
	}, nil
}

func (o *Opener) openShortLink(ctx context.Context, id string) (*Opened, error) {
	if o.resolver == nil {
		return o.fromCache(ctx, linkcache.KindShortLink, id, KindShortLink,
			fmt.Errorf("%w: no share server configured", protocol.ErrStoreUnavailable))
	}

	rctx, cancel := context.WithTimeout(ctx, o.timeout)
	resp, err := o.resolver.ResolveShortLink(rctx, id)
	cancel()
	if err != nil {
		// Expired and not-found are final answers from the store.
		if errors.Is(err, protocol.ErrStoreUnavailable) {
			return o.fromCache(ctx, linkcache.KindShortLink, id, KindShortLink, err)
		}
		return nil, err
	}

	o.remember(linkcache.KindShortLink, id, resp.Payload, resp.ExpiresAt)
	return o.decode(ctx, resp.Payload, KindShortLink)
}

func (o *Opener) openEphemeral(ctx context.Context, id string) (*Opened, error) {
	if o.resolver == nil {
		return o.fromCache(ctx, linkcache.KindEphemeral, id, KindEphemeral,
			fmt.Errorf("%w: no share server configured", protocol.ErrStoreUnavailable))
	}

	rctx, cancel := context.WithTimeout(ctx, o.timeout)
	payload, err := o.resolver.FetchShare(rctx, id)
	cancel()
	if err != nil {
		return o.fromCache(ctx, linkcache.KindEphemeral, id, KindEphemeral, err)
	}

	o.remember(linkcache.KindEphemeral, id, payload, nil)
	return o.decode(ctx, payload, KindEphemeral)
}

// fromCache decodes a locally remembered payload, or returns cause.
func (o *Opener) fromCache(ctx context.Context, kind linkcache.Kind, id string, source Kind, cause error) (*Opened, error) {
	if o.cache == nil {
		return nil, cause
	}
	payload, err := o.cache.Get(kind, id)
	if err != nil {
		return nil, cause
	}
	o.logger.Warn("server lookup failed, using cached payload",
		logging.LinkID(id), zap.Stringer("source", source), zap.Error(cause))

	opened, err := o.decode(ctx, payload, source)
	if err != nil {
		return nil, err
	}
	opened.FromCache = true
	return opened, nil
}

func (o *Opener) remember(kind linkcache.Kind, id, payload string, expiresAt *time.Time) {
	if o.cache == nil {
		return
	}
	var ttl time.Duration
	if expiresAt != nil {
		if ttl = time.Until(*expiresAt); ttl <= 0 {
			return
		}
	}
	if err := o.cache.Put(kind, id, payload, ttl); err != nil {
		o.logger.Debug("link cache write failed", logging.LinkID(id), zap.Error(err))
	}
}

func (o *Opener) openPaste(ctx context.Context, store paste.Store, f Fragment) (*Opened, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: no %s store configured", protocol.ErrStoreUnavailable, f.Kind)
	}
	rctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	t, err := store.Fetch(rctx, f.Value)
	if err != nil {
		return nil, err
	}
	return &Opened{Tree: t, Source: f.Kind}, nil
}
