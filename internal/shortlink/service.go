package shortlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/metrics"
	"github.com/AtharvRG/fractal/pkg/protocol"
	"github.com/AtharvRG/fractal/pkg/retry"
)

const (
	// MinPayloadLength is the shortest payload accepted by Create.
	MinPayloadLength = 20

	DefaultMaxTTL      = 30 * 24 * time.Hour
	DefaultMaxAttempts = 5
)

// Config bounds the service.
type Config struct {
	MaxTTL      time.Duration // upper bound on requested TTLs
	DefaultTTL  time.Duration // applied when the caller asks for none; 0 keeps links forever
	IDLength    int
	MaxAttempts int           // id allocation attempts
	HitTimeout  time.Duration // deadline for the detached hit-count update
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxTTL:      DefaultMaxTTL,
		IDLength:    DefaultIDLength,
		MaxAttempts: DefaultMaxAttempts,
		HitTimeout:  5 * time.Second,
	}
}

// Service implements create, resolve and delete over a Store.
type Service struct {
	store  Store
	cfg    Config
	newID  func() (string, error)
	now    func() time.Time
	logger *zap.Logger

	// hitMu orders hits.Add against hits.Wait.
	hitMu sync.Mutex
	hits  sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator replaces the random id source.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service over store. Zero fields of cfg take their defaults.
func NewService(store Store, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = def.MaxTTL
	}
	if cfg.IDLength <= 0 {
		cfg.IDLength = def.IDLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.HitTimeout <= 0 {
		cfg.HitTimeout = def.HitTimeout
	}

	s := &Service{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logging.Named("shortlink"),
	}
	s.newID = func() (string, error) { return NewID(s.cfg.IDLength) }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the backing store.
func (s *Service) Store() Store { return s.store }

// Create stores payload under a fresh id. ttl is clamped to MaxTTL; a
// ttl of zero or less uses DefaultTTL.
func (s *Service) Create(ctx context.Context, payload string, ttl time.Duration) (*Record, error) {
	if len(payload) < MinPayloadLength {
		metrics.RecordShortLinkOp("create", "invalid")
		return nil, fmt.Errorf("%w: payload shorter than %d characters", ErrInvalidPayload, MinPayloadLength)
	}

	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	ttl = min(ttl, s.cfg.MaxTTL)

	now := s.now()
	var expiresAt *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	rec, err := retry.DoWithResult(ctx, retry.Immediate(s.cfg.MaxAttempts), func(attempt int) (*Record, error) {
		id, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		rec := &Record{ID: id, Payload: payload, CreatedAt: now, ExpiresAt: expiresAt}
		if err := s.store.Insert(ctx, rec); err != nil {
			if errors.Is(err, ErrIDTaken) {
				metrics.RecordIDCollision()
				s.logger.Debug("short id collision", logging.LinkID(id), zap.Int("attempt", attempt))
				return nil, retry.Retryable(err)
			}
			return nil, err
		}
		return rec, nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			metrics.RecordShortLinkOp("create", "exhausted")
			return nil, fmt.Errorf("%w: %d attempts collided", ErrIDSpaceExhausted, s.cfg.MaxAttempts)
		}
		metrics.RecordShortLinkOp("create", "error")
		return nil, err
	}

	metrics.RecordShortLinkOp("create", "ok")
	s.logger.Info("short link created",
		logging.LinkID(rec.ID), zap.Int("payload_length", len(payload)), zap.Duration("ttl", ttl))
	return rec, nil
}

// Resolve returns the record for id and counts the hit. The count update
// runs detached with its own deadline and never affects the result.
func (s *Service) Resolve(ctx context.Context, id string) (*Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, protocol.ErrNotFound) {
			metrics.RecordShortLinkOp("resolve", "not_found")
		} else {
			metrics.RecordShortLinkOp("resolve", "error")
		}
		return nil, err
	}
	if rec.Expired(s.now()) {
		metrics.RecordShortLinkOp("resolve", "expired")
		return nil, fmt.Errorf("short link %q: %w", id, protocol.ErrExpired)
	}

	s.hitMu.Lock()
	s.hits.Add(1)
	s.hitMu.Unlock()
	go s.countHit(context.WithoutCancel(ctx), id)

	metrics.RecordShortLinkOp("resolve", "ok")
	return rec, nil
}

func (s *Service) countHit(ctx context.Context, id string) {
	defer s.hits.Done()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HitTimeout)
	defer cancel()
	if err := s.store.IncrementHits(ctx, id); err != nil {
		metrics.RecordHitFailure()
		logging.WithContext(ctx).Warn("hit count update failed", logging.LinkID(id), zap.Error(err))
	}
}

// WaitHits blocks until every detached hit update has finished. Resolve
// calls made meanwhile wait for it before starting their own update.
func (s *Service) WaitHits() {
	s.hitMu.Lock()
	defer s.hitMu.Unlock()
	s.hits.Wait()
}

// Delete removes id. Missing ids are not an error.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		metrics.RecordShortLinkOp("delete", "error")
		return err
	}
	metrics.RecordShortLinkOp("delete", "ok")
	s.logger.Info("short link deleted", logging.LinkID(id))
	return nil
}

// PurgeExpired deletes expired records and refreshes the active gauge.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count, err := s.store.Count(ctx); err == nil {
		metrics.SetShortLinksActive(count)
	}
	return n, nil
}
