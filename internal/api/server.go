// Package api provides the share server's HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/auth"
	"github.com/AtharvRG/fractal/internal/dispatch"
	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/metrics"
	"github.com/AtharvRG/fractal/internal/paste"
	"github.com/AtharvRG/fractal/internal/quota"
	"github.com/AtharvRG/fractal/internal/shortlink"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 32 << 20

// Server is the HTTP server.
type Server struct {
	links   *shortlink.Service
	shares  *shortlink.EphemeralStore
	pastes  paste.Store // nil when no paste backend is configured
	tokens  *auth.TokenService
	limiter *quota.RateLimiter
	maxBody int64
}

// Options bundles the optional server dependencies.
type Options struct {
	Pastes       paste.Store
	Tokens       *auth.TokenService // nil or without secret leaves writes open
	Limiter      *quota.RateLimiter // nil disables rate limiting
	MaxBodyBytes int64
}

// NewServer creates a new server.
func NewServer(links *shortlink.Service, shares *shortlink.EphemeralStore, opts Options) *Server {
	s := &Server{
		links:   links,
		shares:  shares,
		pastes:  opts.Pastes,
		tokens:  opts.Tokens,
		limiter: opts.Limiter,
		maxBody: opts.MaxBodyBytes,
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if s.limiter == nil {
		s.limiter = quota.NewRateLimiter(0)
	}
	return s
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /api/shorten", s.guardCreate("shorten", http.HandlerFunc(s.handleShorten)))
	mux.HandleFunc("GET /api/shorten", s.handleResolve)
	mux.Handle("DELETE /api/shorten", s.protect(http.HandlerFunc(s.handleDelete)))

	mux.Handle("POST /api/share", s.limit("share", http.HandlerFunc(s.handleShareCreate)))
	mux.HandleFunc("GET /api/share", s.handleShareGet)

	mux.Handle("POST /api/paste", s.guardCreate("paste", http.HandlerFunc(s.handlePasteCreate)))
	mux.HandleFunc("GET /api/paste", s.handlePasteGet)

	return metrics.Middleware(mux, logging.Middleware(mux))
}

// protect requires a service token when a secret is configured.
func (s *Server) protect(next http.Handler) http.Handler {
	if s.tokens == nil || !s.tokens.Enabled() {
		return next
	}
	return s.tokens.Middleware(next)
}

func (s *Server) limit(route string, next http.Handler) http.Handler {
	if s.limiter.Unlimited() {
		return next
	}
	return quota.RateLimitMiddleware(s.limiter, quota.ClientIP, route)(next)
}

func (s *Server) guardCreate(route string, next http.Handler) http.Handler {
	return s.protect(s.limit(route, next))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.HealthResponse{
		Status: "ok",
		Store:  s.links.Store().Name(),
		Paste:  s.pastes != nil,
	})
}

// ─── Short links ────────────────────────────────────────────────────────────

func (s *Server) handleShorten(w http.ResponseWriter, r *http.Request) {
	var req protocol.ShortenRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.TTLSeconds < 0 {
		s.sendError(w, http.StatusBadRequest, "ttlSeconds must not be negative")
		return
	}

	rec, err := s.links.Create(r.Context(), req.Payload, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		s.sendStoreError(w, r, "create short link", err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.ShortenResponse{ID: rec.ID, ExpiresAt: rec.ExpiresAt})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireID(w, r)
	if !ok {
		return
	}
	rec, err := s.links.Resolve(r.Context(), id)
	if err != nil {
		s.sendStoreError(w, r, "resolve short link", err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.ResolveResponse{
		Payload:   rec.Payload,
		ExpiresAt: rec.ExpiresAt,
		HitCount:  rec.HitCount,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireID(w, r)
	if !ok {
		return
	}
	if err := s.links.Delete(r.Context(), id); err != nil {
		s.sendStoreError(w, r, "delete short link", err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.DeleteResponse{OK: true})
}

// ─── Ephemeral shares ───────────────────────────────────────────────────────

func (s *Server) handleShareCreate(w http.ResponseWriter, r *http.Request) {
	var req protocol.EphemeralShareRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	id, err := s.shares.Put(r.Context(), req.Compressed)
	if err != nil {
		s.sendStoreError(w, r, "create share", err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.EphemeralShareResponse{ID: id})
}

func (s *Server) handleShareGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireID(w, r)
	if !ok {
		return
	}
	compressed, err := s.shares.Get(id)
	if err != nil {
		s.sendStoreError(w, r, "fetch share", err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.EphemeralShareResponse{Compressed: compressed})
}

// ─── Pastes ─────────────────────────────────────────────────────────────────

func (s *Server) handlePasteCreate(w http.ResponseWriter, r *http.Request) {
	if s.pastes == nil {
		s.sendError(w, http.StatusNotImplemented, "paste store not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.sendBodyError(w, err)
		return
	}
	t, err := dispatch.ParseJSONTree(body)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid tree")
		return
	}
	id, err := s.pastes.Publish(r.Context(), t)
	if err != nil {
		s.sendStoreError(w, r, "publish paste", err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.PasteResponse{ID: id})
}

func (s *Server) handlePasteGet(w http.ResponseWriter, r *http.Request) {
	if s.pastes == nil {
		s.sendError(w, http.StatusNotImplemented, "paste store not configured")
		return
	}
	id, ok := s.requireID(w, r)
	if !ok {
		return
	}
	t, err := s.pastes.Fetch(r.Context(), id)
	if err != nil {
		s.sendStoreError(w, r, "fetch paste", err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.PasteFetchResponse{Tree: t})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) requireID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "missing id")
		return "", false
	}
	if !shortlink.ValidID(id) {
		s.sendError(w, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody)).Decode(v); err != nil {
		s.sendBodyError(w, err)
		return false
	}
	return true
}

func (s *Server) sendBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	s.sendError(w, http.StatusBadRequest, "invalid request body")
}

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, shortlink.ErrInvalidPayload),
		errors.Is(err, protocol.ErrUnsupportedPayload),
		errors.Is(err, protocol.ErrMalformedLink):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrExpired):
		return http.StatusGone
	case errors.Is(err, protocol.ErrStoreUnavailable),
		errors.Is(err, shortlink.ErrIDSpaceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var statusMessages = map[int]string{
	http.StatusBadRequest:          "invalid payload",
	http.StatusNotFound:            "not found",
	http.StatusGone:                "expired",
	http.StatusServiceUnavailable:  "store unavailable",
	http.StatusInternalServerError: "server error",
}

func (s *Server) sendStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	resp := protocol.ErrorResponse{Error: statusMessages[code], Code: code}
	if code >= 500 {
		logging.WithContext(r.Context()).Error(op+" failed", zap.Error(err))
		resp.RequestID = logging.RequestID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if code == http.StatusBadRequest {
		resp.Details = err.Error()
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
