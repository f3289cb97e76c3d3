package quota

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/AtharvRG/fractal/internal/metrics"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

// KeyFunc returns the rate-limit key for a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the first X-Forwarded-For address, falling back
// to the connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware rejects requests over the limiter's rate with 429.
// route labels the rejection metric.
func RateLimitMiddleware(limiter *RateLimiter, key KeyFunc, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if limiter.Allow(k) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordRateLimited(route)
			w.Header().Set("Retry-After", strconv.Itoa(max(limiter.RetryAfter(k), 1)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  http.StatusTooManyRequests,
			})
		})
	}
}
