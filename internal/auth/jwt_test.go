package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

func init() {
	logging.InitNop()
}

func TestIssueValidate(t *testing.T) {
	s := NewTokenService("secret")
	tok, err := s.Issue("ci", time.Hour)
	require.NoError(t, err)

	claims, err := s.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestValidateRejects(t *testing.T) {
	s := NewTokenService("secret")
	good, err := s.Issue("ci", time.Hour)
	require.NoError(t, err)

	other, err := NewTokenService("other").Issue("ci", time.Hour)
	require.NoError(t, err)

	past := NewTokenService("secret")
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := past.Issue("ci", time.Hour)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: Issuer,
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"wrong secret": other,
		"expired":      expired,
		"wrong issuer": foreign,
		"no expiry":    noExpiry,
		"garbage":      "not.a.token",
		"tampered":     good[:len(good)-2] + "xx",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.Validate(tok)
			assert.Error(t, err)
		})
	}
}

func TestNoSecret(t *testing.T) {
	s := NewTokenService("")
	assert.False(t, s.Enabled())
	_, err := s.Issue("ci", 0)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = s.Validate("x")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestMiddleware(t *testing.T) {
	s := NewTokenService("secret")
	tok, err := s.Issue("ci", 0)
	require.NoError(t, err)

	var seen *Claims
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + tok, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic " + tok, http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/api/shorten", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusUnauthorized {
				require.NotNil(t, seen)
				assert.Equal(t, "ci", seen.Subject)
				return
			}
			assert.Nil(t, seen)
			var body protocol.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, http.StatusUnauthorized, body.Code)
		})
	}
}
