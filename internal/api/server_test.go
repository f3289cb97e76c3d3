package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtharvRG/fractal/internal/auth"
	"github.com/AtharvRG/fractal/internal/compress"
	"github.com/AtharvRG/fractal/internal/dispatch"
	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/quota"
	"github.com/AtharvRG/fractal/internal/share"
	"github.com/AtharvRG/fractal/internal/shortlink"
	"github.com/AtharvRG/fractal/pkg/client"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
	"github.com/AtharvRG/fractal/pkg/tree"
)

func init() {
	logging.InitNop()
}

const testPayload = "abcdefghijklmnopqrstuvwxyz0123456789"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memPaste struct {
	mu    sync.Mutex
	trees map[string]models.Tree
}

func (m *memPaste) Publish(_ context.Context, t models.Tree) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trees == nil {
		m.trees = make(map[string]models.Tree)
	}
	id := fmt.Sprintf("paste-%d", len(m.trees)+1)
	m.trees[id] = t
	return id, nil
}

func (m *memPaste) Fetch(_ context.Context, id string) (models.Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trees[id]
	if !ok {
		return nil, fmt.Errorf("paste %s: %w", id, protocol.ErrNotFound)
	}
	return t, nil
}

type downStore struct {
	*shortlink.MemoryStore
}

func (downStore) Get(context.Context, string) (*shortlink.Record, error) {
	return nil, fmt.Errorf("%w: connection refused", protocol.ErrStoreUnavailable)
}

type testEnv struct {
	server *httptest.Server
	links  *shortlink.Service
	clock  *clock
	client *client.Client
}

func newEnv(t *testing.T, store shortlink.Store, opts Options) *testEnv {
	t.Helper()
	if store == nil {
		store = shortlink.NewMemoryStore()
	}
	c := &clock{t: time.Now()}
	links := shortlink.NewService(store, shortlink.DefaultConfig(), shortlink.WithClock(c.Now))
	srv := NewServer(links, shortlink.NewEphemeralStore(0), opts)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		links.WaitHits()
	})
	return &testEnv{
		server: ts,
		links:  links,
		clock:  c,
		client: client.New(client.Config{BaseURL: ts.URL, Timeout: 5 * time.Second}),
	}
}

func sampleTree() models.Tree {
	t := models.Tree{
		"README.md":   models.NewFile("README.md", "# demo\n"),
		"src/":        models.NewDir("src/", "src/main.go"),
		"src/main.go": models.NewFile("src/main.go", "package main\n"),
	}
	tree.Normalize(t)
	return t
}

func TestHealth(t *testing.T) {
	env := newEnv(t, nil, Options{Pastes: &memPaste{}})
	h, err := env.client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "memory", h.Store)
	assert.True(t, h.Paste)
}

func TestShortLinkLifecycle(t *testing.T) {
	env := newEnv(t, nil, Options{})
	ctx := context.Background()

	created, err := env.client.CreateShortLink(ctx, testPayload, time.Hour)
	require.NoError(t, err)
	assert.Len(t, created.ID, shortlink.DefaultIDLength)
	require.NotNil(t, created.ExpiresAt)

	got, err := env.client.ResolveShortLink(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, testPayload, got.Payload)
	assert.Zero(t, got.HitCount)

	env.links.WaitHits()
	got, err = env.client.ResolveShortLink(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.HitCount)

	require.NoError(t, env.client.DeleteShortLink(ctx, created.ID))
	require.NoError(t, env.client.DeleteShortLink(ctx, created.ID))

	_, err = env.client.ResolveShortLink(ctx, created.ID)
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestShortLinkExpired(t *testing.T) {
	env := newEnv(t, nil, Options{})
	ctx := context.Background()

	created, err := env.client.CreateShortLink(ctx, testPayload, time.Hour)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour)
	_, err = env.client.ResolveShortLink(ctx, created.ID)
	assert.ErrorIs(t, err, protocol.ErrExpired)
	assert.NotErrorIs(t, err, protocol.ErrNotFound)
}

func TestShortLinkNoExpiry(t *testing.T) {
	env := newEnv(t, nil, Options{})
	created, err := env.client.CreateShortLink(context.Background(), testPayload, 0)
	require.NoError(t, err)
	assert.Nil(t, created.ExpiresAt)
}

func TestStatusMapping(t *testing.T) {
	env := newEnv(t, nil, Options{MaxBodyBytes: 256})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		errMsg string
	}{
		{"short payload", http.MethodPost, "/api/shorten", `{"payload":"short"}`, http.StatusBadRequest, "invalid payload"},
		{"negative ttl", http.MethodPost, "/api/shorten", `{"payload":"` + testPayload + `","ttlSeconds":-1}`, http.StatusBadRequest, "ttlSeconds must not be negative"},
		{"bad json", http.MethodPost, "/api/shorten", `{`, http.StatusBadRequest, "invalid request body"},
		{"too large", http.MethodPost, "/api/shorten", `{"payload":"` + strings.Repeat("a", 512) + `"}`, http.StatusRequestEntityTooLarge, "request body too large"},
		{"missing id", http.MethodGet, "/api/shorten", "", http.StatusBadRequest, "missing id"},
		{"invalid id", http.MethodGet, "/api/shorten?id=a%20b", "", http.StatusBadRequest, "invalid id"},
		{"unknown id", http.MethodGet, "/api/shorten?id=nope1234", "", http.StatusNotFound, "not found"},
		{"unknown share", http.MethodGet, "/api/share?id=nope1234", "", http.StatusNotFound, "not found"},
		{"short share", http.MethodPost, "/api/share", `{"compressed":"abc"}`, http.StatusBadRequest, "invalid payload"},
		{"paste disabled", http.MethodGet, "/api/paste?id=x", "", http.StatusNotImplemented, "paste store not configured"},
		{"wrong method", http.MethodPut, "/api/shorten", "", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, env.server.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.errMsg == "" {
				return
			}
			var body protocol.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.errMsg, body.Error)
			assert.Equal(t, tt.status, body.Code)
		})
	}
}

func TestStoreUnavailable(t *testing.T) {
	env := newEnv(t, downStore{shortlink.NewMemoryStore()}, Options{})
	_, err := env.client.ResolveShortLink(context.Background(), "abc12345")
	assert.ErrorIs(t, err, protocol.ErrStoreUnavailable)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/shorten?id=abc12345", nil)
	require.NoError(t, err)
	req.Header.Set(logging.RequestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get(logging.RequestIDHeader))
	var body protocol.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "store unavailable", body.Error)
	assert.Equal(t, "req-42", body.RequestID)
}

func TestWriteProtection(t *testing.T) {
	tokens := auth.NewTokenService("secret")
	env := newEnv(t, nil, Options{Tokens: tokens})
	ctx := context.Background()

	_, err := env.client.CreateShortLink(ctx, testPayload, 0)
	assert.ErrorIs(t, err, client.ErrUnauthorized)

	tok, err := tokens.Issue("ci", time.Hour)
	require.NoError(t, err)
	env.client.SetAuthToken(tok)

	created, err := env.client.CreateShortLink(ctx, testPayload, 0)
	require.NoError(t, err)

	// reads stay open
	anon := client.New(client.Config{BaseURL: env.server.URL})
	_, err = anon.ResolveShortLink(ctx, created.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, anon.DeleteShortLink(ctx, created.ID), client.ErrUnauthorized)

	require.NoError(t, env.client.DeleteShortLink(ctx, created.ID))
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, nil, Options{Limiter: quota.NewRateLimiter(2)})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.client.CreateShortLink(ctx, testPayload, 0)
		require.NoError(t, err)
	}
	_, err := env.client.CreateShortLink(ctx, testPayload, 0)
	assert.ErrorIs(t, err, client.ErrRateLimited)

	// resolves are not limited
	_, err = env.client.ResolveShortLink(ctx, "missing1")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestEphemeralShare(t *testing.T) {
	env := newEnv(t, nil, Options{})
	ctx := context.Background()

	id, err := env.client.CreateShare(ctx, testPayload)
	require.NoError(t, err)
	got, err := env.client.FetchShare(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testPayload, got)
}

func TestPaste(t *testing.T) {
	env := newEnv(t, nil, Options{Pastes: &memPaste{}})
	ctx := context.Background()

	id, err := env.client.Publish(ctx, sampleTree())
	require.NoError(t, err)
	got, err := env.client.Fetch(ctx, id)
	require.NoError(t, err)
	assert.True(t, tree.SameFiles(sampleTree(), got))

	_, err = env.client.Fetch(ctx, "paste-404")
	assert.ErrorIs(t, err, protocol.ErrNotFound)

	resp, err := http.Post(env.server.URL+"/api/paste", "application/json", bytes.NewReader([]byte(`[1,2]`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShareThroughShortLink(t *testing.T) {
	env := newEnv(t, nil, Options{})
	ctx := context.Background()

	link, err := share.NewEncoder(compress.New()).Encode(ctx, sampleTree())
	require.NoError(t, err)
	created, err := env.client.CreateShortLink(ctx, link.Envelope, 0)
	require.NoError(t, err)

	opener := share.NewOpener(dispatch.NewDispatcher(compress.New(), 0), share.WithResolver(env.client))
	opened, err := opener.Open(ctx, "https://fractal.dev/editor/#sb:"+created.ID)
	require.NoError(t, err)
	assert.True(t, tree.SameFiles(sampleTree(), opened.Tree))
	assert.Equal(t, "#h:"+link.Envelope, opened.Canonical)
}
