// Package client talks to a treeshare server: short links, ephemeral
// shares and pastes. Calls are never retried; each runs under the
// client's timeout.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
	"github.com/AtharvRG/fractal/pkg/tree"
)

var (
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited is returned for 429 responses.
	ErrRateLimited = errors.New("rate limited")
)

const maxResponseBytes = 128 << 20

// Client is a treeshare API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration // per call; defaults to 15s
	AuthToken string
	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		timeout:    cfg.Timeout,
		authToken:  cfg.AuthToken,
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// SetAuthToken sets the service token sent on write requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// Ping checks that the server answers /health.
func (c *Client) Ping(ctx context.Context) (*protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateShortLink stores payload and returns its id. A ttl of zero asks
// for the server default.
func (c *Client) CreateShortLink(ctx context.Context, payload string, ttl time.Duration) (*protocol.ShortenResponse, error) {
	req := protocol.ShortenRequest{Payload: payload, TTLSeconds: int64(ttl / time.Second)}
	var out protocol.ShortenResponse
	if err := c.do(ctx, http.MethodPost, "/api/shorten", nil, req, &out); err != nil {
		return nil, fmt.Errorf("create short link: %w", err)
	}
	return &out, nil
}

// ResolveShortLink returns the payload stored under id.
func (c *Client) ResolveShortLink(ctx context.Context, id string) (*protocol.ResolveResponse, error) {
	var out protocol.ResolveResponse
	if err := c.do(ctx, http.MethodGet, "/api/shorten", url.Values{"id": {id}}, nil, &out); err != nil {
		return nil, fmt.Errorf("resolve short link %s: %w", id, err)
	}
	if out.Payload == "" {
		return nil, fmt.Errorf("resolve short link %s: %w: response has no payload", id, protocol.ErrUnsupportedPayload)
	}
	return &out, nil
}

// DeleteShortLink removes id.
func (c *Client) DeleteShortLink(ctx context.Context, id string) error {
	var out protocol.DeleteResponse
	if err := c.do(ctx, http.MethodDelete, "/api/shorten", url.Values{"id": {id}}, nil, &out); err != nil {
		return fmt.Errorf("delete short link %s: %w", id, err)
	}
	return nil
}

// CreateShare stores compressed in the server's ephemeral store.
func (c *Client) CreateShare(ctx context.Context, compressed string) (string, error) {
	var out protocol.EphemeralShareResponse
	err := c.do(ctx, http.MethodPost, "/api/share", nil, protocol.EphemeralShareRequest{Compressed: compressed}, &out)
	if err != nil {
		return "", fmt.Errorf("create share: %w", err)
	}
	return out.ID, nil
}

// FetchShare returns the payload of an ephemeral share.
func (c *Client) FetchShare(ctx context.Context, id string) (string, error) {
	var out protocol.EphemeralShareResponse
	if err := c.do(ctx, http.MethodGet, "/api/share", url.Values{"id": {id}}, nil, &out); err != nil {
		return "", fmt.Errorf("fetch share %s: %w", id, err)
	}
	if out.Compressed == "" {
		return "", fmt.Errorf("fetch share %s: %w: no data", id, protocol.ErrUnsupportedPayload)
	}
	return out.Compressed, nil
}

// Publish stores t in the server's paste store.
func (c *Client) Publish(ctx context.Context, t models.Tree) (string, error) {
	var out protocol.PasteResponse
	if err := c.do(ctx, http.MethodPost, "/api/paste", nil, t, &out); err != nil {
		return "", fmt.Errorf("publish paste: %w", err)
	}
	return out.ID, nil
}

// Fetch loads a tree from the server's paste store.
func (c *Client) Fetch(ctx context.Context, id string) (models.Tree, error) {
	var out protocol.PasteFetchResponse
	if err := c.do(ctx, http.MethodGet, "/api/paste", url.Values{"id": {id}}, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch paste %s: %w", id, err)
	}
	if out.Tree == nil {
		return nil, fmt.Errorf("fetch paste %s: %w: no tree", id, protocol.ErrUnsupportedPayload)
	}
	tree.Normalize(out.Tree)
	return out.Tree, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		c.applyAuth(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", protocol.ErrStoreUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", protocol.ErrUnsupportedPayload, err)
	}
	return nil
}

// statusError maps an HTTP error status to the protocol sentinels.
func statusError(code int, body []byte) error {
	var er protocol.ErrorResponse
	msg := http.StatusText(code)
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
		if er.Details != "" {
			msg += ": " + er.Details
		}
	}

	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", protocol.ErrNotFound, msg)
	case code == http.StatusGone:
		return fmt.Errorf("%w: %s", protocol.ErrExpired, msg)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case code >= 500:
		return fmt.Errorf("%w: server returned %d: %s", protocol.ErrStoreUnavailable, code, msg)
	default:
		return fmt.Errorf("server returned %d: %s", code, msg)
	}
}
