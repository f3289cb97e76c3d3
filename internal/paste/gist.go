package paste

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

const (
	// DefaultGistAPI is the GitHub gists endpoint.
	DefaultGistAPI = "https://api.github.com/gists"
	// GistFilename is the file a published tree is stored in.
	GistFilename    = "fractal-project.json"
	gistDescription = "A project snapshot shared as a file tree"
	gistAccept      = "application/vnd.github.v3+json"
	maxGistBytes    = 64 << 20
)

// GistStore publishes trees as public GitHub gists.
type GistStore struct {
	apiURL     string
	token      string
	httpClient *http.Client
}

// GistOption configures a GistStore.
type GistOption func(*GistStore)

// WithGistAPI points the store at another gists endpoint.
func WithGistAPI(url string) GistOption {
	return func(g *GistStore) { g.apiURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) GistOption {
	return func(g *GistStore) { g.httpClient = c }
}

// NewGistStore returns a store that authenticates writes with token.
// Reads need no token.
func NewGistStore(token string, opts ...GistOption) *GistStore {
	g := &GistStore{
		apiURL:     DefaultGistAPI,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	RawURL    string `json:"raw_url,omitempty"`
}

type gist struct {
	ID          string              `json:"id,omitempty"`
	Description string              `json:"description,omitempty"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

type gistError struct {
	Message string `json:"message"`
}

// Publish creates a public gist holding t and returns the gist id.
func (g *GistStore) Publish(ctx context.Context, t models.Tree) (string, error) {
	if g.token == "" {
		return "", fmt.Errorf("gist publish needs a GitHub token with the gist scope")
	}
	content, err := marshalTree(t)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(gist{
		Description: gistDescription,
		Public:      true,
		Files:       map[string]gistFile{GistFilename: {Content: string(content)}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", gistAccept)
	req.Header.Set("Content-Type", "application/json")

	var created gist
	if err := g.do(req, http.StatusCreated, &created); err != nil {
		return "", fmt.Errorf("create gist: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create gist: %w: response has no id", protocol.ErrStoreUnavailable)
	}
	logging.Named("paste").Info("gist published", zap.String("gist", created.ID), zap.Int("bytes", len(content)))
	return created.ID, nil
}

// Fetch loads the tree from gist id. It reads GistFilename, or failing
// that the first .json or .txt file by name.
func (g *GistStore) Fetch(ctx context.Context, id string) (models.Tree, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiURL+"/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", gistAccept)

	var got gist
	if err := g.do(req, http.StatusOK, &got); err != nil {
		return nil, fmt.Errorf("fetch gist %s: %w", id, err)
	}

	file, ok := pickGistFile(got.Files)
	if !ok {
		return nil, fmt.Errorf("gist %s: %w: no %s file", id, protocol.ErrUnsupportedPayload, GistFilename)
	}
	content := file.Content
	if file.Truncated && file.RawURL != "" {
		if content, err = g.fetchRaw(ctx, file.RawURL); err != nil {
			return nil, fmt.Errorf("fetch gist %s: %w", id, err)
		}
	}
	return unmarshalTree([]byte(content))
}

func pickGistFile(files map[string]gistFile) (gistFile, bool) {
	if f, ok := files[GistFilename]; ok && (f.Content != "" || f.RawURL != "") {
		return f, true
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lower := strings.ToLower(name)
		if f := files[name]; f.Content != "" && (strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".txt")) {
			return f, true
		}
	}
	return gistFile{}, false
}

func (g *GistStore) fetchRaw(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", protocol.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, "")
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxGistBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", protocol.ErrStoreUnavailable, err)
	}
	return string(b), nil
}

func (g *GistStore) do(req *http.Request, want int, out any) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGistBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrStoreUnavailable, err)
	}
	if resp.StatusCode != want {
		var ge gistError
		_ = json.Unmarshal(body, &ge)
		return statusError(resp.StatusCode, ge.Message)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: malformed gist response: %v", protocol.ErrUnsupportedPayload, err)
	}
	return nil
}

func statusError(code int, msg string) error {
	if msg == "" {
		msg = http.StatusText(code)
	}
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", protocol.ErrNotFound, msg)
	case code >= 500:
		return fmt.Errorf("%w: status %d: %s", protocol.ErrStoreUnavailable, code, msg)
	default:
		return fmt.Errorf("github responded %d: %s", code, msg)
	}
}
