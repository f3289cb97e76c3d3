package paste

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
	"github.com/AtharvRG/fractal/pkg/tree"
)

func init() {
	logging.InitNop()
}

func sampleTree() models.Tree {
	t := models.Tree{
		"main.go":   models.NewFile("main.go", "package main\n"),
		"img/a.png": models.NewBinary("img/a.png"),
		"notes.txt": models.NewFile("notes.txt", ""),
	}
	tree.Normalize(t)
	return t
}

// fakeGitHub serves a minimal gists API from memory.
type fakeGitHub struct {
	mu    sync.Mutex
	gists map[string]gist
	auth  string
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/gists":
		f.auth = r.Header.Get("Authorization")
		var g gist
		if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
			http.Error(w, `{"message":"bad json"}`, http.StatusBadRequest)
			return
		}
		g.ID = "g" + strings.Repeat("0", len(f.gists)+1)
		f.gists[g.ID] = g
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(g)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/gists/"):
		g, ok := f.gists[strings.TrimPrefix(r.URL.Path, "/gists/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"message":"Not Found"}`)
			return
		}
		json.NewEncoder(w).Encode(g)
	case r.URL.Path == "/raw/big.json":
		g := f.gists["raw"]
		io.WriteString(w, g.Description)
	default:
		http.NotFound(w, r)
	}
}

func newGitHub(t *testing.T) (*fakeGitHub, *GistStore) {
	gh := &fakeGitHub{gists: make(map[string]gist)}
	srv := httptest.NewServer(gh)
	t.Cleanup(srv.Close)
	return gh, NewGistStore("tok", WithGistAPI(srv.URL+"/gists"), WithHTTPClient(srv.Client()))
}

func TestGistRoundTrip(t *testing.T) {
	gh, store := newGitHub(t)
	want := sampleTree()

	id, err := store.Publish(context.Background(), want)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gh.auth)
	assert.Contains(t, gh.gists[id].Files, GistFilename)
	assert.True(t, gh.gists[id].Public)

	got, err := store.Fetch(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, tree.SameFiles(want, got))
}

func TestGistFetchFallbackFile(t *testing.T) {
	gh, store := newGitHub(t)
	js, err := json.Marshal(sampleTree())
	require.NoError(t, err)
	gh.gists["other"] = gist{ID: "other", Files: map[string]gistFile{
		"README.md":   {Content: "# hi"},
		"project.TXT": {Content: string(js)},
	}}

	got, err := store.Fetch(context.Background(), "other")
	require.NoError(t, err)
	assert.True(t, tree.SameFiles(sampleTree(), got))
}

func TestGistFetchTruncated(t *testing.T) {
	gh, store := newGitHub(t)
	js, err := json.Marshal(sampleTree())
	require.NoError(t, err)
	// The raw handler serves the "raw" gist's description as the file body.
	gh.gists["raw"] = gist{Description: string(js)}
	gh.gists["big"] = gist{ID: "big", Files: map[string]gistFile{
		GistFilename: {Content: `{"trunc`, Truncated: true, RawURL: strings.TrimSuffix(store.apiURL, "/gists") + "/raw/big.json"},
	}}

	got, err := store.Fetch(context.Background(), "big")
	require.NoError(t, err)
	assert.True(t, tree.SameFiles(sampleTree(), got))
}

func TestGistFetchErrors(t *testing.T) {
	gh, store := newGitHub(t)
	gh.gists["empty"] = gist{ID: "empty", Files: map[string]gistFile{"a.png": {Content: "x"}}}

	_, err := store.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, protocol.ErrNotFound)

	_, err = store.Fetch(context.Background(), "empty")
	assert.ErrorIs(t, err, protocol.ErrUnsupportedPayload)
}

func TestGistPublishNeedsToken(t *testing.T) {
	_, err := NewGistStore("").Publish(context.Background(), sampleTree())
	assert.Error(t, err)
}

// fakeS3 keeps objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: make(map[string]bool), objects: make(map[string][]byte)}
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets[*in.Bucket] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[*in.Bucket] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestObjectStoreRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := newObjectStore(fake, "pastes")
	require.NoError(t, store.ensureBucket(context.Background()))
	assert.True(t, fake.buckets["pastes"])

	want := sampleTree()
	id, err := store.Publish(context.Background(), want)
	require.NoError(t, err)
	require.Contains(t, fake.objects, KeyPrefix+id)

	js, err := json.Marshal(want)
	require.NoError(t, err)
	assert.NotEqual(t, js, fake.objects[KeyPrefix+id])

	got, err := store.Fetch(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, tree.SameFiles(want, got))
}

func TestObjectStoreFetchErrors(t *testing.T) {
	fake := newFakeS3()
	store := newObjectStore(fake, "pastes")

	_, err := store.Fetch(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, protocol.ErrNotFound)

	_, err = store.Fetch(context.Background(), "0b7c5e1e-5d0b-4a43-9a0c-3c1f0a3e8e11")
	assert.ErrorIs(t, err, protocol.ErrNotFound)

	fake.objects[KeyPrefix+"0b7c5e1e-5d0b-4a43-9a0c-3c1f0a3e8e11"] = []byte("not zstd")
	_, err = store.Fetch(context.Background(), "0b7c5e1e-5d0b-4a43-9a0c-3c1f0a3e8e11")
	assert.ErrorIs(t, err, protocol.ErrDecompressFailed)
}
