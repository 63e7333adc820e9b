package httpcache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-worker/internal/cache"
)

func fixtureCache(t *testing.T) *HTTPCache {
	storage, err := cache.NewDisk(t.TempDir())
	require.NoError(t, err)
	bucket, err := storage.Open(context.Background(), "v1")
	require.NoError(t, err)
	return New(bucket)
}

func fixtureResponse(body string) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestHTTPCacheMatchAndPut(t *testing.T) {
	httpCache := fixtureCache(t)
	ctx := context.Background()

	req, err := http.NewRequest(http.MethodGet, "https://example.com/api/users", nil)
	require.NoError(t, err)

	cached, err := httpCache.Match(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, cached, "empty cache must miss")

	require.NoError(t, httpCache.PutReq(req, fixtureResponse("test response data")))

	cached, err = httpCache.Match(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Same(t, req, cached.Request)
	assert.Equal(t, http.StatusOK, cached.StatusCode)
	assert.Equal(t, "application/json", cached.Header.Get("Content-Type"))

	body, err := io.ReadAll(cached.Body)
	require.NoError(t, err)
	assert.Equal(t, "test response data", string(body))
}

func TestHTTPCacheOverwrite(t *testing.T) {
	httpCache := fixtureCache(t)
	ctx := context.Background()
	key := "GET https://example.com/"

	require.NoError(t, httpCache.PutKey(ctx, key, fixtureResponse("old")))
	require.NoError(t, httpCache.PutKey(ctx, key, fixtureResponse("new")))

	cached, err := httpCache.GetKey(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(cached.Body)
	require.NoError(t, err)
	assert.Equal(t, "new", string(body))

	keys, err := httpCache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func TestPutKeepsResponseReadable(t *testing.T) {
	httpCache := fixtureCache(t)
	resp := fixtureResponse("still here")

	require.NoError(t, httpCache.PutKey(context.Background(), "GET http://example.com/", resp))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "still here", string(body))
}

func TestKey(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		host   string
		want   string
	}{
		{
			name:   "absolute URL",
			method: http.MethodGet,
			url:    "http://example.com/api/users?page=1",
			want:   "GET http://example.com/api/users?page=1",
		},
		{
			name:   "default port is dropped",
			method: http.MethodGet,
			url:    "https://example.com:443/app.js",
			want:   "GET https://example.com/app.js",
		},
		{
			name:   "default http port is dropped",
			method: http.MethodGet,
			url:    "http://example.com:80/app.js",
			want:   "GET http://example.com/app.js",
		},
		{
			name:   "https port on http is kept",
			method: http.MethodGet,
			url:    "http://example.com:443/x",
			want:   "GET http://example.com:443/x",
		},
		{
			name:   "http port on https is kept",
			method: http.MethodGet,
			url:    "https://example.com:80/x",
			want:   "GET https://example.com:80/x",
		},
		{
			name:   "origin-form request",
			method: http.MethodGet,
			url:    "/manifest.json",
			host:   "localhost:3000",
			want:   "GET http://localhost:3000/manifest.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.url, nil)
			require.NoError(t, err)
			if tt.host != "" {
				req.Host = tt.host
			}
			assert.Equal(t, tt.want, Key(req))
		})
	}
}

func TestDeserializeInvalid(t *testing.T) {
	_, err := Deserialize([]byte("nope"))
	assert.Error(t, err)

	_, err = Deserialize([]byte(PREFIX + "garbage"))
	assert.Error(t, err)
}

// failingBucket fails the nth call to Set
type failingBucket struct {
	cache.Bucket
	failOn int
	sets   int
}

func (b *failingBucket) Set(ctx context.Context, key string, value []byte) error {
	b.sets++
	if b.sets == b.failOn {
		return errors.New("disk full")
	}
	return b.Bucket.Set(ctx, key, value)
}

func TestPutAll(t *testing.T) {
	httpCache := fixtureCache(t)
	ctx := context.Background()
	keys := []string{"GET http://example.com/", "GET http://example.com/app.js"}

	require.NoError(t, httpCache.PutAll(ctx, keys, []*http.Response{fixtureResponse("index"), fixtureResponse("app")}))

	stored, err := httpCache.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, stored)
}

func TestPutAllRollsBackOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	base := fixtureCache(t)
	existing := "GET http://example.com/"
	require.NoError(t, base.PutKey(ctx, existing, fixtureResponse("old index")))

	bucket := &failingBucket{Bucket: base.bucket, failOn: 3}
	httpCache := New(bucket)
	keys := []string{existing, "GET http://example.com/app.js", "GET http://example.com/logo.png"}
	resps := []*http.Response{fixtureResponse("new index"), fixtureResponse("app"), fixtureResponse("logo")}

	err := httpCache.PutAll(ctx, keys, resps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stored, err := base.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{existing}, stored)

	cached, err := base.GetKey(ctx, existing)
	require.NoError(t, err)
	require.NotNil(t, cached)
	body, err := io.ReadAll(cached.Body)
	require.NoError(t, err)
	assert.Equal(t, "old index", string(body))
}

func TestPutAllLengthMismatch(t *testing.T) {
	httpCache := fixtureCache(t)
	err := httpCache.PutAll(context.Background(), []string{"GET http://example.com/"}, nil)
	assert.Error(t, err)
}
