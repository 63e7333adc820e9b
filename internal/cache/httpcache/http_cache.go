package httpcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-worker/internal/cache"
)

// HTTPCache stores whole responses in a cache generation, keyed by request.
type HTTPCache struct {
	bucket cache.Bucket
}

func New(bucket cache.Bucket) *HTTPCache {
	return &HTTPCache{
		bucket: bucket,
	}
}

// Generation returns the name of the underlying generation
func (c *HTTPCache) Generation() string {
	return c.bucket.Name()
}

// Key identifies a request by its method and absolute URL.
func Key(request *http.Request) string {
	return request.Method + " " + TargetURL(request)
}

// TargetURL returns the absolute URL of a request, rebuilding it from the Host header for origin-form requests.
func TargetURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return normalizeHost(r.URL.String())
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return normalizeHost(fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI()))
}

// normalizeHost drops the port when it is the scheme's default, so that
// http://a:80/x and http://a/x share an entry but http://a:443/x does not.
func normalizeHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = u.Hostname()
		if strings.Contains(u.Host, ":") {
			u.Host = "[" + u.Host + "]"
		}
	}
	return u.String()
}

func (c *HTTPCache) PutReq(request *http.Request, resp *http.Response) error {
	return c.PutKey(request.Context(), Key(request), resp)
}

// PutKey serializes resp (consuming and restoring its body) and stores it under requestKey.
func (c *HTTPCache) PutKey(ctx context.Context, requestKey string, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := c.bucket.Set(ctx, requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// PutAll stores every response under the key at the same index, or none of them.
// When a write fails, the entries already written are restored to their
// previous state before the error is returned.
func (c *HTTPCache) PutAll(ctx context.Context, requestKeys []string, resps []*http.Response) error {
	if len(requestKeys) != len(resps) {
		return fmt.Errorf("got %d keys for %d responses", len(requestKeys), len(resps))
	}

	data := make([][]byte, len(resps))
	for i, resp := range resps {
		serialized, err := Serialize(resp)
		if err != nil {
			return fmt.Errorf("failed to read response body for %s: %w", requestKeys[i], err)
		}
		data[i] = serialized
	}

	var written []previousEntry

	for i, key := range requestKeys {
		value, err := c.bucket.Get(ctx, key)
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			c.rollback(ctx, written)
			return fmt.Errorf("failed to get cache: %w", err)
		}
		written = append(written, previousEntry{key: key, value: value, exists: err == nil})

		if err := c.bucket.Set(ctx, key, data[i]); err != nil {
			c.rollback(ctx, written)
			return fmt.Errorf("caching %s: failed to set cache: %w", key, err)
		}
	}
	return nil
}

// previousEntry is the state of a key before PutAll overwrote it
type previousEntry struct {
	key    string
	value  []byte
	exists bool
}

func (c *HTTPCache) rollback(ctx context.Context, written []previousEntry) {
	ctx = context.WithoutCancel(ctx)
	for _, entry := range written {
		var err error
		if entry.exists {
			err = c.bucket.Set(ctx, entry.key, entry.value)
		} else {
			err = c.bucket.Delete(ctx, entry.key)
		}
		if err != nil {
			logrus.Errorf("Failed to roll back cache entry %s in %s: %v", entry.key, c.bucket.Name(), err)
		}
	}
}

// Match returns the stored response for request, or nil, nil on a miss.
func (c *HTTPCache) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.GetKey(ctx, Key(req))
	if err != nil {
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	// Associate the original request with the response
	resp.Request = req
	return resp, nil
}

func (c *HTTPCache) GetKey(ctx context.Context, requestKey string) (*http.Response, error) {
	data, err := c.bucket.Get(ctx, requestKey)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}

// Keys lists the request keys stored in this generation.
func (c *HTTPCache) Keys(ctx context.Context) ([]string, error) {
	return c.bucket.Keys(ctx)
}
