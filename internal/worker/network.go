package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iTrooz/offline-worker/internal/cache/httpcache"
)

// ResponseType tells whether a response came from the application origin.
type ResponseType string

const (
	// ResponseBasic is a same-origin response
	ResponseBasic ResponseType = "basic"
	// ResponseOpaque is a cross-origin response
	ResponseOpaque ResponseType = "opaque"
)

// Fetcher issues requests to the network.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Network is a Fetcher backed by an http.Client.
type Network struct {
	client *http.Client
}

// NewNetwork wraps client; a nil client gets a default one with a 30s timeout.
func NewNetwork(client *http.Client) *Network {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Network{client: client}
}

// Fetch sends a copy of req to its absolute URL, so that server-side requests
// received by a proxy can be replayed.
func (n *Network) Fetch(ctx context.Context, requ *http.Request) (*http.Response, error) {
	targetURL := httpcache.TargetURL(requ)

	var body io.Reader
	if requ.Body != nil && requ.Body != http.NoBody {
		body = requ.Body
	}

	req, err := http.NewRequestWithContext(ctx, requ.Method, targetURL, body)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", targetURL, err)
	}

	for key, values := range requ.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Del("Proxy-Connection")
	req.Header.Del("Proxy-Authorization")

	return n.client.Do(req)
}

// Classify returns ResponseBasic when resp was served by origin.
// The final request of resp is used so that redirects to another origin count as cross-origin.
func Classify(origin *url.URL, req *http.Request, resp *http.Response) ResponseType {
	target := req
	if resp.Request != nil {
		target = resp.Request
	}

	u, err := url.Parse(httpcache.TargetURL(target))
	if err != nil {
		return ResponseOpaque
	}
	if sameOrigin(origin, u) {
		return ResponseBasic
	}
	return ResponseOpaque
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(canonicalHost(a), canonicalHost(b))
}

func canonicalHost(u *url.URL) string {
	port := u.Port()
	if port == "" || (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		return u.Hostname()
	}
	return u.Host
}

// duplicate buffers resp's body so that it can be handed out twice.
// The returned responses share nothing mutable.
func duplicate(resp *http.Response) (*http.Response, *http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("reading response body: %w", err)
	}

	clone := func() *http.Response {
		c := *resp
		c.Header = resp.Header.Clone()
		c.Body = io.NopCloser(bytes.NewReader(body))
		c.ContentLength = int64(len(body))
		c.TransferEncoding = nil
		return &c
	}
	return clone(), clone(), nil
}
