package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-worker/internal/config"
	"github.com/iTrooz/offline-worker/internal/notify"
	"github.com/iTrooz/offline-worker/internal/proxy"
)

// upstream is a test origin server counting the requests it receives per path
type upstream struct {
	*httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	total atomic.Int32
}

func (u *upstream) Hits(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

// fixture_upstream creates a test upstream server.
// /missing answers 404, /echo echoes POST bodies, everything else answers 200.
func fixture_upstream() *upstream {
	u := &upstream{hits: make(map[string]int)}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.total.Add(1)
		u.mu.Lock()
		u.hits[requ.URL.Path]++
		u.mu.Unlock()

		switch requ.URL.Path {
		case "/missing":
			http.NotFound(w, requ)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"message": "Hello from upstream", "method": "` + requ.Method + `", "path": "` + requ.URL.Path + `"}`))
		}
	}))
	return u
}

// fixture_config creates a test config for an origin with the given seed list
func fixture_config(origin, tempDir string, seed []string) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0 // Will be set by test server
	cfg.Origin = origin
	cfg.Cache.Folder = tempDir
	cfg.Seed = seed
	return &cfg
}

type recordingNotifier struct {
	mu    sync.Mutex
	shown []notify.Notification
}

func (r *recordingNotifier) Show(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
	return nil
}

func (r *recordingNotifier) Shown() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.shown...)
}

// fixture_proxy creates and bootstraps a proxy server with the given config and
// returns the server, test server, and an HTTP client going through it
func fixture_proxy(cfg *config.Config, opts ...proxy.Option) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg, opts...)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := proxyServer.Bootstrap(context.Background()); err != nil {
		_ = proxyServer.Close()
		return nil, nil, nil, err
	}

	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}
