package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iTrooz/offline-worker/internal/cache"
	"github.com/iTrooz/offline-worker/internal/cache/httpcache"
	"github.com/iTrooz/offline-worker/internal/notify"
)

// ErrNoNotification is returned for push payloads without a notification object.
var ErrNoNotification = errors.New("push payload has no notification")

// DefaultIcon is used for both the icon and the badge when none is configured.
const DefaultIcon = "images/logo192.png"

// Options is the fixed configuration of a controller.
type Options struct {
	// Generation names the current cache generation.
	Generation string
	// Origin is the application origin; seed paths resolve against it and only
	// its responses are cached.
	Origin *url.URL
	// Seed lists the assets cached on install, relative to Origin.
	Seed  []string
	Icon  string
	Badge string
}

// FallbackFunc produces a response when the network cannot be reached.
// Returning nil keeps the default behaviour of producing no response.
type FallbackFunc func(ctx context.Context, req *http.Request) *http.Response

// Option customises a Controller.
type Option func(*Controller)

// WithOfflineFallback installs a response used when a cache miss cannot be fetched.
func WithOfflineFallback(fn FallbackFunc) Option {
	return func(c *Controller) {
		c.fallback = fn
	}
}

// Controller is the offline cache controller: cache-first GET handling over
// a versioned cache generation, plus push notifications.
type Controller struct {
	opts     Options
	storage  cache.Storage
	network  Fetcher
	notifier notify.Notifier
	fallback FallbackFunc
	detached Detached
}

var _ Handler = (*Controller)(nil)

func NewController(opts Options, storage cache.Storage, network Fetcher, notifier notify.Notifier, options ...Option) (*Controller, error) {
	if err := cache.ValidateGeneration(opts.Generation); err != nil {
		return nil, err
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, errors.New("an absolute origin is required")
	}
	if opts.Icon == "" {
		opts.Icon = DefaultIcon
	}
	if opts.Badge == "" {
		opts.Badge = DefaultIcon
	}
	opts.Seed = append([]string(nil), opts.Seed...)

	c := &Controller{
		opts:     opts,
		storage:  storage,
		network:  network,
		notifier: notifier,
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// Generation returns the current generation name
func (c *Controller) Generation() string {
	return c.opts.Generation
}

func (c *Controller) open(ctx context.Context) (*httpcache.HTTPCache, error) {
	bucket, err := c.storage.Open(ctx, c.opts.Generation)
	if err != nil {
		return nil, err
	}
	return httpcache.New(bucket), nil
}

// SeedRequests resolves the seed list into GET requests against the origin.
func (c *Controller) SeedRequests(ctx context.Context) ([]*http.Request, error) {
	requests := make([]*http.Request, 0, len(c.opts.Seed))
	for _, path := range c.opts.Seed {
		ref, err := url.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("invalid seed path %q: %w", path, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.Origin.ResolveReference(ref).String(), nil)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// OnInstall fetches every seed asset and stores them only if all succeeded.
func (c *Controller) OnInstall(ctx context.Context, host Lifecycle) error {
	logrus.Infof("Installing cache generation %s", c.opts.Generation)

	hc, err := c.open(ctx)
	if err != nil {
		return fmt.Errorf("opening cache %s: %w", c.opts.Generation, err)
	}

	requests, err := c.SeedRequests(ctx)
	if err != nil {
		return err
	}

	responses := make([]*http.Response, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		g.Go(func() error {
			resp, err := c.network.Fetch(gctx, req.WithContext(gctx))
			if err != nil {
				return fmt.Errorf("fetching %s: %w", req.URL, err)
			}
			if resp.StatusCode != http.StatusOK {
				_ = resp.Body.Close()
				return fmt.Errorf("fetching %s: unexpected status %d", req.URL, resp.StatusCode)
			}
			stored, _, err := duplicate(resp)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", req.URL, err)
			}
			responses[i] = stored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, resp := range responses {
			if resp != nil {
				_ = resp.Body.Close()
			}
		}
		return err
	}

	logrus.Infof("Caching %d seed assets", len(requests))
	keys := make([]string, len(requests))
	for i, req := range requests {
		keys[i] = httpcache.Key(req)
	}
	if err := hc.PutAll(ctx, keys, responses); err != nil {
		return fmt.Errorf("caching seed assets: %w", err)
	}

	host.SkipWaiting()
	return nil
}

// OnActivate deletes every generation but the current one, then claims clients.
func (c *Controller) OnActivate(ctx context.Context, host Lifecycle) error {
	logrus.Infof("Activating cache generation %s", c.opts.Generation)

	generations, err := c.storage.Generations(ctx)
	if err != nil {
		return fmt.Errorf("listing cache generations: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, generation := range generations {
		if generation == c.opts.Generation {
			continue
		}
		g.Go(func() error {
			logrus.Infof("Deleting old cache generation %s", generation)
			return c.storage.Delete(gctx, generation)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("evicting stale generations: %w", err)
	}

	host.ClaimClients()
	return nil
}

// OnFetch serves GET requests cache-first. Other methods are left to the host.
func (c *Controller) OnFetch(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	if req.Method != http.MethodGet {
		return nil, false, nil
	}

	targetURL := httpcache.TargetURL(req)
	log := logrus.WithField("url", targetURL)

	hc, err := c.open(ctx)
	if err != nil {
		log.Errorf("Failed to open cache %s: %v", c.opts.Generation, err)
	} else {
		cached, err := hc.Match(ctx, req)
		if err != nil {
			log.Errorf("Failed to get cached data: %v", err)
		} else if cached != nil {
			log.Debug("Serving from cache")
			cached.Header.Set("X-Cache", "HIT")
			return cached, true, nil
		}
	}

	resp, err := c.network.Fetch(ctx, req)
	if err != nil {
		log.Errorf("Fetch failed; client is likely offline: %v", err)
		if c.fallback != nil {
			if fallback := c.fallback(ctx, req); fallback != nil {
				return fallback, true, nil
			}
		}
		return nil, true, fmt.Errorf("fetching %s: %w", targetURL, err)
	}
	if resp == nil {
		return nil, true, nil
	}

	if resp.StatusCode != http.StatusOK || Classify(c.opts.Origin, req, resp) != ResponseBasic {
		log.Debugf("Not caching response (status %d)", resp.StatusCode)
		return resp, true, nil
	}

	served, stored, err := duplicate(resp)
	if err != nil {
		log.Errorf("Fetch failed while reading body: %v", err)
		return nil, true, fmt.Errorf("fetching %s: %w", targetURL, err)
	}

	if hc != nil {
		key := httpcache.Key(req)
		c.detached.Go(ctx, "cache-put", func(ctx context.Context) error {
			return hc.PutKey(ctx, key, stored)
		})
	}

	served.Header.Set("X-Cache", "MISS")
	return served, true, nil
}

// PushMessage is the payload sent by the push server.
type PushMessage struct {
	Notification *PushNotification `json:"notification"`
}

type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// OnPush shows the notification carried by payload.
func (c *Controller) OnPush(ctx context.Context, payload []byte) error {
	logrus.Debug("Push received")

	var msg PushMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("parsing push payload: %w", err)
	}
	if msg.Notification == nil {
		return ErrNoNotification
	}

	n := notify.New(msg.Notification.Title, msg.Notification.Body, c.opts.Icon, c.opts.Badge)
	return c.notifier.Show(ctx, n)
}

// Wait blocks until pending cache writes have finished.
func (c *Controller) Wait() {
	c.detached.Wait()
}
