package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-worker/internal/cache"
	"github.com/iTrooz/offline-worker/internal/config"
	"github.com/iTrooz/offline-worker/internal/notify"
	"github.com/iTrooz/offline-worker/internal/worker"
)

// Server hosts the offline worker behind a forward proxy
type Server struct {
	config       *config.Config
	origin       *url.URL
	proxy        *goproxy.ProxyHttpServer
	storage      cache.Storage
	controller   *worker.Controller
	registration *worker.Registration
	notifier     notify.Notifier
}

type serverOptions struct {
	notifier      notify.Notifier
	client        *http.Client
	workerOptions []worker.Option
}

// Option customises a Server
type Option func(*serverOptions)

// WithNotifier replaces the notifier built from the configuration
func WithNotifier(n notify.Notifier) Option {
	return func(o *serverOptions) {
		o.notifier = n
	}
}

// WithHTTPClient sets the client used by the worker to reach the network
func WithHTTPClient(c *http.Client) Option {
	return func(o *serverOptions) {
		o.client = c
	}
}

// WithWorkerOptions passes options through to the controller
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(o *serverOptions) {
		o.workerOptions = append(o.workerOptions, opts...)
	}
}

// New creates a new proxy server
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	var options serverOptions
	for _, opt := range opts {
		opt(&options)
	}

	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}

	storage, err := cache.New(cfg.Cache.Backend, cfg.Cache.Folder)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache storage: %w", err)
	}

	notifier := options.notifier
	if notifier == nil {
		notifier = notifierFromConfig(cfg.Notification)
	}

	controller, err := worker.NewController(worker.Options{
		Generation: cfg.Cache.Generation,
		Origin:     origin,
		Seed:       cfg.Seed,
		Icon:       cfg.Notification.Icon,
		Badge:      cfg.Notification.Badge,
	}, storage, worker.NewNetwork(options.client), notifier, options.workerOptions...)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	s := &Server{
		config:       cfg,
		origin:       origin,
		proxy:        goproxy.NewProxyHttpServer(),
		storage:      storage,
		controller:   controller,
		registration: worker.NewRegistration(controller),
		notifier:     notifier,
	}
	s.setupProxy()
	return s, nil
}

func notifierFromConfig(cfg config.NotificationConfig) notify.Notifier {
	notifiers := notify.Multi{notify.LogNotifier{}}
	if cfg.Jabber.Enabled() {
		notifiers = append(notifiers, notify.NewJabber(notify.JabberConfig{
			Server:    cfg.Jabber.Server,
			Username:  cfg.Jabber.Username,
			Password:  cfg.Jabber.Password,
			Recipient: cfg.Jabber.Recipient,
			Room:      cfg.Jabber.Room,
			Nick:      cfg.Jabber.Nick,
			NoTLS:     cfg.Jabber.NoTLS,
		}))
	}
	return notifiers
}

func (s *Server) setupProxy() {
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.DebugLevel)
	s.proxy.NonproxyHandler = s.adminHandler()

	if s.config.Server.HTTPS.CACertFile != "" {
		s.setupHTTPSProxyHandler()
	}

	s.proxy.OnRequest().DoFunc(s.onRequest)
}

// GetProxy returns the underlying goproxy handler
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Registration returns the lifecycle of the hosted worker
func (s *Server) Registration() *worker.Registration {
	return s.registration
}

// Bootstrap installs and activates the worker. An install failure is logged
// and leaves the proxy forwarding every request untouched.
func (s *Server) Bootstrap(ctx context.Context) error {
	err := s.registration.Start(ctx)
	if errors.Is(err, worker.ErrInstallFailed) {
		logrus.Errorf("Worker not activated, requests will not be cached: %v", err)
		return nil
	}
	return err
}

// Start bootstraps the worker and serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.Infof("Starting offline worker proxy on port %d", s.config.Server.Port)
	logrus.Infof("Origin: %s", s.origin)
	logrus.Infof("Cache generation: %s (%s backend in %s)", s.config.Cache.Generation, s.config.Cache.Backend, s.config.Cache.Folder)
	logrus.Infof("Worker state: %s", s.registration.State())

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Failed to shut down cleanly: %v", err)
		}
		return nil
	}
}

// Flush waits for pending cache writes
func (s *Server) Flush() {
	s.controller.Wait()
}

// Close waits for pending cache writes and releases the storage
func (s *Server) Close() error {
	s.Flush()
	var errs []error
	if closer, ok := s.notifier.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	if multi, ok := s.notifier.(notify.Multi); ok {
		for _, n := range multi {
			if closer, ok := n.(interface{ Close() error }); ok {
				errs = append(errs, closer.Close())
			}
		}
	}
	errs = append(errs, s.storage.Close())
	return errors.Join(errs...)
}
