package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrInstallFailed wraps the error returned by a failed install.
	ErrInstallFailed = errors.New("worker install failed")
	// ErrInvalidState is returned when a lifecycle step runs out of order.
	ErrInvalidState = errors.New("invalid worker state")
	// ErrNotActive is returned when an event arrives before activation.
	ErrNotActive = errors.New("worker is not active")
)

// State of a registered worker
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Registration is the host side of a worker: it drives the handler through
// install and activate, and only dispatches fetch and push events once the
// worker is active.
type Registration struct {
	handler Handler

	mu             sync.Mutex
	state          State
	skippedWaiting bool
	claimed        bool
}

var _ Lifecycle = (*Registration)(nil)

func NewRegistration(handler Handler) *Registration {
	return &Registration{handler: handler}
}

func (r *Registration) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Registration) transition(from, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidState, from, r.state)
	}
	r.state = to
	return nil
}

func (r *Registration) set(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// Install runs the handler's install step. On failure the worker becomes redundant.
func (r *Registration) Install(ctx context.Context) error {
	if err := r.transition(StateParsed, StateInstalling); err != nil {
		return err
	}

	if err := r.handler.OnInstall(ctx, r); err != nil {
		r.set(StateRedundant)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	r.set(StateInstalled)
	return nil
}

// Activate runs the handler's activate step. It requires a completed install.
func (r *Registration) Activate(ctx context.Context) error {
	if err := r.transition(StateInstalled, StateActivating); err != nil {
		return err
	}

	if err := r.handler.OnActivate(ctx, r); err != nil {
		r.set(StateRedundant)
		return fmt.Errorf("activating worker: %w", err)
	}

	r.set(StateActivated)
	return nil
}

// Start installs the worker and activates it when it asked to skip waiting.
func (r *Registration) Start(ctx context.Context) error {
	if err := r.Install(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	skip := r.skippedWaiting
	r.mu.Unlock()
	if !skip {
		logrus.Info("Worker installed, waiting for activation")
		return nil
	}
	return r.Activate(ctx)
}

func (r *Registration) SkipWaiting() {
	r.mu.Lock()
	r.skippedWaiting = true
	r.mu.Unlock()
	logrus.Debug("Worker skipped waiting")
}

func (r *Registration) ClaimClients() {
	r.mu.Lock()
	r.claimed = true
	r.mu.Unlock()
	logrus.Debug("Worker claimed clients")
}

// Controlling reports whether client requests are routed through the worker.
func (r *Registration) Controlling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateActivated && r.claimed
}

// Fetch dispatches a request to the worker when it controls clients.
// Otherwise the request is left unhandled.
func (r *Registration) Fetch(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	if !r.Controlling() {
		return nil, false, nil
	}
	return r.handler.OnFetch(ctx, req)
}

// Push dispatches a push message to the active worker.
func (r *Registration) Push(ctx context.Context, payload []byte) error {
	if r.State() != StateActivated {
		return ErrNotActive
	}
	return r.handler.OnPush(ctx, payload)
}
