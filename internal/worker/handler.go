// Package worker implements the offline cache controller and the lifecycle a
// host drives it through.
package worker

import (
	"context"
	"net/http"
)

// Handler reacts to the events a host dispatches to a worker.
// Each method returns once the work the host has to wait for is done.
type Handler interface {
	// OnInstall prepares the worker's cache generation.
	// A returned error means the worker must not be activated.
	OnInstall(ctx context.Context, host Lifecycle) error
	// OnActivate runs once install has completed.
	OnActivate(ctx context.Context, host Lifecycle) error
	// OnFetch answers a request on behalf of the host. When handled is false the
	// host forwards the request with its default handling. A handled request
	// with a nil response means no response could be produced.
	OnFetch(ctx context.Context, req *http.Request) (resp *http.Response, handled bool, err error)
	// OnPush processes a push message payload.
	OnPush(ctx context.Context, payload []byte) error
}

// Lifecycle carries the signals a handler sends back to its host.
type Lifecycle interface {
	// SkipWaiting asks the host to activate the installed worker right away.
	SkipWaiting()
	// ClaimClients asks the host to route already connected clients through the worker.
	ClaimClients()
}
