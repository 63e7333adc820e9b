package worker

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedHandler records the events it receives
type scriptedHandler struct {
	installErr  error
	activateErr error
	skipWaiting bool
	events      []string
}

func (h *scriptedHandler) OnInstall(ctx context.Context, host Lifecycle) error {
	h.events = append(h.events, "install")
	if h.installErr != nil {
		return h.installErr
	}
	if h.skipWaiting {
		host.SkipWaiting()
	}
	return nil
}

func (h *scriptedHandler) OnActivate(ctx context.Context, host Lifecycle) error {
	h.events = append(h.events, "activate")
	if h.activateErr != nil {
		return h.activateErr
	}
	host.ClaimClients()
	return nil
}

func (h *scriptedHandler) OnFetch(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	h.events = append(h.events, "fetch")
	return &http.Response{StatusCode: http.StatusOK}, true, nil
}

func (h *scriptedHandler) OnPush(ctx context.Context, payload []byte) error {
	h.events = append(h.events, "push")
	return nil
}

func TestRegistrationStart(t *testing.T) {
	handler := &scriptedHandler{skipWaiting: true}
	reg := NewRegistration(handler)
	ctx := context.Background()

	_, handled, err := reg.Fetch(ctx, fetchRequest(t, http.MethodGet, testOrigin+"/"))
	require.NoError(t, err)
	assert.False(t, handled, "fetch before activation goes to the network")
	assert.ErrorIs(t, reg.Push(ctx, nil), ErrNotActive)

	require.NoError(t, reg.Start(ctx))
	assert.Equal(t, StateActivated, reg.State())
	assert.True(t, reg.Controlling())

	_, handled, err = reg.Fetch(ctx, fetchRequest(t, http.MethodGet, testOrigin+"/"))
	require.NoError(t, err)
	assert.True(t, handled)
	require.NoError(t, reg.Push(ctx, []byte(`{}`)))

	assert.Equal(t, []string{"install", "activate", "fetch", "push"}, handler.events)
}

func TestRegistrationWaitsWithoutSkipWaiting(t *testing.T) {
	handler := &scriptedHandler{}
	reg := NewRegistration(handler)

	require.NoError(t, reg.Start(context.Background()))
	assert.Equal(t, StateInstalled, reg.State())
	assert.False(t, reg.Controlling())

	require.NoError(t, reg.Activate(context.Background()))
	assert.True(t, reg.Controlling())
}

func TestRegistrationInstallFailure(t *testing.T) {
	installErr := errors.New("seed fetch failed")
	handler := &scriptedHandler{installErr: installErr, skipWaiting: true}
	reg := NewRegistration(handler)

	err := reg.Start(context.Background())
	assert.ErrorIs(t, err, ErrInstallFailed)
	assert.ErrorIs(t, err, installErr)
	assert.Equal(t, StateRedundant, reg.State())
	assert.False(t, reg.Controlling())

	assert.ErrorIs(t, reg.Activate(context.Background()), ErrInvalidState)
	assert.Equal(t, []string{"install"}, handler.events)
}

func TestRegistrationActivateBeforeInstall(t *testing.T) {
	handler := &scriptedHandler{}
	reg := NewRegistration(handler)

	assert.ErrorIs(t, reg.Activate(context.Background()), ErrInvalidState)
	assert.Empty(t, handler.events)

	require.NoError(t, reg.Install(context.Background()))
	assert.ErrorIs(t, reg.Install(context.Background()), ErrInvalidState, "install runs once")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "activated", StateActivated.String())
	assert.Equal(t, "State(42)", State(42).String())
}
