package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPayloadFromFlags(t *testing.T) {
	payload, err := pushPayload(pushFlags{title: "Hi", body: "There"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"notification":{"title":"Hi","body":"There"}}`, string(payload))
}

func TestPushPayloadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"notification":{"title":"File","body":"Body"}}`), 0644))

	payload, err := pushPayload(pushFlags{file: path})
	require.NoError(t, err)
	assert.JSONEq(t, `{"notification":{"title":"File","body":"Body"}}`, string(payload))

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0644))
	_, err = pushPayload(pushFlags{file: path})
	assert.Error(t, err)
}

func TestPushPayloadRequiresTitle(t *testing.T) {
	_, err := pushPayload(pushFlags{body: "no title"})
	assert.Error(t, err)
}

func TestPushCommand(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/push", r.URL.Path)
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		received = buf.Bytes()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	root := newRootCommand()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetArgs([]string{"push", "--server", server.URL + "/", "--title", "Hi", "--body", "There"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Push delivered")
	assert.JSONEq(t, `{"notification":{"title":"Hi","body":"There"}}`, string(received))
}
