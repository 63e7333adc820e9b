package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-worker/internal/config"
)

func resetLogrus(t *testing.T) {
	t.Cleanup(func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	})
}

func TestInitWritesJSONToFile(t *testing.T) {
	resetLogrus(t)
	logFile := filepath.Join(t.TempDir(), "logs", "worker.log")

	err := Init(config.LogConfig{Level: "debug", Format: "json", File: logFile, MaxSize: 1})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	logrus.WithField("action", "install").Info("Installing")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"action":"install"`)
	assert.Contains(t, line, `"msg":"Installing"`)
}

func TestInitRejectsBadLevel(t *testing.T) {
	resetLogrus(t)
	assert.Error(t, Init(config.LogConfig{Level: "verbose"}))
}
