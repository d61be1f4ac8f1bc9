package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogger(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
		log.SetReportCaller(false)
		log.SetOutput(os.Stderr)
	})
}

func TestSetupJSON(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer

	require.NoError(t, Setup(Config{Level: "debug", Format: "json", Output: &buf}))
	log.WithField("session", "alice").Debug("Logged in")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "alice", entry["session"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestSetupText(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer

	require.NoError(t, Setup(Config{Level: "warn", Output: &buf}))
	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetupRejectsBadValues(t *testing.T) {
	resetLogger(t)

	assert.Error(t, Setup(Config{Level: "loud"}))
	assert.Error(t, Setup(Config{Format: "xml"}))
}
