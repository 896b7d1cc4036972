package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesNDJSON(t *testing.T) {
	var file, console bytes.Buffer
	logger, err := New("info", &console, &file)
	require.NoError(t, err)

	logger.Named("browser").Info("navigating", zap.String("url", "http://localhost:6006"))
	logger.Debug("hidden")
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(file.String()), "\n")
	require.Len(t, lines, 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "browser", line["scope"])
	assert.Equal(t, "navigating", line["msg"])
	assert.Equal(t, "http://localhost:6006", line["url"])
	assert.Contains(t, line, "ts")

	assert.Contains(t, console.String(), "navigating")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New("loud", nil)
	assert.Error(t, err)
}

func TestNewWithoutOutputs(t *testing.T) {
	logger, err := New("debug", nil)
	require.NoError(t, err)
	logger.Info("dropped")
}
