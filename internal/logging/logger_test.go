package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, levelFromString(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, levelFromString("warning"))
	assert.Equal(t, slog.LevelError, levelFromString("error"))
	assert.Equal(t, slog.LevelInfo, levelFromString("chatty"))
}

func TestLoggerWritesJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	logger.Info("dropped")
	logger.Warn("offer failed", "request_id", "r-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "exactly one JSON line expected")
	assert.Equal(t, "offer failed", line["msg"])
	assert.Equal(t, "r-1", line["request_id"])
	assert.Equal(t, serviceName, line["service"])
}
