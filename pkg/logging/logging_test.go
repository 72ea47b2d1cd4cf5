package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)

	logger.Info("Event saved", "event_id", "e1")
	assert.Empty(t, buf.String())

	logger.Warn("Save deferred until reconnect", "event_id", "e1")
	out := buf.String()
	assert.Contains(t, out, "Save deferred until reconnect")
	assert.Contains(t, out, "event_id=e1")
	assert.NotContains(t, out, "\x1b[", "non-terminal output is uncolored")
}
