package utils

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithOptions(&buf, "warn", "json").With("tracker")

	l.Printf("hidden %d", 1)
	l.Debugf("hidden")
	l.Warnf("cycle failed: %s", "boom")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "tracker", entry["component"])
	assert.Equal(t, "cycle failed: boom", entry["message"])
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Printf("x")
		l.Errorf("x")
		l.With("c").Warnf("x")
		l.Zerolog().Info().Msg("x")
	})
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithOptions(&buf, "loud", "json")
	l.Debugf("no")
	l.Printf("yes")
	assert.NotContains(t, buf.String(), `"no"`)
	assert.Contains(t, buf.String(), `"yes"`)
}
