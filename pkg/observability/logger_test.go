package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/platinummonkey/coursetrail/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")

		entry := decodeEntry(t, &buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "info message", entry["msg"])
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		assert.NotZero(t, buf.Len())
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("course_id", float64(7)).
		WithFields(map[string]interface{}{"event_type": "folder_created"}).
		WithError(errors.New("boom")).
		Debugf("recorded %d events", 3)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, float64(7), entry["course_id"])
	assert.Equal(t, "folder_created", entry["event_type"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "recorded 3 events", entry["msg"])
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, nil)
	assert.Same(t, logger, logger.WithError(nil))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-123")

	FromContext(ctx).Info("test message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-123", entry["request_id"])
}

func TestFromContextOr(t *testing.T) {
	var fallback, scoped bytes.Buffer
	fallbackLogger := NewLogger(InfoLevel, &fallback)

	FromContextOr(contextkeys.WithRequestID(context.Background(), "req-9"), fallbackLogger).Info("fallback")
	entry := decodeEntry(t, &fallback)
	assert.Equal(t, "req-9", entry["request_id"])

	ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &scoped))
	FromContextOr(ctx, fallbackLogger).Info("scoped")
	assert.Contains(t, scoped.String(), "scoped")
	assert.NotContains(t, fallback.String(), "scoped")
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(42), "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		" warn ":  WarnLevel,
		"error":   ErrorLevel,
		"verbose": InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestLogger_WithFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(InfoLevel, &buf).WithFields(map[string]interface{}{"b": 2, "a": 1, "c": 3}).Info("ordered")

	out := buf.String()
	assert.Less(t, strings.Index(out, `"a":1`), strings.Index(out, `"b":2`))
	assert.Less(t, strings.Index(out, `"b":2`), strings.Index(out, `"c":3`))
}
