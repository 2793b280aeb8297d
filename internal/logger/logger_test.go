package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json config", config: &Config{Level: "debug", Format: "json", Output: io.Discard}},
		{name: "console config", config: &Config{Level: "info", Format: "console", Output: io.Discard}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, New(tt.config))
		})
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "info", Format: "json", Output: buf})

	log.Info().Msg("object stored")

	entry := decode(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "object stored", entry["message"])
	assert.NotEmpty(t, entry["time"])
}

func TestLogger_Component(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "info", Format: "json", Output: buf})

	log.Component("vault").With().
		Str("key", "1700000000000-clip.mp4").
		Int64("size", 9999).
		Logger().
		Info().Msg("upload committed")

	entry := decode(t, buf)
	assert.Equal(t, "vault", entry["component"])
	assert.Equal(t, "1700000000000-clip.mp4", entry["key"])
	assert.Equal(t, float64(9999), entry["size"])
}

func TestLogger_ErrorWith(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "error", Format: "json", Output: buf})

	log.ErrorWith("publish failed", errors.New("broker unreachable"), map[string]any{
		"channel": "uploaded",
	})

	entry := decode(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "broker unreachable", entry["error"])
	assert.Equal(t, "uploaded", entry["channel"])
}

func TestLogger_Context(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "info", Format: "json", Output: buf})

	ctx := log.WithContext(context.Background())
	FromContext(ctx, nil).Info().Msg("from context")

	assert.Equal(t, "from context", decode(t, buf)["message"])
}

func TestFromContext_Fallback(t *testing.T) {
	buf := &bytes.Buffer{}
	fallback := New(&Config{Level: "info", Format: "json", Output: buf})

	FromContext(context.Background(), fallback).Info().Msg("fallback")
	assert.Equal(t, "fallback", decode(t, buf)["message"])

	assert.NotNil(t, FromContext(context.Background(), nil))
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		logFunc  func(*Logger)
		expected bool
	}{
		{"debug level logs debug", "debug", func(l *Logger) { l.Debug().Msg("d") }, true},
		{"info level skips debug", "info", func(l *Logger) { l.Debug().Msg("d") }, false},
		{"warn level logs warn", "warn", func(l *Logger) { l.Warn().Msg("w") }, true},
		{"error level skips info", "error", func(l *Logger) { l.Info().Msg("i") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.logFunc(New(&Config{Level: tt.level, Format: "json", Output: buf}))

			if tt.expected {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("debug"))
	assert.True(t, ValidLevel(""))
	assert.False(t, ValidLevel("verbose"))
}

func BenchmarkLogger_WithFields(b *testing.B) {
	log := New(&Config{Level: "info", Format: "json", Output: io.Discard})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.With().
			Str("component", "vault").
			Int64("chunk", int64(i)).
			Logger().
			Info().Msg("chunk sent")
	}
}
