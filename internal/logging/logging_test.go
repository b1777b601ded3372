package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/visionboard/usermanagement/internal/config"
)

func TestParseLevel(t *testing.T) {
	tt := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warning", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "", want: slog.LevelInfo},
		{input: "verbose", want: slog.LevelInfo},
	}

	for _, test := range tt {
		assert.Equal(t, test.want, ParseLevel(test.input), test.input)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, &config.LogConfig{Level: "info", Format: "json"})

	logger.Debug("hidden")
	logger.Info("registered user", "user_id", "abc")

	line := bytes.TrimSpace(buf.Bytes())
	require.True(t, json.Valid(line), string(line))
	assert.NotContains(t, string(line), "hidden")
	assert.Contains(t, string(line), "registered user")
	assert.Contains(t, string(line), `"user_id":"abc"`)
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, &config.LogConfig{Level: "warn", Format: "text"})

	logger.Info("hidden")
	logger.Warn("email already exists")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "email already exists")
}

func TestRedactEmail(t *testing.T) {
	tt := []struct {
		input string
		want  string
	}{
		{input: "jane.doe@example.com", want: "j***@example.com"},
		{input: "  J@x.io ", want: "J***@x.io"},
		{input: "élise@example.fr", want: "é***@example.fr"},
		{input: "@example.com", want: "***"},
		{input: "jane@", want: "***"},
		{input: "not-an-email", want: "***"},
		{input: "", want: "***"},
	}

	for _, test := range tt {
		assert.Equal(t, test.want, RedactEmail(test.input), test.input)
	}
}

func TestEmailAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, &config.LogConfig{Level: "info", Format: "json"})

	logger.Info("registration request received", Email("email", "jane.doe@example.com"))

	assert.NotContains(t, buf.String(), "jane.doe@example.com")
	assert.Contains(t, buf.String(), `"email":"j***@example.com"`)
}
