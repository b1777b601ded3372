package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	phuslog "github.com/phuslu/log"
	"github.com/visionboard/usermanagement/internal/config"
)

// New builds the process logger from the log configuration. JSON output goes
// through phuslu/log's slog handler, text output through slog's own.
func New(cfg *config.LogConfig) *slog.Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg *config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(phuslog.SlogNewJSONHandler(w, opts))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Email returns a log attribute holding email in redacted form.
func Email(key, email string) slog.Attr {
	return slog.String(key, RedactEmail(email))
}

// RedactEmail keeps the first character of the local part and the domain,
// e.g. "j***@example.com".
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" || domain == "" {
		return "***"
	}
	r, _ := utf8.DecodeRuneInString(local)
	return string(r) + "***@" + domain
}
