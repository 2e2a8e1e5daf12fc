package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New initializes a JSON slog.Logger tagged with the service name.
// Log level can be debug, info, warn, error.
func New(serviceName, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, serviceName, level)
}

// NewWithWriter is New with an explicit destination, used by tests.
func NewWithWriter(w io.Writer, serviceName, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		// AddSource: true, // Uncomment to include source file and line number
	}

	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler).With("service", serviceName)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
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

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
