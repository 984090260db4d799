package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var Logger = slog.Default()

// Init builds the process logger and installs it as the slog default. debug
// forces debug level regardless of level.
func Init(level string, debug bool) *slog.Logger {
	Logger = New(os.Stdout, level, debug)
	slog.SetDefault(Logger)
	return Logger
}

func New(w io.Writer, level string, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	if debug {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
