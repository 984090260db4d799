package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, "warn", false)
	log.Info("hidden")
	log.Warn("shown", "source", "example")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "source=example") {
		t.Fatalf("output = %q", out)
	}

	buf.Reset()
	New(&buf, "error", true).Debug("forced")
	if !strings.Contains(buf.String(), "forced") {
		t.Fatal("debug flag should force debug level")
	}
}
