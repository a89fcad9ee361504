package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFilters(t *testing.T) {
	for _, format := range []string{"text", "json", "color", "auto"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewLogger("warn", format, &buf)
			log.Info("hidden")
			log.Warn("shown", "unit", "U1")
			out := buf.String()
			if strings.Contains(out, "hidden") {
				t.Errorf("info line leaked through warn level: %q", out)
			}
			if !strings.Contains(out, "shown") || !strings.Contains(out, "U1") {
				t.Errorf("warn line missing: %q", out)
			}
		})
	}
}
