package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":  slog.LevelDebug,
		"dev":    slog.LevelDebug,
		"INFO":   slog.LevelInfo,
		"warn":   slog.LevelWarn,
		"prod":   slog.LevelError,
		"":       slog.LevelInfo,
		"bogus":  slog.LevelInfo,
		" error": slog.LevelError,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitEnvOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if got := Init("error"); got != slog.LevelDebug {
		t.Fatalf("LOG_LEVEL should win, got %v", got)
	}
}
