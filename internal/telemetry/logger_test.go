package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrettyHandlerFormatsPrefixAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo)
	defer Init(slog.LevelInfo)

	L().With("component", "watcher").WithGroup("game").Warn("finished", "id", "abcd1234")
	Debugf("hidden %d", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level: %q", out)
	}
	for _, want := range []string{"WARN: finished", "component=watcher", "game.id=abcd1234"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if !strings.HasPrefix(out, "[") || !strings.HasSuffix(out, "\n") {
		t.Errorf("unexpected line shape: %q", out)
	}
}

func TestLatencyTrackerPercentiles(t *testing.T) {
	lt := NewLatencyTracker(3)
	for _, ms := range []int{50, 10, 30, 20} {
		lt.Record(time.Duration(ms) * time.Millisecond)
	}
	if lt.Count() != 3 {
		t.Fatalf("Count = %d, want 3 (oldest sample evicted)", lt.Count())
	}
	if got := lt.P50(); got != 20*time.Millisecond {
		t.Errorf("P50 = %s, want 20ms", got)
	}
	if got := lt.P99(); got != 20*time.Millisecond {
		t.Errorf("P99 = %s, want 20ms", got)
	}
}
