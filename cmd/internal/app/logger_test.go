package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Parallel()

	var jb bytes.Buffer
	newLogger(&jb, "info", "json", false).Info("auth.login", "action", "ALLOW")
	var rec map[string]any
	if err := json.Unmarshal(jb.Bytes(), &rec); err != nil {
		t.Fatalf("json output not parseable: %v (%q)", err, jb.String())
	}
	if rec["msg"] != "auth.login" || rec["action"] != "ALLOW" {
		t.Fatalf("unexpected record: %v", rec)
	}

	var tb bytes.Buffer
	newLogger(&tb, "info", "text", false).Debug("hidden")
	if tb.Len() != 0 {
		t.Fatalf("debug should be filtered at info: %q", tb.String())
	}

	var pb bytes.Buffer
	newLogger(&pb, "debug", "pretty", false).Debug("sweep.done", "removed", 3)
	out := pb.String()
	if !strings.Contains(out, "[DEBUG]") || !strings.Contains(out, "removed=3") {
		t.Fatalf("unexpected pretty output: %q", out)
	}
}
