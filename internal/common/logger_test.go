package common

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"error", LogLevelError},
		{"WARN", LogLevelWarn},
		{"warning", LogLevelWarn},
		{"debug", LogLevelDebug},
		{"info", LogLevelInfo},
		{"", LogLevelInfo},
		{"verbose", LogLevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLogLevel(tt.in); got != tt.want {
				t.Fatalf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogLevelToSlog(t *testing.T) {
	if LogLevelDebug.ToSlogLevel() != slog.LevelDebug {
		t.Fatalf("debug mismatch")
	}
	if LogLevelError.ToSlogLevel() != slog.LevelError {
		t.Fatalf("error mismatch")
	}
	if LogLevel(42).ToSlogLevel() != slog.LevelInfo {
		t.Fatalf("unknown level should map to info")
	}
}

func TestJSONLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: LogLevelDebug, Format: FormatJSON, Writer: &buf})
	l.WithComponent("pipeline").WithStep("guilds").Info("step finished", "status", "ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if rec["component"] != "pipeline" || rec["step"] != "guilds" || rec["status"] != "ok" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: LogLevelWarn, Writer: &buf})
	l.Info("hidden")
	l.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn should be emitted: %s", out)
	}
}

func TestColorHandlerTag(t *testing.T) {
	var buf bytes.Buffer
	no := false
	l := New(Options{Level: LogLevelInfo, Format: FormatColor, Writer: &buf, Color: &no})
	l.WithAction("create-role").Info("created", "id", "42")
	out := buf.String()
	if !strings.Contains(out, "[create-role]") {
		t.Fatalf("action tag missing: %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("colors should be disabled: %q", out)
	}
	if !strings.Contains(out, `id="42"`) {
		t.Fatalf("attribute missing: %q", out)
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != GetLogger() {
		t.Fatalf("nil should resolve to default logger")
	}
	l := Discard()
	if OrDefault(l) != l {
		t.Fatalf("non-nil logger should be returned as is")
	}
}
