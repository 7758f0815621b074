package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{"DEBUG", LogLevelDebug},
		{"warning", LogLevelWarn},
		{"error", LogLevelError},
		{"", LogLevelInfo},
		{"verbose", LogLevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlainHandlerHidesMetaKeys(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleOnlyLogger(LogLevelInfo, &buf).WithComponent("orchestrator").WithSession("s1")

	l.InfoWithIntention(IntentionDirective, "directive applied", "kind", "end_turn")

	line := buf.String()
	if !strings.HasPrefix(line, iconFor(IntentionDirective)+" directive applied") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "kind=end_turn") {
		t.Errorf("expected kind attribute in %q", line)
	}
	for _, hidden := range []string{"component=", "session=", "intention="} {
		if strings.Contains(line, hidden) {
			t.Errorf("console line should not contain %q: %q", hidden, line)
		}
	}
}

func TestPlainHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleOnlyLogger(LogLevelWarn, &buf)

	l.Info("hidden")
	l.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info line leaked at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn line missing: %q", buf.String())
	}
}
