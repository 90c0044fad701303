package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "text", Output: &buf})

	logger.Info(context.Background(), "auth done", "detail", "api_key=abcdef0123456789abcd")

	out := buf.String()
	if strings.Contains(out, "abcdef0123456789abcd") {
		t.Errorf("secret leaked in log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker, got: %s", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Debug(context.Background(), "debug message")
	logger.Info(context.Background(), "info message")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got: %s", buf.String())
	}

	logger.Warn(context.Background(), "warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("expected warn message, got: %s", buf.String())
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "text", Output: &buf})

	ctx := AddRequestID(context.Background(), "req-42")
	ctx = AddTool(ctx, "Bash")
	logger.Info(ctx, "dispatching")

	out := buf.String()
	if !strings.Contains(out, "req-42") {
		t.Errorf("missing request id in output: %s", out)
	}
	if !strings.Contains(out, "Bash") {
		t.Errorf("missing tool in output: %s", out)
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"warning", "WARN"},
		{"nonsense", "INFO"},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.in).String(); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
