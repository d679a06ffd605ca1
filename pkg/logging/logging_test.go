package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" Error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := ParseLevel(tc.in); got != tc.want {
				t.Errorf("level: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg := DefaultConfig()
	if cfg.Level != slog.LevelDebug {
		t.Errorf("level: got %v, want %v", cfg.Level, slog.LevelDebug)
	}
	if !cfg.JSON {
		t.Error("expected JSON output when LOG_FORMAT=JSON")
	}
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{Level: slog.LevelInfo, JSON: true, Output: &buf})

	ctx, scoped := WithRequestID(context.Background(), logger)
	if FromContext(ctx) != scoped {
		t.Fatal("expected the scoped logger to be stored in the context")
	}

	scoped.Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if id, _ := line["request_id"].(string); len(id) != 36 {
		t.Errorf("request_id: got %q, want a uuid", id)
	}
}

func TestFromContextDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected slog.Default() for a bare context")
	}
}
