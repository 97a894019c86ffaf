package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"mercator-hq/conduit/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{name: "json", cfg: config.LoggingConfig{Level: "info", Format: "json"}},
		{name: "text", cfg: config.LoggingConfig{Level: "debug", Format: "text"}},
		{name: "console", cfg: config.LoggingConfig{Level: "warn", Format: "console"}},
		{name: "defaults", cfg: config.LoggingConfig{}},
		{name: "invalid level", cfg: config.LoggingConfig{Level: "loud"}, wantErr: true},
		{name: "invalid format", cfg: config.LoggingConfig{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestNew_RedactsByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("request failed", "api_key", "sk-live-1234567890", "url", "https://example.com/v1?key=AIzaSecret&alt=sse")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if got := rec["api_key"]; got != "sk-l***" {
		t.Errorf("api_key = %v, want sk-l***", got)
	}
	if got := rec["url"]; got != "https://example.com/v1?key=***&alt=sse" {
		t.Errorf("url = %v", got)
	}
}

func TestNew_RedactionDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Format: "json", DisableRedaction: true}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("raw", "api_key", "sk-live-1234567890")
	if !strings.Contains(buf.String(), "sk-live-1234567890") {
		t.Errorf("expected unredacted key, got %s", buf.String())
	}
}

func TestNew_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}

	ctx := WithQueryID(context.Background(), "q-1")
	ctx = WithProvider(ctx, "anthropic")
	ctx = WithModel(ctx, "claude-sonnet")
	logger.InfoContext(ctx, "query started")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	for key, want := range map[string]string{"query_id": "q-1", "provider": "anthropic", "model": "claude-sonnet"} {
		if rec[key] != want {
			t.Errorf("%s = %v, want %s", key, rec[key], want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) should fail")
	}
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(h).With("component", "registry").WithGroup("switch")

	logger.Debug("provider switched", "from", "local", "to", "openai")

	line := buf.String()
	for _, want := range []string{"DEBUG", "provider switched", "component=registry", "switch.from=local", "switch.to=openai"} {
		if !strings.Contains(line, want) {
			t.Errorf("console line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "switch.component") {
		t.Errorf("attrs added before a group must not be qualified: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("console line should end with a newline")
	}
	if strings.Contains(line, "\x1b[") {
		t.Error("non-terminal output should not be colored")
	}
}

func TestConsoleHandler_Enabled(t *testing.T) {
	h := NewConsoleHandler(&bytes.Buffer{}, nil)
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled by default")
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be enabled by default")
	}
}
