package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"mercator-hq/conduit/pkg/config"
)

func TestNew(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	cfg := &config.TelemetryConfig{
		Logging: config.LoggingConfig{Level: "info", Format: "json"},
	}

	tel, err := New(cfg, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	}()

	if tel.Tracer().Enabled() {
		t.Error("tracing should be disabled by default")
	}
	if tel.Metrics() == nil || tel.Health() == nil {
		t.Fatal("expected metrics and health components")
	}

	slog.Info("default logger", "api_key", "sk-abcdefghijklmnop")
	out := buf.String()
	if !strings.Contains(out, `"msg":"default logger"`) {
		t.Errorf("default logger was not replaced: %q", out)
	}
	if strings.Contains(out, "sk-abcdefghijklmnop") {
		t.Errorf("api key leaked: %q", out)
	}

	// Disabled metrics do not start a listener.
	ctx, cancel := context.WithCancel(context.Background())
	tel.Start(ctx)
	cancel()
}

func TestNew_InvalidLogLevel(t *testing.T) {
	cfg := &config.TelemetryConfig{
		Logging: config.LoggingConfig{Level: "loud"},
	}
	if _, err := New(cfg, &bytes.Buffer{}); err == nil {
		t.Error("expected an error for an unknown log level")
	}
}
