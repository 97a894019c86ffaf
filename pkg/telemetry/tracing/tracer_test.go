package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"mercator-hq/conduit/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		config      *config.TracingConfig
		wantErr     bool
		wantEnabled bool
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name:   "disabled",
			config: &config.TracingConfig{Enabled: false, ServiceName: "test"},
		},
		{
			name: "enabled",
			config: &config.TracingConfig{
				Enabled:     true,
				Endpoint:    "localhost:4317",
				Insecure:    true,
				SampleRatio: 1,
				ServiceName: "test",
				Timeout:     time.Second,
			},
			wantEnabled: true,
		},
		{
			name: "invalid ratio",
			config: &config.TracingConfig{
				Enabled:     true,
				Endpoint:    "localhost:4317",
				SampleRatio: 1.5,
				ServiceName: "test",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = tracer.Shutdown(ctx)
			}()

			if tracer.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", tracer.Enabled(), tt.wantEnabled)
			}
			if tracer.Provider() == nil {
				t.Error("Provider() returned nil")
			}

			_, span := tracer.Start(context.Background(), "test")
			span.End()
		})
	}
}

func TestDisabledTracerHasNoTraceID(t *testing.T) {
	tracer, err := New(&config.TracingConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, span := tracer.Start(context.Background(), "noop")
	defer span.End()

	if id := TraceID(ctx); id != "" {
		t.Errorf("TraceID() = %q, want empty", id)
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		ratio    float64
		wantErr  bool
		contains string
	}{
		{ratio: 1, contains: "AlwaysOnSampler"},
		{ratio: 0, contains: "AlwaysOffSampler"},
		{ratio: 0.25, contains: "TraceIDRatioBased{0.25}"},
		{ratio: -0.1, wantErr: true},
		{ratio: 1.1, wantErr: true},
	}

	for _, tt := range tests {
		sampler, err := NewSampler(tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewSampler(%v) error = %v, wantErr %v", tt.ratio, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		desc := sampler.Description()
		if !strings.HasPrefix(desc, "ParentBased{") {
			t.Errorf("NewSampler(%v) = %s, want a parent based sampler", tt.ratio, desc)
		}
		if !strings.Contains(desc, tt.contains) {
			t.Errorf("NewSampler(%v) = %s, want it to contain %s", tt.ratio, desc, tt.contains)
		}
	}
}

func TestTransportInjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(Propagator())
	defer otel.SetTextMapPropagator(prev)

	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "outbound")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	client := &http.Client{Transport: Transport(nil)}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	traceID := TraceID(ctx)
	if traceID == "" {
		t.Fatal("expected a valid trace id")
	}
	if !strings.Contains(got, traceID) {
		t.Errorf("traceparent = %q, want it to carry trace id %s", got, traceID)
	}
	if req.Header.Get("traceparent") != "" {
		t.Error("transport modified the caller's request")
	}

	extracted := Extract(context.Background(), http.Header{"Traceparent": []string{got}})
	if TraceID(extracted) != traceID {
		t.Errorf("Extract() trace id = %s, want %s", TraceID(extracted), traceID)
	}
	client.CloseIdleConnections()
}

func TestSetStatus(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	SetStatus(span, errors.New("boom"))
	span.End()

	ro, ok := span.(sdktrace.ReadOnlySpan)
	if !ok {
		t.Fatal("expected an sdk span")
	}
	if ro.Status().Description != "boom" {
		t.Errorf("status = %q, want boom", ro.Status().Description)
	}
	if len(ro.Events()) != 1 {
		t.Errorf("events = %d, want the recorded error", len(ro.Events()))
	}
}
