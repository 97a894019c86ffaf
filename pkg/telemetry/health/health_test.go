package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	testhelpers "mercator-hq/conduit/internal/providers"
	"mercator-hq/conduit/pkg/providers"
)

type activeFunc func() providers.Provider

func (f activeFunc) Active() providers.Provider { return f() }

func TestNew(t *testing.T) {
	if got := New(0).checkTimeout; got != 5*time.Second {
		t.Errorf("default timeout = %v, want 5s", got)
	}
	if got := New(time.Second).checkTimeout; got != time.Second {
		t.Errorf("timeout = %v, want 1s", got)
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("b", func(context.Context) error { return nil })
	checker.RegisterCheck("a", func(context.Context) error { return nil })

	names := checker.ListChecks()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("ListChecks() = %v, want [a b]", names)
	}

	checker.UnregisterCheck("a")
	if names := checker.ListChecks(); len(names) != 1 {
		t.Errorf("ListChecks() = %v, want one check", names)
	}
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
	}{
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: StatusReady,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"ledger":   func(context.Context) error { return nil },
				"provider": func(context.Context) error { return nil },
			},
			wantStatus: StatusReady,
		},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"ledger":   func(context.Context) error { return nil },
				"provider": func(context.Context) error { return errors.New("no active provider") },
			},
			wantStatus: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(time.Second)
			for name, check := range tt.checks {
				checker.RegisterCheck(name, check)
			}

			status := checker.CheckReadiness(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status.Status, tt.wantStatus)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(status.Checks), len(tt.checks))
			}
		})
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	checker := New(20 * time.Millisecond)
	checker.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	status := checker.CheckReadiness(context.Background())
	result := status.Checks["slow"]
	if result.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", result.Status)
	}
	if result.Message != "health check timeout" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestActiveProviderCheck(t *testing.T) {
	ctx := context.Background()

	none := ActiveProviderCheck(activeFunc(func() providers.Provider { return nil }))
	if err := none(ctx); err == nil {
		t.Error("expected an error without an active provider")
	}

	fake := testhelpers.NewFake("openai", providers.KindExternal)
	check := ActiveProviderCheck(activeFunc(func() providers.Provider { return fake }))
	if err := check(ctx); err == nil {
		t.Error("expected an error before initialization")
	}

	if err := fake.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := check(ctx); err != nil {
		t.Errorf("check() error = %v", err)
	}
}

func TestProviderCheck(t *testing.T) {
	ctx := context.Background()
	fake := testhelpers.NewFake("ollama", providers.KindLocal)
	if err := fake.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if err := ProviderCheck(fake)(ctx); err != nil {
		t.Errorf("check() error = %v", err)
	}

	fake.ValidateErr = errors.New("base url is empty")
	if err := ProviderCheck(fake)(ctx); err == nil || err.Error() != "base url is empty" {
		t.Errorf("check() error = %v, want the validation error", err)
	}
}

func TestHandlers(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("provider", func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		method   string
		wantCode int
		wantBody string
	}{
		{"liveness", checker.LivenessHandler(), http.MethodGet, http.StatusOK, StatusOK},
		{"readiness", checker.ReadinessHandler(), http.MethodGet, http.StatusServiceUnavailable, StatusDegraded},
		{"readiness head", checker.ReadinessHandler(), http.MethodHead, http.StatusServiceUnavailable, ""},
		{"method not allowed", checker.LivenessHandler(), http.MethodPost, http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(tt.method, "/", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody == "" {
				return
			}
			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if status.Status != tt.wantBody {
				t.Errorf("status = %s, want %s", status.Status, tt.wantBody)
			}
		})
	}
}
