package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/telemetry/health"
	"mercator-hq/conduit/pkg/telemetry/logging"
	"mercator-hq/conduit/pkg/telemetry/metrics"
	"mercator-hq/conduit/pkg/telemetry/tracing"
)

// Telemetry owns the process-wide observability components.
type Telemetry struct {
	config  *config.TelemetryConfig
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	health  *health.Checker
}

// New builds logging, metrics, tracing and health from cfg and makes the
// logger the slog default. Log output goes to w, or stderr when nil.
func New(cfg *config.TelemetryConfig, w io.Writer) (*Telemetry, error) {
	logger, err := logging.New(cfg.Logging, w)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	tracer, err := tracing.New(&cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	t := &Telemetry{
		config:  cfg,
		logger:  logger,
		metrics: metrics.NewCollector(&cfg.Metrics, nil),
		tracer:  tracer,
		health:  health.New(5 * time.Second),
	}
	t.metrics.Handle("/healthz", t.health.LivenessHandler())
	t.metrics.Handle("/readyz", t.health.ReadinessHandler())
	return t, nil
}

// Logger returns the configured logger.
func (t *Telemetry) Logger() *slog.Logger { return t.logger }

// Metrics returns the metrics collector. It is always usable; the endpoint
// is only served when metrics are enabled.
func (t *Telemetry) Metrics() *metrics.Collector { return t.metrics }

// Tracer returns the tracer.
func (t *Telemetry) Tracer() *tracing.Tracer { return t.tracer }

// Health returns the readiness checker.
func (t *Telemetry) Health() *health.Checker { return t.health }

// Start serves the metrics and health endpoints in the background until
// ctx is cancelled. It does nothing when metrics are disabled.
func (t *Telemetry) Start(ctx context.Context) {
	if !t.config.Metrics.Enabled {
		return
	}
	go func() {
		if err := t.metrics.Serve(ctx); err != nil {
			t.logger.Error("metrics endpoint stopped", "error", err)
		}
	}()
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}
	return errors.Join(errs...)
}
