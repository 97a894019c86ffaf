// Package tracing sets up OpenTelemetry tracing for conduit.
//
// New builds a Tracer from config.TracingConfig. When tracing is enabled
// spans are batched to an OTLP gRPC collector and the SDK provider is
// installed globally, so the executor and orchestrator spans (which use
// otel.Tracer) are exported. When disabled a noop provider is used and
// spans cost next to nothing.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(context.Background())
//
// Outbound provider requests carry W3C trace context when their HTTP
// client uses Transport:
//
//	client := &http.Client{Transport: tracing.Transport(nil)}
//
// # Sampling
//
// SampleRatio 1 samples every trace, 0 none, anything between samples by
// trace ID. The decision is always parent based: a child follows its
// parent's decision.
package tracing
