package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	queryIDKey  contextKey = "query_id"
	providerKey contextKey = "provider"
	modelKey    contextKey = "model"
)

// WithQueryID adds a query ID to the context.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey, id)
}

// QueryID returns the query ID of ctx, or "".
func QueryID(ctx context.Context) string {
	id, _ := ctx.Value(queryIDKey).(string)
	return id
}

// WithProvider adds a provider ID to the context.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, providerKey, provider)
}

// Provider returns the provider ID of ctx, or "".
func Provider(ctx context.Context) string {
	p, _ := ctx.Value(providerKey).(string)
	return p
}

// WithModel adds a model ID to the context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelKey, model)
}

// Model returns the model ID of ctx, or "".
func Model(ctx context.Context) string {
	m, _ := ctx.Value(modelKey).(string)
	return m
}

// contextAttrs returns the log fields carried by ctx, including the IDs of
// the active trace span.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if id := QueryID(ctx); id != "" {
		attrs = append(attrs, slog.String("query_id", id))
	}
	if p := Provider(ctx); p != "" {
		attrs = append(attrs, slog.String("provider", p))
	}
	if m := Model(ctx); m != "" {
		attrs = append(attrs, slog.String("model", m))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return attrs
}

// ContextHandler adds context fields to every record.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

// Enabled defers to the wrapped handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle adds the fields of ctx to rec.
func (h *ContextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if attrs := contextAttrs(ctx); len(attrs) > 0 {
		rec = rec.Clone()
		rec.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, rec)
}

// WithAttrs defers to the wrapped handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup defers to the wrapped handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}
