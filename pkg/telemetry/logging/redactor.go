package logging

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"
)

// Redactor masks credentials in log values.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// sensitiveKeys are attribute key fragments whose values are always masked.
var sensitiveKeys = []string{
	"api_key", "apikey", "api-key",
	"secret", "token", "password", "passwd",
	"authorization", "credential", "private_key",
}

// NewRedactor creates a Redactor with the built-in credential patterns.
func NewRedactor() *Redactor {
	defs := []struct{ regex, replacement string }{
		// OpenAI, Anthropic and OpenRouter style keys
		{`sk-[A-Za-z0-9_\-]{6,}`, "sk-***"},
		// Google API keys
		{`AIza[0-9A-Za-z_\-]{20,}`, "AIza***"},
		// Groq keys
		{`gsk_[A-Za-z0-9]{10,}`, "gsk_***"},
		{`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`, "Bearer ***"},
		// key=... in URLs, as sent to Gemini
		{`([?&]key=)[^&\s]+`, "${1}***"},
		{`(?i)(x-api-key|x-goog-api-key)(["']?\s*[:=]\s*["']?)[^\s"',]+`, "${1}${2}***"},
	}

	r := &Redactor{patterns: make([]redactPattern, 0, len(defs))}
	for _, d := range defs {
		r.patterns = append(r.patterns, redactPattern{regex: regexp.MustCompile(d.regex), replacement: d.replacement})
	}
	return r
}

// RedactString masks credential-shaped substrings of value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr masks a whole value when its key is sensitive, and
// credential-shaped substrings otherwise. Groups are handled recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	switch {
	case a.Value.Kind() == slog.KindGroup:
		group := a.Value.Group()
		out := make([]slog.Attr, len(group))
		for i, ga := range group {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case IsSensitiveKey(a.Key):
		return slog.String(a.Key, RedactAPIKey(a.Value.String()))
	case a.Value.Kind() == slog.KindString:
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	case a.Value.Kind() == slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return a
}

// IsSensitiveKey reports whether an attribute key names a credential.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactAPIKey keeps the first four characters of a secret.
func RedactAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "***"
}

// RedactHandler redacts attributes before passing records on.
type RedactHandler struct {
	next     slog.Handler
	redactor *Redactor
}

// NewRedactHandler wraps next.
func NewRedactHandler(next slog.Handler, r *Redactor) *RedactHandler {
	return &RedactHandler{next: next, redactor: r}
}

// Enabled defers to the wrapped handler.
func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle redacts the message and attributes of rec.
func (h *RedactHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, h.redactor.RedactString(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactor.RedactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs redacts attrs once, up front.
func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := slices.Clone(attrs)
	for i, a := range redacted {
		redacted[i] = h.redactor.RedactAttr(a)
	}
	return &RedactHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

// WithGroup defers to the wrapped handler.
func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}
