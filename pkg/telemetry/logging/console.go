package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// ConsoleHandler writes one line per record:
//
//	15:04:05 WARN  provider request failed provider=openai attempt=2
//
// Levels are colored when the output is a terminal.
type ConsoleHandler struct {
	opts   slog.HandlerOptions
	attrs  string
	prefix string

	mu    *sync.Mutex
	w     io.Writer
	color bool
}

// NewConsoleHandler creates a ConsoleHandler. Color is enabled when w is a
// terminal and NO_COLOR is unset.
func NewConsoleHandler(w io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	h := &ConsoleHandler{mu: &sync.Mutex{}, w: w}
	if opts != nil {
		h.opts = *opts
	}
	if f, ok := w.(*os.File); ok && !color.NoColor {
		h.color = term.IsTerminal(int(f.Fd()))
	}
	return h
}

// Enabled reports whether level is at or above the configured minimum.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle formats and writes r.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	if !r.Time.IsZero() {
		buf.WriteString(r.Time.Format(time.TimeOnly))
		buf.WriteByte(' ')
	}
	buf.WriteString(h.level(r.Level))
	buf.WriteByte(' ')
	buf.WriteString(r.Message)

	buf.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})
	if h.opts.AddSource && r.PC != 0 {
		fmt.Fprintf(&buf, " source=%s", sourceOf(r))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var buf bytes.Buffer
	for _, a := range attrs {
		writeAttr(&buf, h.prefix, a)
	}
	c := *h
	c.attrs += buf.String()
	return &c
}

// WithGroup returns a handler that prefixes later keys with name.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix += name + "."
	return &c
}

func (h *ConsoleHandler) level(l slog.Level) string {
	label := fmt.Sprintf("%-5s", l.String())
	if !h.color {
		return label
	}
	switch {
	case l >= slog.LevelError:
		return color.New(color.FgRed, color.Bold).Sprint(label)
	case l >= slog.LevelWarn:
		return color.YellowString(label)
	case l >= slog.LevelInfo:
		return color.CyanString(label)
	default:
		return color.New(color.Faint).Sprint(label)
	}
}

func writeAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(buf, p, ga)
		}
		return
	}
	fmt.Fprintf(buf, " %s%s=%v", prefix, a.Key, a.Value.Any())
}

func sourceOf(r slog.Record) string {
	f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}
