package cli

import (
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Styler colors status text. The zero value prints plain text.
type Styler struct {
	success *color.Color
	warn    *color.Color
	failure *color.Color
	muted   *color.Color
	bold    *color.Color
	enabled bool
}

// NewStyler returns a Styler that colors only when w is a terminal and
// NO_COLOR is unset.
func NewStyler(w io.Writer) *Styler {
	enabled := false
	if f, ok := w.(*os.File); ok {
		enabled = term.IsTerminal(int(f.Fd())) && !color.NoColor
	}
	return newStyler(enabled)
}

func newStyler(enabled bool) *Styler {
	s := &Styler{
		success: color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		failure: color.New(color.FgRed, color.Bold),
		muted:   color.New(color.Faint),
		bold:    color.New(color.Bold),
		enabled: enabled,
	}
	for _, c := range []*color.Color{s.success, s.warn, s.failure, s.muted, s.bold} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// Enabled reports whether output is colored.
func (s *Styler) Enabled() bool { return s != nil && s.enabled }

// Success renders text in green.
func (s *Styler) Success(text string) string { return s.render(s.success, text) }

// Warn renders text in yellow.
func (s *Styler) Warn(text string) string { return s.render(s.warn, text) }

// Error renders text in bold red.
func (s *Styler) Error(text string) string { return s.render(s.failure, text) }

// Muted renders text faint.
func (s *Styler) Muted(text string) string { return s.render(s.muted, text) }

// Bold renders text bold.
func (s *Styler) Bold(text string) string { return s.render(s.bold, text) }

func (s *Styler) render(c *color.Color, text string) string {
	if s == nil || c == nil {
		return text
	}
	return c.Sprint(text)
}
