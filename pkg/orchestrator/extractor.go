package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mercator-hq/conduit/pkg/providers"
)

// ContextExtractor produces the page context attached to a query. It
// returns nil when there is nothing to attach.
type ContextExtractor interface {
	Extract(ctx context.Context) (*providers.PageContext, error)
}

// ExtractorFunc adapts a function to ContextExtractor.
type ExtractorFunc func(ctx context.Context) (*providers.PageContext, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context) (*providers.PageContext, error) { return f(ctx) }

// FileExtractor reads page context from a local file.
type FileExtractor struct {
	Path string

	// URL is reported with the context. Defaults to a file:// URL.
	URL string

	// MaxBytes bounds how much of the file is read. Zero reads up to
	// providers.MaxContextChars bytes.
	MaxBytes int64
}

// Extract reads the file. An empty path yields no context.
func (f FileExtractor) Extract(ctx context.Context) (*providers.PageContext, error) {
	if f.Path == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open context file: %w", err)
	}
	defer file.Close()

	limit := f.MaxBytes
	if limit <= 0 {
		limit = providers.MaxContextChars
	}
	data, err := io.ReadAll(io.LimitReader(file, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	url := f.URL
	if url == "" {
		if abs, err := filepath.Abs(f.Path); err == nil {
			url = "file://" + filepath.ToSlash(abs)
		}
	}
	return &providers.PageContext{Title: filepath.Base(f.Path), URL: url, Text: text}, nil
}

// StaticExtractor always returns the same context.
type StaticExtractor providers.PageContext

// Extract returns a copy of the static context, or nil when it is empty.
func (s StaticExtractor) Extract(context.Context) (*providers.PageContext, error) {
	pc := providers.PageContext(s)
	if pc.Empty() {
		return nil, nil
	}
	return &pc, nil
}
