package providers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// maxLineSize bounds a single SSE or NDJSON line.
const maxLineSize = 1 << 20

// streamBuffer is the capacity of chunk channels.
const streamBuffer = 16

// DoneSentinel is the data payload that ends OpenAI-style event streams.
const DoneSentinel = "[DONE]"

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// SSEReader reads server-sent events from a response body.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates an SSEReader over r.
func NewSSEReader(r io.Reader) *SSEReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return &SSEReader{scanner: s}
}

// Next returns the next event. It returns io.EOF once the body is exhausted.
// Multi-line data fields are joined with newlines; comments are skipped.
func (r *SSEReader) Next() (Event, error) {
	var (
		ev   Event
		data []string
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if len(data) > 0 {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if len(data) > 0 {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return Event{}, io.EOF
}

// NDJSONReader reads newline-delimited JSON documents.
type NDJSONReader struct {
	scanner *bufio.Scanner
}

// NewNDJSONReader creates an NDJSONReader over r.
func NewNDJSONReader(r io.Reader) *NDJSONReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return &NDJSONReader{scanner: s}
}

// Next returns the next non-blank line. It returns io.EOF at the end.
func (r *NDJSONReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Delta is one decoded increment of a streamed answer.
type Delta struct {
	// Text is appended to the answer.
	Text string

	// Usage, when set, replaces any usage reported earlier in the stream.
	Usage *TokenUsage

	// FinishReason is the backend's stop reason, if reported.
	FinishReason string

	// Done marks the backend's end-of-stream signal.
	Done bool
}

// DeltaSource yields decoded deltas. io.EOF ends the stream; it counts as
// completion only after a Done delta unless the Core accepts bare EOF.
type DeltaSource func() (Delta, error)

// Pump drains next into a chunk channel. Text deltas are forwarded as they
// arrive; the channel ends with a Done chunk carrying metadata, or with an
// Error chunk if reading fails or the stream ends early. When ctx is
// cancelled the channel is closed without a final chunk and nothing is
// recorded. body is closed when the pump exits.
func (c *Core) Pump(ctx context.Context, body io.Closer, next DeltaSource, model ModelDescriptor, req *GenerateRequest, start time.Time) <-chan *StreamChunk {
	out := make(chan *StreamChunk, streamBuffer)

	go func() {
		defer close(out)
		defer body.Close()

		var (
			text   strings.Builder
			usage  TokenUsage
			finish string
		)
		for {
			d, err := next()
			if err != nil && !errors.Is(err, io.EOF) {
				if ctx.Err() != nil {
					return
				}
				serr := asStreamError(c.cfg.ID, err)
				c.Fail(ctx, model.ID, req, start, true, serr)
				sendChunk(ctx, out, &StreamChunk{Error: serr})
				return
			}

			if d.Text != "" {
				text.WriteString(d.Text)
				if !sendChunk(ctx, out, &StreamChunk{Delta: d.Text}) {
					return
				}
			}
			if d.Usage != nil {
				usage = *d.Usage
			}
			if d.FinishReason != "" {
				finish = d.FinishReason
			}
			if d.Done {
				break
			}
			if err != nil {
				if c.cfg.StreamEndsAtEOF {
					break
				}
				if ctx.Err() != nil {
					return
				}
				serr := &StreamError{Provider: c.cfg.ID, Message: "stream ended before completion", Cause: io.ErrUnexpectedEOF}
				c.Fail(ctx, model.ID, req, start, true, serr)
				sendChunk(ctx, out, &StreamChunk{Error: serr})
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		usage = c.normalizeUsage(usage, req, text.String())
		cost := c.Cost(model, usage)
		meta := ResponseMetadata{
			Provider:         c.cfg.ID,
			Model:            model.ID,
			Usage:            usage,
			EstimatedCostUSD: &cost,
			ContextIncluded:  req != nil && !req.Context.Empty(),
			FinishReason:     finish,
			Streamed:         true,
			Latency:          time.Since(start),
		}
		c.succeed(ctx, meta)
		sendChunk(ctx, out, &StreamChunk{Done: true, Metadata: &meta})
	}()

	return out
}

func asStreamError(provider string, err error) error {
	var (
		serr *StreamError
		perr *ParseError
		prov *ProviderError
	)
	if errors.As(err, &serr) || errors.As(err, &perr) || errors.As(err, &prov) {
		return err
	}
	return &StreamError{Provider: provider, Message: "stream interrupted", Cause: err}
}

func sendChunk(ctx context.Context, out chan<- *StreamChunk, chunk *StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
