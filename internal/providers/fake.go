package providers

import (
	"context"
	"sync"

	"mercator-hq/conduit/pkg/providers"
)

// FakeProvider is an in-memory providers.Provider. Behavior is configured
// through its exported fields before use; counters are read with the
// accessor methods.
type FakeProvider struct {
	IDValue     string
	KindValue   providers.Kind
	ModelList   []providers.ModelDescriptor
	InitErr     error
	ValidateErr error

	// Reply is returned by GenerateResponse and GenerateRawResponse.
	Reply    string
	ReplyErr error

	// Deltas are streamed by GenerateStreamingResponse, followed by a Done
	// chunk unless StreamErr is set, in which case an error chunk ends the
	// stream. OpenErr fails the call before any channel is returned.
	Deltas    []string
	StreamErr error
	OpenErr   error

	// Usage is reported in response metadata.
	Usage   providers.TokenUsage
	CostUSD float64

	// Observer receives outcomes like a real adapter's Core would send.
	Observer providers.OutcomeObserver

	mu        sync.Mutex
	ready     bool
	selected  string
	inits     int
	cleanups  int
	resets    int
	generates int
	streams   int
	lastReq   *providers.GenerateRequest
}

// NewFake returns a ready-to-initialize fake with one model.
func NewFake(id string, kind providers.Kind) *FakeProvider {
	return &FakeProvider{
		IDValue:   id,
		KindValue: kind,
		ModelList: []providers.ModelDescriptor{{ID: id + "-model", Name: id + " model"}},
		Reply:     "fake reply from " + id,
	}
}

func (f *FakeProvider) Descriptor() providers.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return providers.Descriptor{
		ID:            f.IDValue,
		DisplayName:   f.IDValue,
		Kind:          f.KindValue,
		Capabilities:  providers.DefaultCapabilities,
		Models:        f.ModelList,
		SelectedModel: f.selectedLocked(),
		Ready:         f.ready,
	}
}

func (f *FakeProvider) selectedLocked() string {
	if f.selected != "" {
		return f.selected
	}
	if len(f.ModelList) > 0 {
		return f.ModelList[0].ID
	}
	return ""
}

func (f *FakeProvider) ID() string           { return f.IDValue }
func (f *FakeProvider) Kind() providers.Kind { return f.KindValue }

func (f *FakeProvider) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if f.InitErr != nil {
		return f.InitErr
	}
	f.ready = true
	return nil
}

func (f *FakeProvider) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *FakeProvider) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	f.ready = false
}

func (f *FakeProvider) ValidateConfiguration() error { return f.ValidateErr }

func (f *FakeProvider) Models() []providers.ModelDescriptor { return f.ModelList }

func (f *FakeProvider) SelectModel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.ModelList {
		if m.ID == id {
			f.selected = id
			return nil
		}
	}
	return &providers.ModelNotFoundError{Provider: f.IDValue, Model: id}
}

func (f *FakeProvider) metadata(req *providers.GenerateRequest, streamed bool) providers.ResponseMetadata {
	cost := f.CostUSD
	f.mu.Lock()
	model := f.selectedLocked()
	f.mu.Unlock()
	if req != nil && req.Model != "" {
		model = req.Model
	}
	return providers.ResponseMetadata{
		Provider:         f.IDValue,
		Model:            model,
		Usage:            f.Usage,
		EstimatedCostUSD: &cost,
		ContextIncluded:  req != nil && !req.Context.Empty(),
		Streamed:         streamed,
	}
}

func (f *FakeProvider) observe(ctx context.Context, meta providers.ResponseMetadata, err error) {
	if f.Observer == nil {
		return
	}
	o := providers.Outcome{
		Provider:        meta.Provider,
		Model:           meta.Model,
		Usage:           meta.Usage,
		Success:         err == nil,
		ContextIncluded: meta.ContextIncluded,
		Streamed:        meta.Streamed,
		Err:             err,
	}
	if err == nil {
		o.CostUSD = meta.EstimatedCostUSD
	}
	f.Observer.ObserveOutcome(ctx, o)
}

func (f *FakeProvider) GenerateResponse(ctx context.Context, req *providers.GenerateRequest) (*providers.Response, error) {
	f.mu.Lock()
	f.generates++
	f.lastReq = req
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta := f.metadata(req, false)
	if f.ReplyErr != nil {
		f.observe(ctx, meta, f.ReplyErr)
		return nil, f.ReplyErr
	}
	f.observe(ctx, meta, nil)
	return &providers.Response{Text: f.Reply, TokenCount: f.Usage.CompletionTokens, Metadata: meta}, nil
}

func (f *FakeProvider) GenerateStreamingResponse(ctx context.Context, req *providers.GenerateRequest) (<-chan *providers.StreamChunk, error) {
	f.mu.Lock()
	f.streams++
	f.lastReq = req
	f.mu.Unlock()

	if f.OpenErr != nil {
		f.observe(ctx, f.metadata(req, true), f.OpenErr)
		return nil, f.OpenErr
	}

	out := make(chan *providers.StreamChunk, len(f.Deltas)+1)
	go func() {
		defer close(out)
		for _, d := range f.Deltas {
			select {
			case out <- &providers.StreamChunk{Delta: d}:
			case <-ctx.Done():
				return
			}
		}
		meta := f.metadata(req, true)
		if f.StreamErr != nil {
			f.observe(ctx, meta, f.StreamErr)
			out <- &providers.StreamChunk{Error: f.StreamErr}
			return
		}
		f.observe(ctx, meta, nil)
		out <- &providers.StreamChunk{Done: true, Metadata: &meta}
	}()
	return out, nil
}

func (f *FakeProvider) GenerateRawResponse(ctx context.Context, prompt, model string) (string, error) {
	resp, err := f.GenerateResponse(ctx, &providers.GenerateRequest{Query: prompt, Model: model})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (f *FakeProvider) SummarizeConversation(ctx context.Context, messages []providers.Message, model string) (string, error) {
	return providers.Summarize(ctx, f.GenerateRawResponse, messages, model)
}

func (f *FakeProvider) ResetConversation(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *FakeProvider) Stats() providers.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return providers.Stats{Requests: int64(f.generates + f.streams)}
}

// Inits returns how many times Initialize was called.
func (f *FakeProvider) Inits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits
}

// Cleanups returns how many times Cleanup was called.
func (f *FakeProvider) Cleanups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}

// Resets returns how many times ResetConversation was called.
func (f *FakeProvider) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// Generates returns how many times GenerateResponse was called.
func (f *FakeProvider) Generates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generates
}

// Streams returns how many times GenerateStreamingResponse was called.
func (f *FakeProvider) Streams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

// LastRequest returns the most recent generate request.
func (f *FakeProvider) LastRequest() *providers.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

var _ providers.Provider = (*FakeProvider)(nil)
