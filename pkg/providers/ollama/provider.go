package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"mercator-hq/conduit/pkg/processing/costs"
	"mercator-hq/conduit/pkg/providers"
)

const (
	// DefaultBaseURL is where a local Ollama listens.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is selected when the configuration names none and the
	// engine has it installed.
	DefaultModel = "llama3.2"
)

var free = &costs.Pricing{}

// Provider is the local Ollama adapter.
type Provider struct {
	core     *providers.Core
	settings providers.Settings
	baseURL  string
}

// New creates an Ollama provider.
func New(settings providers.Settings, exec *providers.Executor, opts ...providers.CoreOption) *Provider {
	return &Provider{
		core:     providers.NewCore(settings.CoreConfig(providers.KindLocal, false, DefaultModel), exec, opts...),
		settings: settings,
		baseURL:  settings.BaseURLOr(DefaultBaseURL),
	}
}

func (p *Provider) Descriptor() providers.Descriptor    { return p.core.Descriptor() }
func (p *Provider) ID() string                          { return p.core.ID() }
func (p *Provider) Kind() providers.Kind                { return p.core.Kind() }
func (p *Provider) IsReady() bool                       { return p.core.IsReady() }
func (p *Provider) Cleanup()                            { p.core.Cleanup() }
func (p *Provider) Models() []providers.ModelDescriptor { return p.core.Models() }
func (p *Provider) SelectModel(id string) error         { return p.core.SelectModel(id) }
func (p *Provider) Stats() providers.Stats              { return p.core.Stats() }

// ValidateConfiguration checks the base URL and shared settings.
func (p *Provider) ValidateConfiguration() error {
	if !strings.HasPrefix(p.baseURL, "http://") && !strings.HasPrefix(p.baseURL, "https://") {
		return &providers.ConfigError{Provider: p.core.ID(), Field: "base_url", Message: "must be an http(s) URL"}
	}
	return p.core.ValidateConfiguration()
}

// Initialize loads the installed models. It fails when the engine is not
// running or has no models pulled.
func (p *Provider) Initialize(ctx context.Context) error {
	if err := p.ValidateConfiguration(); err != nil {
		return err
	}
	return p.core.Initialize(ctx, p.loadModels)
}

func (p *Provider) headers() map[string]string {
	return p.settings.MergeHeaders(map[string]string{"Accept": "application/json"})
}

func (p *Provider) loadModels(ctx context.Context, _ string) ([]providers.ModelDescriptor, error) {
	var tags tagList
	if err := p.core.Executor().DoJSON(ctx, "tags", providers.JSONRequest(http.MethodGet, p.baseURL+"/api/tags", p.headers(), nil), &tags); err != nil {
		return nil, err
	}

	models := make([]providers.ModelDescriptor, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if m.Details.ParameterSize != "" {
			name = fmt.Sprintf("%s (%s)", m.Name, m.Details.ParameterSize)
		}
		models = append(models, providers.ModelDescriptor{
			ID:           m.Name,
			Name:         name,
			Pricing:      free,
			Capabilities: providers.DefaultCapabilities,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func (p *Provider) options() *options {
	if p.settings.MaxTokens <= 0 && p.settings.Temperature == nil {
		return nil
	}
	return &options{NumPredict: p.settings.MaxTokens, Temperature: p.settings.Temperature}
}

func (p *Provider) chatBody(model string, msgs []providers.Message, stream bool) chatRequest {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return chatRequest{Model: model, Messages: out, Stream: stream, Options: p.options()}
}

// GenerateResponse sends a chat request and waits for the answer.
func (p *Provider) GenerateResponse(ctx context.Context, req *providers.GenerateRequest) (*providers.Response, error) {
	if err := providers.ValidateRequest(req); err != nil {
		return nil, err
	}
	model, err := p.core.ResolveModel(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body := p.chatBody(model.ID, p.core.BuildMessages(req), false)

	var resp response
	err = p.core.Executor().DoJSON(ctx, "chat", providers.JSONRequest(http.MethodPost, p.baseURL+"/api/chat", p.headers(), body), &resp)
	if err == nil && resp.Error != "" {
		err = &providers.ProviderError{Provider: p.core.ID(), Message: resp.Error}
	}
	if err == nil && resp.Message == nil {
		err = &providers.ParseError{Provider: p.core.ID(), Cause: errors.New("no message in response")}
	}
	if err != nil {
		p.core.Fail(ctx, model.ID, req, start, false, err)
		return nil, err
	}

	return p.core.Complete(ctx, model, req, start, resp.Message.Content, resp.DoneReason, toUsage(&resp)), nil
}

// GenerateStreamingResponse streams a chat response.
func (p *Provider) GenerateStreamingResponse(ctx context.Context, req *providers.GenerateRequest) (<-chan *providers.StreamChunk, error) {
	if err := providers.ValidateRequest(req); err != nil {
		return nil, err
	}
	model, err := p.core.ResolveModel(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body := p.chatBody(model.ID, p.core.BuildMessages(req), true)
	headers := p.headers()
	headers["Accept"] = "application/x-ndjson"

	resp, err := p.core.Executor().OpenStream(ctx, "chat.stream", providers.JSONRequest(http.MethodPost, p.baseURL+"/api/chat", headers, body))
	if err != nil {
		p.core.Fail(ctx, model.ID, req, start, true, err)
		return nil, err
	}

	return p.core.Pump(ctx, resp.Body, p.deltas(providers.NewNDJSONReader(resp.Body)), model, req, start), nil
}

func (p *Provider) deltas(r *providers.NDJSONReader) providers.DeltaSource {
	return func() (providers.Delta, error) {
		line, err := r.Next()
		if err != nil {
			return providers.Delta{}, err
		}

		var chunk response
		if err := json.Unmarshal(line, &chunk); err != nil {
			return providers.Delta{}, &providers.ParseError{Provider: p.core.ID(), RawResponse: string(line), Cause: err}
		}
		if chunk.Error != "" {
			return providers.Delta{}, &providers.ProviderError{Provider: p.core.ID(), Message: chunk.Error}
		}

		d := providers.Delta{Done: chunk.Done}
		if chunk.Message != nil {
			d.Text = chunk.Message.Content
		}
		if chunk.Done {
			u := toUsage(&chunk)
			d.Usage = &u
			d.FinishReason = chunk.DoneReason
		}
		return d, nil
	}
}

// GenerateRawResponse sends prompt through /api/generate with no template
// history.
func (p *Provider) GenerateRawResponse(ctx context.Context, prompt, model string) (string, error) {
	req := providers.RawRequest(prompt, model)
	if err := providers.ValidateRequest(req); err != nil {
		return "", err
	}
	m, err := p.core.ResolveModel(model)
	if err != nil {
		return "", err
	}

	start := time.Now()
	body := generateRequest{Model: m.ID, Prompt: prompt, Options: p.options()}

	var resp response
	err = p.core.Executor().DoJSON(ctx, "generate", providers.JSONRequest(http.MethodPost, p.baseURL+"/api/generate", p.headers(), body), &resp)
	if err == nil && resp.Error != "" {
		err = &providers.ProviderError{Provider: p.core.ID(), Message: resp.Error}
	}
	if err != nil {
		p.core.Fail(ctx, m.ID, req, start, false, err)
		return "", err
	}
	return p.core.Complete(ctx, m, req, start, resp.Response, resp.DoneReason, toUsage(&resp)).Text, nil
}

// SummarizeConversation condenses messages with one raw request.
func (p *Provider) SummarizeConversation(ctx context.Context, messages []providers.Message, model string) (string, error) {
	return providers.Summarize(ctx, p.GenerateRawResponse, messages, model)
}

// ResetConversation unloads the selected model, discarding its cache. It is
// a no-op before initialization.
func (p *Provider) ResetConversation(ctx context.Context) error {
	if !p.core.IsReady() {
		return nil
	}
	m, err := p.core.ResolveModel("")
	if err != nil {
		return err
	}

	zero := 0
	body := generateRequest{Model: m.ID, KeepAlive: &zero}
	var resp response
	if err := p.core.Executor().DoJSON(ctx, "unload", providers.JSONRequest(http.MethodPost, p.baseURL+"/api/generate", p.headers(), body), &resp); err != nil {
		return fmt.Errorf("unload %s: %w", m.ID, err)
	}
	p.core.Logger().Debug("model unloaded", "model", m.ID)
	return nil
}

func toUsage(r *response) providers.TokenUsage {
	return providers.TokenUsage{
		PromptTokens:     r.PromptEvalCount,
		CompletionTokens: r.EvalCount,
		TotalTokens:      r.PromptEvalCount + r.EvalCount,
	}
}

var _ providers.Provider = (*Provider)(nil)
