package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"mercator-hq/conduit/pkg/providers"
)

const (
	// DefaultBaseURL is the Anthropic API root.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAnthropicVersion is the API version header value.
	DefaultAnthropicVersion = "2023-06-01"

	// DefaultModel is selected when the configuration names none.
	DefaultModel = "claude-3-5-haiku-latest"

	// DefaultMaxTokens is sent when none is configured; the API requires it.
	DefaultMaxTokens = 4096
)

// Prices are Anthropic list prices in USD per million tokens.
var Prices = providers.PriceTable{
	"claude-3-haiku":    {InputPerMillion: 0.25, OutputPerMillion: 1.25, CachedInputPerMillion: 0.03},
	"claude-3-5-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00, CachedInputPerMillion: 0.08},
	"claude-3-5-sonnet": {InputPerMillion: 3.00, OutputPerMillion: 15.00, CachedInputPerMillion: 0.30},
	"claude-3-7-sonnet": {InputPerMillion: 3.00, OutputPerMillion: 15.00, CachedInputPerMillion: 0.30},
	"claude-sonnet-4":   {InputPerMillion: 3.00, OutputPerMillion: 15.00, CachedInputPerMillion: 0.30},
	"claude-3-opus":     {InputPerMillion: 15.00, OutputPerMillion: 75.00, CachedInputPerMillion: 1.50},
	"claude-opus-4":     {InputPerMillion: 15.00, OutputPerMillion: 75.00, CachedInputPerMillion: 1.50},
}

// Provider is the Anthropic provider adapter.
type Provider struct {
	core     *providers.Core
	settings providers.Settings
	baseURL  string
}

// New creates an Anthropic provider.
func New(settings providers.Settings, exec *providers.Executor, opts ...providers.CoreOption) *Provider {
	return &Provider{
		core:     providers.NewCore(settings.CoreConfig(providers.KindExternal, true, DefaultModel), exec, opts...),
		settings: settings,
		baseURL:  settings.BaseURLOr(DefaultBaseURL),
	}
}

func (p *Provider) Descriptor() providers.Descriptor        { return p.core.Descriptor() }
func (p *Provider) ID() string                              { return p.core.ID() }
func (p *Provider) Kind() providers.Kind                    { return p.core.Kind() }
func (p *Provider) IsReady() bool                           { return p.core.IsReady() }
func (p *Provider) Cleanup()                                { p.core.Cleanup() }
func (p *Provider) Models() []providers.ModelDescriptor     { return p.core.Models() }
func (p *Provider) SelectModel(id string) error             { return p.core.SelectModel(id) }
func (p *Provider) Stats() providers.Stats                  { return p.core.Stats() }
func (p *Provider) ResetConversation(context.Context) error { return nil }

// ValidateConfiguration checks the base URL and shared settings.
func (p *Provider) ValidateConfiguration() error {
	if !strings.HasPrefix(p.baseURL, "http://") && !strings.HasPrefix(p.baseURL, "https://") {
		return &providers.ConfigError{Provider: p.core.ID(), Field: "base_url", Message: "must be an http(s) URL"}
	}
	return p.core.ValidateConfiguration()
}

// Initialize resolves the API key and loads the model catalog.
func (p *Provider) Initialize(ctx context.Context) error {
	if err := p.ValidateConfiguration(); err != nil {
		return err
	}
	return p.core.Initialize(ctx, p.loadModels)
}

func (p *Provider) headers(key string) map[string]string {
	return p.settings.MergeHeaders(map[string]string{
		"x-api-key":         key,
		"anthropic-version": DefaultAnthropicVersion,
		"Accept":            "application/json",
	})
}

func (p *Provider) loadModels(ctx context.Context, key string) ([]providers.ModelDescriptor, error) {
	var list modelList
	err := p.core.Executor().DoJSON(ctx, "models", providers.JSONRequest(http.MethodGet, p.baseURL+"/v1/models?limit=100", p.headers(key), nil), &list)
	if err != nil {
		return nil, err
	}

	models := make([]providers.ModelDescriptor, 0, len(list.Data))
	for _, m := range list.Data {
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		models = append(models, providers.ModelDescriptor{
			ID:                  m.ID,
			Name:                name,
			ContextWindowTokens: 200000,
			Pricing:             Prices.Lookup(m.ID),
			Capabilities:        providers.DefaultCapabilities,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func (p *Provider) buildRequest(model string, msgs []providers.Message, stream bool) messagesRequest {
	system, turns := providers.SplitSystem(msgs)
	maxTokens := p.settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return messagesRequest{
		Model:       model,
		System:      system,
		Messages:    normalizeTurns(turns),
		MaxTokens:   maxTokens,
		Temperature: p.settings.Temperature,
		Stream:      stream,
	}
}

// normalizeTurns drops leading assistant turns and merges consecutive turns
// from the same role.
func normalizeTurns(turns []providers.Message) []message {
	out := make([]message, 0, len(turns))
	for _, t := range turns {
		if len(out) == 0 && t.Role != providers.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == string(t.Role) {
			out[n-1].Content += "\n\n" + t.Content
			continue
		}
		out = append(out, message{Role: string(t.Role), Content: t.Content})
	}
	return out
}

// GenerateResponse sends a Messages request and waits for the answer.
func (p *Provider) GenerateResponse(ctx context.Context, req *providers.GenerateRequest) (*providers.Response, error) {
	if err := providers.ValidateRequest(req); err != nil {
		return nil, err
	}
	model, err := p.core.ResolveModel(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body := p.buildRequest(model.ID, p.core.BuildMessages(req), false)

	var resp messagesResponse
	err = p.core.Executor().DoJSON(ctx, "messages", providers.JSONRequest(http.MethodPost, p.baseURL+"/v1/messages", p.headers(p.core.APIKey()), body), &resp)
	if err != nil {
		p.core.Fail(ctx, model.ID, req, start, false, err)
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 && len(resp.Content) == 0 {
		err := &providers.ParseError{Provider: p.core.ID(), Cause: errors.New("no content in response")}
		p.core.Fail(ctx, model.ID, req, start, false, err)
		return nil, err
	}

	return p.core.Complete(ctx, model, req, start, text.String(), resp.StopReason, toUsage(resp.Usage, 0)), nil
}

// GenerateStreamingResponse streams a Messages response.
func (p *Provider) GenerateStreamingResponse(ctx context.Context, req *providers.GenerateRequest) (<-chan *providers.StreamChunk, error) {
	if err := providers.ValidateRequest(req); err != nil {
		return nil, err
	}
	model, err := p.core.ResolveModel(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body := p.buildRequest(model.ID, p.core.BuildMessages(req), true)
	headers := p.headers(p.core.APIKey())
	headers["Accept"] = "text/event-stream"

	resp, err := p.core.Executor().OpenStream(ctx, "messages.stream", providers.JSONRequest(http.MethodPost, p.baseURL+"/v1/messages", headers, body))
	if err != nil {
		p.core.Fail(ctx, model.ID, req, start, true, err)
		return nil, err
	}

	return p.core.Pump(ctx, resp.Body, p.deltas(providers.NewSSEReader(resp.Body)), model, req, start), nil
}

func (p *Provider) deltas(r *providers.SSEReader) providers.DeltaSource {
	var (
		input      usage
		haveInput  bool
		stopReason string
	)
	return func() (providers.Delta, error) {
		for {
			ev, err := r.Next()
			if err != nil {
				return providers.Delta{}, err
			}

			var payload streamEvent
			if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
				return providers.Delta{}, &providers.ParseError{Provider: p.core.ID(), RawResponse: ev.Data, Cause: err}
			}
			kind := ev.Name
			if kind == "" {
				kind = payload.Type
			}

			switch kind {
			case "message_start":
				if payload.Message != nil {
					input = payload.Message.Usage
					haveInput = true
				}
			case "content_block_delta":
				if payload.Delta != nil && payload.Delta.Text != "" {
					return providers.Delta{Text: payload.Delta.Text}, nil
				}
			case "message_delta":
				if payload.Delta != nil && payload.Delta.StopReason != "" {
					stopReason = payload.Delta.StopReason
				}
				if payload.Usage != nil && haveInput {
					u := toUsage(input, payload.Usage.OutputTokens)
					return providers.Delta{Usage: &u, FinishReason: stopReason}, nil
				}
			case "message_stop":
				return providers.Delta{Done: true, FinishReason: stopReason}, nil
			case "error":
				msg := "stream error"
				if payload.Error != nil {
					msg = payload.Error.Type + ": " + payload.Error.Message
				}
				return providers.Delta{}, &providers.ProviderError{Provider: p.core.ID(), Message: msg}
			}
		}
	}
}

// GenerateRawResponse sends prompt as the only message.
func (p *Provider) GenerateRawResponse(ctx context.Context, prompt, model string) (string, error) {
	resp, err := p.GenerateResponse(ctx, providers.RawRequest(prompt, model))
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// SummarizeConversation condenses messages with one raw request.
func (p *Provider) SummarizeConversation(ctx context.Context, messages []providers.Message, model string) (string, error) {
	return providers.Summarize(ctx, p.GenerateRawResponse, messages, model)
}

// toUsage converts Anthropic usage. Cache reads and writes count as prompt
// tokens; reads are also reported as cached. A positive output overrides
// u.OutputTokens.
func toUsage(u usage, output int) providers.TokenUsage {
	if output > 0 {
		u.OutputTokens = output
	}
	prompt := u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
	return providers.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      prompt + u.OutputTokens,
		CachedTokens:     u.CacheReadInputTokens,
	}
}

var _ providers.Provider = (*Provider)(nil)
