package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"mercator-hq/conduit/pkg/processing/costs"
	"mercator-hq/conduit/pkg/providers"
)

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// DefaultModel is selected when the configuration names none.
const DefaultModel = "gpt-4o-mini"

// Prices are OpenAI list prices in USD per million tokens.
var Prices = providers.PriceTable{
	"gpt-4o":        {InputPerMillion: 2.50, OutputPerMillion: 10.00, CachedInputPerMillion: 1.25},
	"gpt-4o-mini":   {InputPerMillion: 0.15, OutputPerMillion: 0.60, CachedInputPerMillion: 0.075},
	"gpt-4.1":       {InputPerMillion: 2.00, OutputPerMillion: 8.00, CachedInputPerMillion: 0.50},
	"gpt-4.1-mini":  {InputPerMillion: 0.40, OutputPerMillion: 1.60, CachedInputPerMillion: 0.10},
	"gpt-4.1-nano":  {InputPerMillion: 0.10, OutputPerMillion: 0.40, CachedInputPerMillion: 0.025},
	"gpt-4-turbo":   {InputPerMillion: 10.00, OutputPerMillion: 30.00},
	"gpt-3.5-turbo": {InputPerMillion: 0.50, OutputPerMillion: 1.50},
	"o1":            {InputPerMillion: 15.00, OutputPerMillion: 60.00, CachedInputPerMillion: 7.50},
	"o3-mini":       {InputPerMillion: 1.10, OutputPerMillion: 4.40, CachedInputPerMillion: 0.55},
	"o4-mini":       {InputPerMillion: 1.10, OutputPerMillion: 4.40, CachedInputPerMillion: 0.275},
}

var chatPrefixes = []string{"gpt-", "o1", "o3", "o4", "chatgpt-"}

var nonChatMarkers = []string{"embedding", "audio", "realtime", "tts", "transcribe", "image", "search", "instruct", "moderation"}

// IsChatModel reports whether an OpenAI model id serves chat completions.
func IsChatModel(id string) bool {
	for _, m := range nonChatMarkers {
		if strings.Contains(id, m) {
			return false
		}
	}
	for _, p := range chatPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// Dialect captures the differences between OpenAI and compatible servers.
type Dialect struct {
	Type           string
	DefaultBaseURL string
	DefaultModel   string
	RequiresKey    bool

	// StreamUsage asks for a trailing usage chunk on streams.
	StreamUsage bool

	// ModelFilter keeps catalog entries; nil keeps all.
	ModelFilter func(id string) bool

	// Prices attaches catalog pricing; nil leaves models unpriced.
	Prices providers.PriceTable

	// StaticFallback serves a one-model catalog built from the default
	// model when the server has no /models endpoint.
	StaticFallback bool
}

// OpenAI is the dialect of api.openai.com.
var OpenAI = Dialect{
	Type:           "openai",
	DefaultBaseURL: DefaultBaseURL,
	DefaultModel:   DefaultModel,
	RequiresKey:    true,
	StreamUsage:    true,
	ModelFilter:    IsChatModel,
	Prices:         Prices,
}

// Provider is the OpenAI chat completions adapter.
type Provider struct {
	core     *providers.Core
	settings providers.Settings
	dialect  Dialect
	baseURL  string
}

// New creates an OpenAI provider.
func New(settings providers.Settings, exec *providers.Executor, opts ...providers.CoreOption) *Provider {
	return NewWithDialect(settings, OpenAI, exec, opts...)
}

// NewWithDialect creates a provider for an OpenAI-compatible server.
func NewWithDialect(settings providers.Settings, dialect Dialect, exec *providers.Executor, opts ...providers.CoreOption) *Provider {
	core := providers.NewCore(settings.CoreConfig(providers.KindExternal, dialect.RequiresKey, dialect.DefaultModel), exec, opts...)
	return &Provider{
		core:     core,
		settings: settings,
		dialect:  dialect,
		baseURL:  settings.BaseURLOr(dialect.DefaultBaseURL),
	}
}

// Type returns the dialect name.
func (p *Provider) Type() string { return p.dialect.Type }

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

// Initialize resolves the API key and loads the model catalog. The catalog
// request doubles as a credential check.
func (p *Provider) Initialize(ctx context.Context) error {
	if err := p.ValidateConfiguration(); err != nil {
		return err
	}
	return p.core.Initialize(ctx, p.loadModels)
}

func (p *Provider) headers(key string) map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if key != "" {
		h["Authorization"] = "Bearer " + key
	}
	return p.settings.MergeHeaders(h)
}

func (p *Provider) loadModels(ctx context.Context, key string) ([]providers.ModelDescriptor, error) {
	var list modelList
	err := p.core.Executor().DoJSON(ctx, "models", providers.JSONRequest(http.MethodGet, p.baseURL+"/models", p.headers(key), nil), &list)
	if err != nil {
		var perr *providers.ProviderError
		if p.dialect.StaticFallback && errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
			return p.staticCatalog(), nil
		}
		return nil, err
	}

	models := make([]providers.ModelDescriptor, 0, len(list.Data))
	for _, m := range list.Data {
		if p.dialect.ModelFilter != nil && !p.dialect.ModelFilter(m.ID) {
			continue
		}
		models = append(models, p.describe(m.ID))
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })

	if len(models) == 0 && p.dialect.StaticFallback {
		return p.staticCatalog(), nil
	}
	return models, nil
}

func (p *Provider) staticCatalog() []providers.ModelDescriptor {
	model := p.settings.DefaultModel
	if model == "" {
		model = p.dialect.DefaultModel
	}
	if model == "" {
		return nil
	}
	return []providers.ModelDescriptor{p.describe(model)}
}

func (p *Provider) describe(id string) providers.ModelDescriptor {
	var pricing *costs.Pricing
	if p.dialect.Prices != nil {
		pricing = p.dialect.Prices.Lookup(id)
	}
	return providers.ModelDescriptor{
		ID:           id,
		Name:         id,
		Pricing:      pricing,
		Capabilities: providers.DefaultCapabilities,
	}
}

func (p *Provider) buildRequest(model string, msgs []providers.Message, stream bool) chatRequest {
	req := chatRequest{
		Model:       model,
		Messages:    make([]chatMessage, 0, len(msgs)),
		Temperature: p.settings.Temperature,
		MaxTokens:   p.settings.MaxTokens,
		Stream:      stream,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if stream && p.dialect.StreamUsage {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return req
}

// GenerateResponse sends a chat completion and waits for the answer.
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

	var resp chatResponse
	err = p.core.Executor().DoJSON(ctx, "chat", providers.JSONRequest(http.MethodPost, p.baseURL+"/chat/completions", p.headers(p.core.APIKey()), body), &resp)
	if err != nil {
		p.core.Fail(ctx, model.ID, req, start, false, err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err := &providers.ParseError{Provider: p.core.ID(), Cause: errors.New("no choices in response")}
		p.core.Fail(ctx, model.ID, req, start, false, err)
		return nil, err
	}

	choice := resp.Choices[0]
	out := p.core.Complete(ctx, model, req, start, choice.Message.Content, choice.FinishReason, toUsage(resp.Usage))

	p.core.Logger().Debug("completion succeeded",
		"model", model.ID,
		"tokens", out.Metadata.Usage.TotalTokens,
		"latency", providers.Since(start),
	)
	return out, nil
}

// GenerateStreamingResponse streams a chat completion.
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

	resp, err := p.core.Executor().OpenStream(ctx, "chat.stream", providers.JSONRequest(http.MethodPost, p.baseURL+"/chat/completions", headers, body))
	if err != nil {
		p.core.Fail(ctx, model.ID, req, start, true, err)
		return nil, err
	}

	return p.core.Pump(ctx, resp.Body, p.deltas(providers.NewSSEReader(resp.Body)), model, req, start), nil
}

func (p *Provider) deltas(r *providers.SSEReader) providers.DeltaSource {
	return func() (providers.Delta, error) {
		for {
			ev, err := r.Next()
			if err != nil {
				return providers.Delta{}, err
			}
			if ev.Data == providers.DoneSentinel {
				return providers.Delta{Done: true}, nil
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				return providers.Delta{}, &providers.ParseError{
					Provider:    p.core.ID(),
					RawResponse: ev.Data,
					Cause:       err,
				}
			}
			if chunk.Error != nil {
				return providers.Delta{}, &providers.ProviderError{Provider: p.core.ID(), Message: chunk.Error.Message}
			}

			var d providers.Delta
			if len(chunk.Choices) > 0 {
				d.Text = chunk.Choices[0].Delta.Content
				d.FinishReason = chunk.Choices[0].FinishReason
			}
			if chunk.Usage != nil {
				u := toUsage(chunk.Usage)
				d.Usage = &u
			}
			if d.Text == "" && d.Usage == nil && d.FinishReason == "" {
				continue
			}
			return d, nil
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

func toUsage(u *chatUsage) providers.TokenUsage {
	if u == nil {
		return providers.TokenUsage{}
	}
	out := providers.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.PromptTokensDetails != nil {
		out.CachedTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

var _ providers.Provider = (*Provider)(nil)
