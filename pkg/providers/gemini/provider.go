package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"mercator-hq/conduit/pkg/providers"
)

const (
	// DefaultBaseURL is the Generative Language API root.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is selected when the configuration names none.
	DefaultModel = "gemini-2.0-flash"
)

// Prices are Gemini paid-tier list prices in USD per million tokens.
var Prices = providers.PriceTable{
	"gemini-1.5-flash":      {InputPerMillion: 0.075, OutputPerMillion: 0.30, CachedInputPerMillion: 0.01875},
	"gemini-1.5-pro":        {InputPerMillion: 1.25, OutputPerMillion: 5.00, CachedInputPerMillion: 0.3125},
	"gemini-2.0-flash":      {InputPerMillion: 0.10, OutputPerMillion: 0.40, CachedInputPerMillion: 0.025},
	"gemini-2.0-flash-lite": {InputPerMillion: 0.075, OutputPerMillion: 0.30},
	"gemini-2.5-flash":      {InputPerMillion: 0.30, OutputPerMillion: 2.50, CachedInputPerMillion: 0.075},
	"gemini-2.5-pro":        {InputPerMillion: 1.25, OutputPerMillion: 10.00, CachedInputPerMillion: 0.31},
}

// Provider is the Gemini provider adapter.
type Provider struct {
	core     *providers.Core
	settings providers.Settings
	baseURL  string
}

// New creates a Gemini provider.
func New(settings providers.Settings, exec *providers.Executor, opts ...providers.CoreOption) *Provider {
	// streamGenerateContent has no end event; the stream closes after the
	// last candidate.
	cfg := settings.CoreConfig(providers.KindExternal, true, DefaultModel)
	cfg.StreamEndsAtEOF = true
	return &Provider{
		core:     providers.NewCore(cfg, exec, opts...),
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
	u, err := url.Parse(p.baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
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
		"x-goog-api-key": key,
		"Accept":         "application/json",
	})
}

// loadModels lists models that support generateContent, following pages.
func (p *Provider) loadModels(ctx context.Context, key string) ([]providers.ModelDescriptor, error) {
	var (
		models []providers.ModelDescriptor
		token  string
	)
	for page := 0; page < 10; page++ {
		endpoint := p.baseURL + "/models?pageSize=100"
		if token != "" {
			endpoint += "&pageToken=" + url.QueryEscape(token)
		}

		var list modelList
		if err := p.core.Executor().DoJSON(ctx, "models", providers.JSONRequest(http.MethodGet, endpoint, p.headers(key), nil), &list); err != nil {
			return nil, err
		}
		for _, m := range list.Models {
			if !slices.Contains(m.SupportedGenerationMethods, "generateContent") {
				continue
			}
			id := strings.TrimPrefix(m.Name, "models/")
			name := m.DisplayName
			if name == "" {
				name = id
			}
			models = append(models, providers.ModelDescriptor{
				ID:                  id,
				Name:                name,
				ContextWindowTokens: m.InputTokenLimit,
				Pricing:             Prices.Lookup(id),
				Capabilities:        providers.DefaultCapabilities,
			})
		}
		if list.NextPageToken == "" {
			break
		}
		token = list.NextPageToken
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func (p *Provider) buildRequest(msgs []providers.Message) generateRequest {
	system, turns := providers.SplitSystem(msgs)
	req := generateRequest{Contents: make([]content, 0, len(turns))}
	if system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	for _, t := range turns {
		role := "user"
		if t.Role == providers.RoleAssistant {
			role = "model"
		}
		if n := len(req.Contents); n > 0 && req.Contents[n-1].Role == role {
			req.Contents[n-1].Parts = append(req.Contents[n-1].Parts, part{Text: t.Content})
			continue
		}
		req.Contents = append(req.Contents, content{Role: role, Parts: []part{{Text: t.Content}}})
	}
	if p.settings.MaxTokens > 0 || p.settings.Temperature != nil {
		req.GenerationConfig = &generationConfig{
			MaxOutputTokens: p.settings.MaxTokens,
			Temperature:     p.settings.Temperature,
		}
	}
	return req
}

func (p *Provider) endpoint(model, method string) string {
	return p.baseURL + "/models/" + url.PathEscape(model) + ":" + method
}

// GenerateResponse calls generateContent and waits for the answer.
func (p *Provider) GenerateResponse(ctx context.Context, req *providers.GenerateRequest) (*providers.Response, error) {
	if err := providers.ValidateRequest(req); err != nil {
		return nil, err
	}
	model, err := p.core.ResolveModel(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body := p.buildRequest(p.core.BuildMessages(req))

	var resp generateResponse
	err = p.core.Executor().DoJSON(ctx, "generateContent",
		providers.JSONRequest(http.MethodPost, p.endpoint(model.ID, "generateContent"), p.headers(p.core.APIKey()), body), &resp)
	if err == nil {
		err = p.checkBlocked(&resp)
	}
	if err != nil {
		p.core.Fail(ctx, model.ID, req, start, false, err)
		return nil, err
	}

	text, finish := candidateText(&resp)
	return p.core.Complete(ctx, model, req, start, text, finish, toUsage(resp.UsageMetadata)), nil
}

// checkBlocked reports a prompt rejected by safety filters, or a response
// with no candidates at all.
func (p *Provider) checkBlocked(resp *generateResponse) error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return &providers.ProviderError{Provider: p.core.ID(), Message: "prompt blocked: " + resp.PromptFeedback.BlockReason}
	}
	if len(resp.Candidates) == 0 {
		return &providers.ParseError{Provider: p.core.ID(), Cause: errors.New("no candidates in response")}
	}
	return nil
}

func candidateText(resp *generateResponse) (string, string) {
	if len(resp.Candidates) == 0 {
		return "", ""
	}
	c := resp.Candidates[0]
	var b strings.Builder
	for _, pt := range c.Content.Parts {
		b.WriteString(pt.Text)
	}
	return b.String(), strings.ToLower(c.FinishReason)
}

// GenerateStreamingResponse streams a generateContent response.
func (p *Provider) GenerateStreamingResponse(ctx context.Context, req *providers.GenerateRequest) (<-chan *providers.StreamChunk, error) {
	if err := providers.ValidateRequest(req); err != nil {
		return nil, err
	}
	model, err := p.core.ResolveModel(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body := p.buildRequest(p.core.BuildMessages(req))
	headers := p.headers(p.core.APIKey())
	headers["Accept"] = "text/event-stream"

	resp, err := p.core.Executor().OpenStream(ctx, "streamGenerateContent",
		providers.JSONRequest(http.MethodPost, p.endpoint(model.ID, "streamGenerateContent")+"?alt=sse", headers, body))
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

			var chunk generateResponse
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				return providers.Delta{}, &providers.ParseError{Provider: p.core.ID(), RawResponse: ev.Data, Cause: err}
			}
			if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
				return providers.Delta{}, &providers.ProviderError{Provider: p.core.ID(), Message: "prompt blocked: " + chunk.PromptFeedback.BlockReason}
			}

			text, finish := candidateText(&chunk)
			d := providers.Delta{Text: text, FinishReason: finish}
			if chunk.UsageMetadata != nil {
				u := toUsage(chunk.UsageMetadata)
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

func toUsage(u *usageMetadata) providers.TokenUsage {
	if u == nil {
		return providers.TokenUsage{}
	}
	total := u.TotalTokenCount
	if total == 0 {
		total = u.PromptTokenCount + u.CandidatesTokenCount
	}
	return providers.TokenUsage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      total,
		CachedTokens:     u.CachedContentTokenCount,
	}
}

var _ providers.Provider = (*Provider)(nil)
