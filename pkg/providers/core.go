package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/conduit/pkg/credentials"
	"mercator-hq/conduit/pkg/processing/costs"
	"mercator-hq/conduit/pkg/processing/tokens"
)

// DefaultHistoryWindow is the number of prior messages sent with a query.
const DefaultHistoryWindow = 10

// CredentialSource resolves API keys by provider id.
type CredentialSource interface {
	Get(ctx context.Context, providerID string) (string, error)
}

// CatalogLoader fetches a provider's model catalog. It doubles as the
// credential check: a rejected key fails the load.
type CatalogLoader func(ctx context.Context, apiKey string) ([]ModelDescriptor, error)

// CoreConfig configures the shared provider machinery.
type CoreConfig struct {
	ID           string
	DisplayName  string
	Kind         Kind
	Capabilities []Capability

	// RequiresKey makes Initialize fail with MissingAPIKeyError when the
	// credential source has nothing for ID.
	RequiresKey bool

	// DefaultModel is selected when no other selection applies.
	DefaultModel string

	// SystemPrompt is prepended to conversational payloads.
	SystemPrompt string

	// HistoryWindow caps the prior messages sent. Zero uses the default.
	HistoryWindow int

	// StreamEndsAtEOF accepts a stream closed without an explicit end
	// signal as complete. Otherwise such a stream is reported truncated.
	StreamEndsAtEOF bool
}

// Core carries the state and behavior every adapter shares: lifecycle,
// credential, catalog, model selection, payload assembly, cost and usage
// accounting. Adapters hold a *Core and add only their wire format.
type Core struct {
	cfg       CoreConfig
	creds     CredentialSource
	exec      *Executor
	calc      *costs.Calculator
	estimator tokens.Estimator
	outcomes  OutcomeObserver
	logger    *slog.Logger

	initMu sync.Mutex

	mu       sync.RWMutex
	ready    bool
	apiKey   string
	models   []ModelDescriptor
	selected string
	stats    Stats
}

// CoreOption configures a Core.
type CoreOption func(*Core)

// WithCredentials sets the credential source.
func WithCredentials(src CredentialSource) CoreOption {
	return func(c *Core) { c.creds = src }
}

// WithCalculator sets the cost calculator.
func WithCalculator(calc *costs.Calculator) CoreOption {
	return func(c *Core) { c.calc = calc }
}

// WithEstimator sets the token estimator used when a backend reports no usage.
func WithEstimator(est tokens.Estimator) CoreOption {
	return func(c *Core) { c.estimator = est }
}

// WithOutcomeObserver sets the observer notified after each operation.
func WithOutcomeObserver(o OutcomeObserver) CoreOption {
	return func(c *Core) {
		if o != nil {
			c.outcomes = o
		}
	}
}

// NewCore creates a Core that sends requests through exec.
func NewCore(cfg CoreConfig, exec *Executor, opts ...CoreOption) *Core {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.ID
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = DefaultCapabilities
	}

	c := &Core{
		cfg:       cfg,
		exec:      exec,
		calc:      costs.NewCalculator(nil),
		estimator: tokens.NewSimpleEstimator(0),
		outcomes:  nopObserver{},
		logger:    slog.Default().With("provider", cfg.ID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the provider id.
func (c *Core) ID() string { return c.cfg.ID }

// Kind returns the provider kind.
func (c *Core) Kind() Kind { return c.cfg.Kind }

// Executor returns the request executor.
func (c *Core) Executor() *Executor { return c.exec }

// Logger returns the provider-scoped logger.
func (c *Core) Logger() *slog.Logger { return c.logger }

// SystemPrompt returns the configured system prompt.
func (c *Core) SystemPrompt() string { return c.cfg.SystemPrompt }

// Descriptor returns the provider's identity and catalog.
func (c *Core) Descriptor() Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	models := make([]ModelDescriptor, len(c.models))
	copy(models, c.models)
	return Descriptor{
		ID:            c.cfg.ID,
		DisplayName:   c.cfg.DisplayName,
		Kind:          c.cfg.Kind,
		Capabilities:  c.cfg.Capabilities,
		Models:        models,
		SelectedModel: c.selected,
		Ready:         c.ready,
	}
}

// ValidateConfiguration checks the static configuration.
func (c *Core) ValidateConfiguration() error {
	if c.cfg.ID == "" {
		return &ConfigError{Provider: c.cfg.ID, Field: "id", Message: "provider id is required"}
	}
	if c.exec == nil {
		return &ConfigError{Provider: c.cfg.ID, Field: "executor", Message: "no request executor configured"}
	}
	if c.cfg.RequiresKey && c.creds == nil {
		return &ConfigError{Provider: c.cfg.ID, Field: "credentials", Message: "no credential store configured"}
	}
	return nil
}

// Initialize resolves the credential and loads the catalog with load. It is
// a no-op when already ready; concurrent calls are serialized.
func (c *Core) Initialize(ctx context.Context, load CatalogLoader) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.IsReady() {
		return nil
	}
	if err := c.ValidateConfiguration(); err != nil {
		return err
	}

	key, err := c.resolveKey(ctx)
	if err != nil {
		return err
	}

	models, err := load(ctx, key)
	if err != nil {
		c.logger.Warn("provider initialization failed", "error", err)
		return err
	}
	if len(models) == 0 {
		return &ConfigError{Provider: c.cfg.ID, Field: "models", Message: "no models available"}
	}

	c.mu.Lock()
	c.apiKey = key
	c.models = models
	c.selected = pickModel(models, c.selected, c.cfg.DefaultModel)
	c.ready = true
	c.stats = Stats{}
	selected := c.selected
	c.mu.Unlock()

	c.logger.Info("provider initialized", "models", len(models), "model", selected)
	return nil
}

func (c *Core) resolveKey(ctx context.Context) (string, error) {
	if c.creds == nil {
		if c.cfg.RequiresKey {
			return "", &MissingAPIKeyError{Provider: c.cfg.ID}
		}
		return "", nil
	}

	key, err := c.creds.Get(ctx, c.cfg.ID)
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		key = ""
	case err != nil:
		return "", fmt.Errorf("failed to read credential for %q: %w", c.cfg.ID, err)
	}
	if key == "" && c.cfg.RequiresKey {
		return "", &MissingAPIKeyError{Provider: c.cfg.ID}
	}
	return key, nil
}

func pickModel(models []ModelDescriptor, current, fallback string) string {
	for _, want := range []string{current, fallback} {
		if want == "" {
			continue
		}
		for _, m := range models {
			if m.ID == want {
				return want
			}
		}
	}
	return models[0].ID
}

// IsReady reports whether Initialize has succeeded since the last Cleanup.
func (c *Core) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Cleanup drops the credential, catalog and idle connections. The model
// selection is kept for the next Initialize.
func (c *Core) Cleanup() {
	c.mu.Lock()
	c.ready = false
	c.apiKey = ""
	c.models = nil
	c.mu.Unlock()

	if c.exec != nil {
		c.exec.CloseIdleConnections()
	}
	c.logger.Debug("provider cleaned up")
}

// APIKey returns the credential resolved by Initialize.
func (c *Core) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Models returns a copy of the catalog.
func (c *Core) Models() []ModelDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ModelDescriptor, len(c.models))
	copy(out, c.models)
	return out
}

// SelectModel makes id the default model.
func (c *Core) SelectModel(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		// Remember the choice; Initialize honors it if the model exists.
		c.selected = id
		return nil
	}
	for _, m := range c.models {
		if m.ID == id {
			c.selected = id
			return nil
		}
	}
	return &ModelNotFoundError{Provider: c.cfg.ID, Model: id}
}

// ResolveModel returns the descriptor for override, or for the selected
// model when override is empty.
func (c *Core) ResolveModel(override string) (ModelDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ready {
		return ModelDescriptor{}, &ConfigError{Provider: c.cfg.ID, Field: "state", Message: "provider is not initialized"}
	}
	want := override
	if want == "" {
		want = c.selected
	}
	for _, m := range c.models {
		if m.ID == want {
			return m, nil
		}
	}
	return ModelDescriptor{}, &ModelNotFoundError{Provider: c.cfg.ID, Model: want}
}

// Stats returns usage counters since initialization.
func (c *Core) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// EstimateTokens applies the character heuristic to texts.
func (c *Core) EstimateTokens(texts ...string) int {
	return c.estimator.EstimateTexts(texts...)
}

// Cost prices usage for model.
func (c *Core) Cost(model ModelDescriptor, usage TokenUsage) float64 {
	return c.calc.Calculate(c.cfg.ID, model.ID, model.Pricing, costs.TokenUsage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CachedTokens:     usage.CachedTokens,
	}).TotalCost
}

// Complete finalizes a successful non-streaming operation: it fills in
// usage (estimating it when the backend reported none), prices it, updates
// stats and notifies the outcome observer.
func (c *Core) Complete(ctx context.Context, model ModelDescriptor, req *GenerateRequest, start time.Time, text, finishReason string, usage TokenUsage) *Response {
	usage = c.normalizeUsage(usage, req, text)
	cost := c.Cost(model, usage)
	latency := time.Since(start)

	meta := ResponseMetadata{
		Provider:         c.cfg.ID,
		Model:            model.ID,
		Usage:            usage,
		EstimatedCostUSD: &cost,
		ContextIncluded:  !req.Context.Empty(),
		FinishReason:     finishReason,
		Latency:          latency,
	}
	c.succeed(ctx, meta)

	return &Response{
		Text:           text,
		TokenCount:     usage.CompletionTokens,
		ProcessingTime: latency,
		Metadata:       meta,
	}
}

// Fail records a failed operation. Cancellation is not recorded.
func (c *Core) Fail(ctx context.Context, model string, req *GenerateRequest, start time.Time, streamed bool, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	c.mu.Lock()
	c.stats.Requests++
	c.stats.Failures++
	c.stats.LastRequest = time.Now()
	c.stats.LastError = err.Error()
	c.mu.Unlock()

	contextIncluded := req != nil && !req.Context.Empty()
	c.outcomes.ObserveOutcome(ctx, Outcome{
		At:              time.Now(),
		Provider:        c.cfg.ID,
		Model:           model,
		Success:         false,
		Latency:         time.Since(start),
		ContextIncluded: contextIncluded,
		Streamed:        streamed,
		Err:             err,
	})
}

func (c *Core) succeed(ctx context.Context, meta ResponseMetadata) {
	c.mu.Lock()
	c.stats.Requests++
	c.stats.PromptTokens += int64(meta.Usage.PromptTokens)
	c.stats.CompletionTokens += int64(meta.Usage.CompletionTokens)
	if meta.EstimatedCostUSD != nil {
		c.stats.CostUSD += *meta.EstimatedCostUSD
	}
	c.stats.LastRequest = time.Now()
	c.mu.Unlock()

	c.outcomes.ObserveOutcome(ctx, Outcome{
		At:              time.Now(),
		Provider:        meta.Provider,
		Model:           meta.Model,
		Usage:           meta.Usage,
		CostUSD:         meta.EstimatedCostUSD,
		Success:         true,
		Latency:         meta.Latency,
		ContextIncluded: meta.ContextIncluded,
		Streamed:        meta.Streamed,
	})
}

func (c *Core) normalizeUsage(usage TokenUsage, req *GenerateRequest, completion string) TokenUsage {
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage.PromptTokens = c.estimatePrompt(req)
		usage.CompletionTokens = c.estimator.EstimateText(completion)
		usage.Estimated = true
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

func (c *Core) estimatePrompt(req *GenerateRequest) int {
	if req == nil {
		return 0
	}
	total := 0
	for _, m := range c.BuildMessages(req) {
		total += c.estimator.EstimateText(m.Content)
	}
	return total
}

// ValidateRequest checks a conversational request before any I/O.
func ValidateRequest(req *GenerateRequest) error {
	if req == nil {
		return &ValidationError{Field: "request", Message: "request is required"}
	}
	if req.Query == "" {
		return &ValidationError{Field: "query", Message: "query cannot be empty"}
	}
	return nil
}
