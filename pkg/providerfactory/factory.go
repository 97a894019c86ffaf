// Package providerfactory builds provider adapters from configuration.
//
// All providers built by one Factory share a circuit breaker and a pacer so
// that resilience state is tracked per provider id in one place. Each
// provider gets its own Executor configured from the resilience settings
// and its per-provider timeout.
package providerfactory

import (
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/limits/circuit"
	"mercator-hq/conduit/pkg/limits/ratelimit"
	"mercator-hq/conduit/pkg/processing/costs"
	"mercator-hq/conduit/pkg/processing/tokens"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/providers/anthropic"
	"mercator-hq/conduit/pkg/providers/gemini"
	"mercator-hq/conduit/pkg/providers/generic"
	"mercator-hq/conduit/pkg/providers/ollama"
	"mercator-hq/conduit/pkg/providers/openai"
)

// Supported provider types.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeGemini    = "gemini"
	TypeGeneric   = "generic"
	TypeOllama    = "ollama"
)

// Factory creates providers that share resilience state.
type Factory struct {
	resilience   config.ResilienceConfig
	conversation config.ConversationConfig

	breaker   *circuit.Breaker
	pacer     *ratelimit.Pacer
	creds     providers.CredentialSource
	calc      *costs.Calculator
	estimator tokens.Estimator
	outcomes  providers.OutcomeObserver
	requests  providers.RequestObserver
	tracer    trace.Tracer
	execOpts  []providers.ExecutorOption
	logger    *slog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithCredentials sets the credential source handed to every provider.
func WithCredentials(src providers.CredentialSource) Option {
	return func(f *Factory) { f.creds = src }
}

// WithBreaker replaces the shared circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(f *Factory) { f.breaker = b }
}

// WithPacer replaces the shared pacer.
func WithPacer(p *ratelimit.Pacer) Option {
	return func(f *Factory) { f.pacer = p }
}

// WithCalculator sets the cost calculator.
func WithCalculator(c *costs.Calculator) Option {
	return func(f *Factory) { f.calc = c }
}

// WithEstimator sets the token estimator.
func WithEstimator(e tokens.Estimator) Option {
	return func(f *Factory) { f.estimator = e }
}

// WithOutcomeObserver sets the observer that receives every provider's
// operation outcomes (usage recording, metrics).
func WithOutcomeObserver(o providers.OutcomeObserver) Option {
	return func(f *Factory) { f.outcomes = o }
}

// WithRequestObserver sets the per-attempt observer.
func WithRequestObserver(o providers.RequestObserver) Option {
	return func(f *Factory) { f.requests = o }
}

// WithTracer sets the tracer for executor spans.
func WithTracer(t trace.Tracer) Option {
	return func(f *Factory) { f.tracer = t }
}

// WithExecutorOptions appends options applied to every Executor.
func WithExecutorOptions(opts ...providers.ExecutorOption) Option {
	return func(f *Factory) { f.execOpts = append(f.execOpts, opts...) }
}

// New creates a Factory from the resilience and conversation sections of cfg.
func New(cfg *config.Config, opts ...Option) *Factory {
	f := &Factory{
		resilience:   cfg.Resilience,
		conversation: cfg.Conversation,
		logger:       slog.Default().With("component", "providerfactory"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.breaker == nil {
		f.breaker = circuit.New(circuit.Config{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			Cooldown:         cfg.Resilience.Cooldown,
		})
	}
	if f.pacer == nil {
		f.pacer = ratelimit.NewPacer(cfg.Resilience.MinInterval)
	}
	return f
}

// Breaker returns the shared circuit breaker.
func (f *Factory) Breaker() *circuit.Breaker { return f.breaker }

// Pacer returns the shared pacer.
func (f *Factory) Pacer() *ratelimit.Pacer { return f.pacer }

// NewProvider creates the adapter for id. The type comes from pc.Type or,
// when empty, is inferred from id.
func (f *Factory) NewProvider(id string, pc config.ProviderConfig) (providers.Provider, error) {
	providerType := ResolveType(id, pc)

	f.logger.Debug("creating provider", "id", id, "type", providerType, "base_url", pc.BaseURL)

	if pc.MinInterval > 0 {
		f.pacer.SetInterval(id, pc.MinInterval)
	}
	exec := f.executor(id, pc)
	settings := f.settings(id, pc)
	opts := f.coreOptions()

	var p providers.Provider
	switch providerType {
	case TypeOpenAI:
		p = openai.New(settings, exec, opts...)
	case TypeAnthropic:
		p = anthropic.New(settings, exec, opts...)
	case TypeGemini:
		p = gemini.New(settings, exec, opts...)
	case TypeGeneric:
		p = generic.New(settings, exec, opts...)
	case TypeOllama:
		p = ollama.New(settings, exec, opts...)
	default:
		return nil, &providers.ConfigError{
			Provider: id,
			Field:    "type",
			Message:  fmt.Sprintf("unsupported provider type: %q (supported: openai, anthropic, gemini, generic, ollama)", providerType),
		}
	}

	if err := p.ValidateConfiguration(); err != nil {
		return nil, fmt.Errorf("failed to create provider %q: %w", id, err)
	}
	return p, nil
}

// NewProviders creates every enabled provider in cfgs, in id order. A
// provider that fails to build is skipped and its error returned alongside
// the others.
func (f *Factory) NewProviders(cfgs map[string]config.ProviderConfig) ([]providers.Provider, []error) {
	ids := make([]string, 0, len(cfgs))
	for id := range cfgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		out  []providers.Provider
		errs []error
	)
	for _, id := range ids {
		pc := cfgs[id]
		if pc.Disabled {
			f.logger.Debug("provider disabled", "id", id)
			continue
		}
		p, err := f.NewProvider(id, pc)
		if err != nil {
			f.logger.Warn("skipping provider", "id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errs
}

func (f *Factory) executor(id string, pc config.ProviderConfig) *providers.Executor {
	opts := make([]providers.ExecutorOption, 0, len(f.execOpts)+2)
	if f.requests != nil {
		opts = append(opts, providers.WithRequestObserver(f.requests))
	}
	if f.tracer != nil {
		opts = append(opts, providers.WithTracer(f.tracer))
	}
	opts = append(opts, f.execOpts...)

	return providers.NewExecutor(providers.ExecutorConfig{
		Provider:    id,
		MaxAttempts: f.resilience.MaxAttempts,
		Backoff: providers.Backoff{
			Base:   f.resilience.BaseBackoff,
			Max:    f.resilience.MaxBackoff,
			Jitter: f.resilience.JitterFraction,
		},
		Timeout: pc.Timeout,
	}, f.breaker, f.pacer, opts...)
}

func (f *Factory) settings(id string, pc config.ProviderConfig) providers.Settings {
	return providers.Settings{
		ID:            id,
		DisplayName:   pc.DisplayName,
		BaseURL:       pc.BaseURL,
		DefaultModel:  pc.DefaultModel,
		SystemPrompt:  f.conversation.SystemPrompt,
		HistoryWindow: f.conversation.HistoryWindow,
		MaxTokens:     pc.MaxTokens,
		Temperature:   pc.Temperature,
		Headers:       pc.Headers,
		RequiresKey:   pc.RequiresKey,
	}
}

func (f *Factory) coreOptions() []providers.CoreOption {
	var opts []providers.CoreOption
	if f.creds != nil {
		opts = append(opts, providers.WithCredentials(f.creds))
	}
	if f.calc != nil {
		opts = append(opts, providers.WithCalculator(f.calc))
	}
	if f.estimator != nil {
		opts = append(opts, providers.WithEstimator(f.estimator))
	}
	if f.outcomes != nil {
		opts = append(opts, providers.WithOutcomeObserver(f.outcomes))
	}
	return opts
}

// ResolveType returns the adapter type for id: pc.Type when set, otherwise
// inferred from the id.
func ResolveType(id string, pc config.ProviderConfig) string {
	if pc.Type != "" {
		return pc.Type
	}
	return inferProviderType(id)
}

// inferProviderType infers the adapter from a provider id.
func inferProviderType(id string) string {
	switch id {
	case "openai":
		return TypeOpenAI
	case "anthropic", "claude":
		return TypeAnthropic
	case "gemini", "google":
		return TypeGemini
	case "local", "ollama":
		return TypeOllama
	default:
		return TypeGeneric
	}
}
