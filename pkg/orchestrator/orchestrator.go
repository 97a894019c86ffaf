package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/conversation"
	"mercator-hq/conduit/pkg/processing/costs"
	"mercator-hq/conduit/pkg/processing/tokens"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/settings"
)

const (
	tracerName   = "mercator-hq/conduit/orchestrator"
	streamBuffer = 16

	// contextWarnThreshold is the context window share above which a
	// warning is logged.
	contextWarnThreshold = 0.8
)

// ProviderSource yields the provider queries are sent to.
// *registry.Registry implements it.
type ProviderSource interface {
	Active() providers.Provider
}

// Preflighter vets an estimated cost before a request is sent.
// *budget.Enforcer implements it.
type Preflighter interface {
	Preflight(ctx context.Context, estimateUSD float64, provider string, now time.Time) error
}

// Preferences are user settings read at the start of every query.
// *settings.Manager implements it.
type Preferences interface {
	Int(ctx context.Context, key string, fallback int) int
	Bool(ctx context.Context, key string, fallback bool) bool
	Text(ctx context.Context, key, fallback string) string
}

// Orchestrator coordinates queries, the active provider and the
// conversation history. It runs at most one query at a time.
type Orchestrator struct {
	source    ProviderSource
	cfg       config.ConversationConfig
	history   conversation.History
	extractor ContextExtractor
	guard     Guard
	budget    Preflighter
	calc      *costs.Calculator
	estimator tokens.Estimator
	analyzer  *conversation.Analyzer
	prefs     Preferences
	tracer    trace.Tracer
	now       func() time.Time
	logger    *slog.Logger

	inFlight atomic.Bool

	mu      sync.Mutex
	status  Status
	lastErr error

	subMu   sync.Mutex
	subs    map[int]chan Status
	nextSub int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistory sets the conversation history. The default is an in-memory
// history.
func WithHistory(h conversation.History) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithContextExtractor sets where page context comes from.
func WithContextExtractor(e ContextExtractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithGuard sets the resource guard. It replaces the heap guard built from
// MaxHeapMB.
func WithGuard(g Guard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// WithBudget enables the budget preflight. A nil calculator prices prompts
// with the default flat rate.
func WithBudget(p Preflighter, calc *costs.Calculator) Option {
	return func(o *Orchestrator) {
		o.budget = p
		if calc != nil {
			o.calc = calc
		}
	}
}

// WithPreferences makes user settings override the configured history
// window, system prompt and context inclusion.
func WithPreferences(p Preferences) Option {
	return func(o *Orchestrator) { o.prefs = p }
}

// WithEstimator sets the token estimator used for the preflight.
func WithEstimator(e tokens.Estimator) Option {
	return func(o *Orchestrator) { o.estimator = e }
}

// WithTracer sets the tracer used for query spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator over source.
func New(source ProviderSource, cfg config.ConversationConfig, opts ...Option) *Orchestrator {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = config.DefaultHistoryWindow
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = config.DefaultFallbackMessage
	}

	o := &Orchestrator{
		source:    source,
		cfg:       cfg,
		calc:      costs.NewCalculator(nil),
		estimator: tokens.NewSimpleEstimator(0),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		logger:    slog.Default().With("component", "orchestrator"),
		subs:      make(map[int]chan Status),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.history == nil {
		o.history = conversation.NewMemoryHistory(0)
	}
	if o.guard == nil && cfg.MaxHeapMB > 0 {
		o.guard = NewMemoryGuard(cfg.MaxHeapMB)
	}
	o.analyzer = conversation.NewAnalyzer(o.estimator)
	o.status = Status{State: StateIdle, At: o.now()}
	return o
}

// History returns the conversation history.
func (o *Orchestrator) History() conversation.History { return o.history }

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// LastError returns the most recent failure, or nil.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// ProcessQuery sends query to the active provider and waits for the reply.
// The user message is appended to the history before the request is sent
// and the reply after it arrives.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string) (*providers.Response, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, ErrQueryInFlight
	}
	defer o.inFlight.Store(false)

	ctx, span := o.tracer.Start(ctx, "orchestrator.query")
	defer span.End()

	o.setState(StateProcessing, "", nil)

	t, err := o.prepare(ctx, query)
	if err != nil {
		return nil, o.fail(span, err)
	}
	span.SetAttributes(attribute.String("provider", t.provider.ID()))

	resp, err := t.provider.GenerateResponse(ctx, t.req)
	if err != nil {
		return nil, o.fail(span, err)
	}

	reply := conversation.NewMessage(providers.RoleAssistant, resp.Text)
	meta := resp.Metadata
	reply.Metadata = &meta
	if err := o.history.Append(context.WithoutCancel(ctx), reply); err != nil {
		return nil, o.fail(span, fmt.Errorf("failed to store reply: %w", err))
	}

	o.setState(StateIdle, "", nil)
	return resp, nil
}

// ProcessStreamingQuery sends query to the active provider and streams the
// reply. An empty assistant message is appended once the stream is opened
// and rewritten as deltas arrive. It is finalized before the Done chunk is
// delivered. Failures after text was delivered arrive as a terminal chunk
// with Error set. The channel is closed once the next query can start.
//
// A stream that fails to open, fails before its first text, or ends empty
// is retried once without streaming; when that also yields nothing the
// configured fallback message is delivered.
func (o *Orchestrator) ProcessStreamingQuery(ctx context.Context, query string) (<-chan *providers.StreamChunk, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, ErrQueryInFlight
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.stream")
	release := func() {
		span.End()
		o.inFlight.Store(false)
	}

	t, err := o.prepare(ctx, query)
	if err != nil {
		release()
		return nil, o.fail(span, err)
	}
	span.SetAttributes(attribute.String("provider", t.provider.ID()))

	streamCtx, stopStream := context.WithCancel(ctx)
	in, err := t.provider.GenerateStreamingResponse(streamCtx, t.req)
	if err != nil {
		stopStream()
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			release()
			return nil, o.fail(span, err)
		}
		o.streamFailed(span, t, err)
		empty := make(chan *providers.StreamChunk)
		close(empty)
		in = empty
	}

	placeholder := conversation.NewMessage(providers.RoleAssistant, "")
	if err := o.history.Append(ctx, placeholder); err != nil {
		stopStream()
		release()
		return nil, o.fail(span, fmt.Errorf("failed to store reply: %w", err))
	}
	o.setState(StateStreaming, placeholder.ID, nil)

	out := make(chan *providers.StreamChunk, streamBuffer)
	go func() {
		defer close(out)
		defer release()
		defer stopStream()
		o.relay(ctx, span, t, placeholder, in, out)
	}()
	return out, nil
}

// streamFailed notes a streaming failure that the sync fallback will
// recover from.
func (o *Orchestrator) streamFailed(span trace.Span, t *turn, err error) {
	o.record(err)
	span.RecordError(err)
	o.logger.Warn("streaming failed before any text",
		"provider", t.provider.ID(),
		"class", providers.Classify(err),
		"error", err,
	)
}

// relay forwards chunks from in to out while accumulating the reply.
func (o *Orchestrator) relay(ctx context.Context, span trace.Span, t *turn, placeholder conversation.Message,
	in <-chan *providers.StreamChunk, out chan<- *providers.StreamChunk) {
	var (
		text strings.Builder
		meta *providers.ResponseMetadata
	)
	send := func(c *providers.StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	abort := func(err error) {
		o.finalize(ctx, placeholder, text.String(), nil)
		err = o.fail(span, err)
		if !errors.Is(err, context.Canceled) {
			send(&providers.StreamChunk{Error: err})
		}
	}

loop:
	for {
		var (
			c  *providers.StreamChunk
			ok bool
		)
		select {
		case c, ok = <-in:
		case <-ctx.Done():
			abort(ctx.Err())
			return
		}
		if !ok {
			break loop
		}

		if c.Error != nil {
			if text.Len() > 0 || errors.Is(c.Error, context.Canceled) {
				abort(c.Error)
				return
			}
			o.streamFailed(span, t, c.Error)
			break loop
		}
		if c.Delta != "" {
			text.WriteString(c.Delta)
			if err := o.history.UpdateContent(ctx, placeholder.ID, text.String()); err != nil {
				o.logger.Debug("failed to update streaming message", "id", placeholder.ID, "error", err)
			}
			if !send(&providers.StreamChunk{Delta: c.Delta}) {
				abort(ctx.Err())
				return
			}
		}
		if c.Done {
			meta = c.Metadata
		}
	}

	if err := ctx.Err(); err != nil {
		abort(err)
		return
	}

	if text.Len() == 0 {
		reply, m := o.fallback(ctx, t)
		if err := ctx.Err(); err != nil {
			abort(err)
			return
		}
		text.WriteString(reply)
		meta = m
		if !send(&providers.StreamChunk{Delta: reply}) {
			abort(ctx.Err())
			return
		}
	}

	if meta == nil {
		meta = &providers.ResponseMetadata{
			Provider:        t.provider.ID(),
			ContextIncluded: !t.req.Context.Empty(),
			Streamed:        true,
		}
	}
	o.finalize(ctx, placeholder, text.String(), meta)
	o.setState(StateIdle, "", nil)
	send(&providers.StreamChunk{Done: true, Metadata: meta})
}

// fallback asks for a non-streamed reply after a stream that delivered no
// text.
func (o *Orchestrator) fallback(ctx context.Context, t *turn) (string, *providers.ResponseMetadata) {
	o.logger.Info("stream produced no text, retrying without streaming", "provider", t.provider.ID())

	resp, err := t.provider.GenerateResponse(ctx, t.req)
	if err == nil && strings.TrimSpace(resp.Text) != "" {
		meta := resp.Metadata
		return resp.Text, &meta
	}
	if err != nil {
		o.record(err)
		o.logger.Warn("fallback request failed", "provider", t.provider.ID(), "error", err)
	}
	return o.cfg.FallbackMessage, nil
}

func (o *Orchestrator) finalize(ctx context.Context, placeholder conversation.Message, text string, meta *providers.ResponseMetadata) {
	msg := placeholder
	msg.Content = text
	msg.Metadata = meta
	if err := o.history.Update(context.WithoutCancel(ctx), msg); err != nil {
		o.logger.Warn("failed to finalize streamed message", "id", placeholder.ID, "error", err)
	}
}

// ResetConversationState clears the history and any server-side
// conversation state of the active provider.
func (o *Orchestrator) ResetConversationState(ctx context.Context) error {
	var errs []error
	if err := o.history.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear history: %w", err))
	}
	if p := o.source.Active(); p != nil && p.IsReady() {
		if err := p.ResetConversation(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to reset %s: %w", p.ID(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		o.record(err)
		o.setState(StateError, "", err)
		return err
	}

	o.mu.Lock()
	o.lastErr = nil
	o.mu.Unlock()
	if !o.inFlight.Load() {
		o.setState(StateIdle, "", nil)
	}
	o.logger.Info("conversation reset")
	return nil
}

// SummarizeConversation asks the active provider to condense the history.
func (o *Orchestrator) SummarizeConversation(ctx context.Context) (string, error) {
	p, err := o.activeProvider()
	if err != nil {
		return "", o.record(err)
	}
	msgs, err := o.history.Recent(ctx, 0)
	if err != nil {
		return "", o.record(err)
	}
	summary, err := p.SummarizeConversation(ctx, conversation.ProviderMessages(msgs), "")
	if err != nil {
		return "", o.record(err)
	}
	return summary, nil
}

// SummarizeContext asks the active provider to summarize the current page
// context. It returns "" when there is no context.
func (o *Orchestrator) SummarizeContext(ctx context.Context) (string, error) {
	p, err := o.activeProvider()
	if err != nil {
		return "", o.record(err)
	}
	if o.extractor == nil {
		return "", nil
	}
	pc, err := o.extractor.Extract(ctx)
	if err != nil {
		return "", o.record(fmt.Errorf("failed to extract context: %w", err))
	}
	if pc.Empty() {
		return "", nil
	}

	prompt := "Summarize the following page in a few sentences.\n\n" + providers.FormatContext(pc)
	summary, err := p.GenerateRawResponse(ctx, prompt, "")
	if err != nil {
		return "", o.record(err)
	}
	return strings.TrimSpace(summary), nil
}

// ContextUsage reports how much of the active model's context window the
// history occupies.
func (o *Orchestrator) ContextUsage(ctx context.Context) (conversation.Stats, error) {
	p, err := o.activeProvider()
	if err != nil {
		return conversation.Stats{}, err
	}
	msgs, err := o.history.Recent(ctx, o.historyWindow(ctx))
	if err != nil {
		return conversation.Stats{}, err
	}
	return o.analyzer.Analyze(msgs, selectedModel(p)), nil
}

type turn struct {
	provider providers.Provider
	req      *providers.GenerateRequest
}

// prepare runs the checks shared by both query paths and appends the user
// message.
func (o *Orchestrator) prepare(ctx context.Context, query string) (*turn, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	p, err := o.activeProvider()
	if err != nil {
		return nil, err
	}
	if o.guard != nil {
		if err := o.guard.Check(ctx); err != nil {
			return nil, err
		}
	}

	pc, err := o.extractContext(ctx)
	if err != nil {
		return nil, err
	}

	prior, err := o.history.Recent(ctx, o.historyWindow(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	req := &providers.GenerateRequest{
		Query:        query,
		Context:      pc,
		History:      conversation.ProviderMessages(prior),
		SystemPrompt: o.systemPrompt(ctx),
	}

	model := selectedModel(p)
	if err := o.preflight(ctx, p.ID(), model, req); err != nil {
		return nil, err
	}

	user := conversation.NewMessage(providers.RoleUser, query)
	user.Context = pc
	if err := o.history.Append(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to store query: %w", err)
	}

	if stats := o.analyzer.Analyze(append(prior, user), model); stats.ContextWindowPercent > contextWarnThreshold {
		o.logger.Warn("context window nearly full",
			"model", model.ID,
			"tokens", stats.ContextWindowUsage,
			"limit", stats.ContextWindowLimit,
		)
	}
	return &turn{provider: p, req: req}, nil
}

func (o *Orchestrator) activeProvider() (providers.Provider, error) {
	p := o.source.Active()
	if p == nil {
		return nil, ErrNoProvider
	}
	if !p.IsReady() {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotReady, p.ID())
	}
	return p, nil
}

func (o *Orchestrator) extractContext(ctx context.Context) (*providers.PageContext, error) {
	if o.extractor == nil || !o.includeContext(ctx) {
		return nil, nil
	}
	pc, err := o.extractor.Extract(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warn("context extraction failed, continuing without context", "error", err)
		return nil, nil
	}
	if pc.Empty() {
		return nil, nil
	}
	return pc, nil
}

func (o *Orchestrator) preflight(ctx context.Context, providerID string, model providers.ModelDescriptor, req *providers.GenerateRequest) error {
	if o.budget == nil {
		return nil
	}
	texts := []string{req.SystemPrompt, req.Query}
	if !req.Context.Empty() {
		texts = append(texts, providers.FormatContext(req.Context))
	}
	for _, m := range req.History {
		texts = append(texts, m.Content)
	}
	promptTokens := o.estimator.EstimateTexts(texts...)
	estimate := o.calc.EstimatePrompt(providerID, model.ID, model.Pricing, promptTokens)
	return o.budget.Preflight(ctx, estimate, providerID, o.now())
}

func (o *Orchestrator) historyWindow(ctx context.Context) int {
	if o.prefs == nil {
		return o.cfg.HistoryWindow
	}
	return o.prefs.Int(ctx, settings.KeyHistoryWindow, o.cfg.HistoryWindow)
}

func (o *Orchestrator) includeContext(ctx context.Context) bool {
	if o.prefs == nil {
		return !o.cfg.ExcludeContext
	}
	return o.prefs.Bool(ctx, settings.KeyIncludeContext, !o.cfg.ExcludeContext)
}

func (o *Orchestrator) systemPrompt(ctx context.Context) string {
	if o.prefs == nil {
		return o.cfg.SystemPrompt
	}
	if s := o.prefs.Text(ctx, settings.KeySystemPrompt, ""); s != "" {
		return s
	}
	return o.cfg.SystemPrompt
}

func (o *Orchestrator) record(err error) error {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
	return err
}

// fail records err, marks the span and publishes the resulting state.
// Cancellation returns the orchestrator to idle.
func (o *Orchestrator) fail(span trace.Span, err error) error {
	o.record(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if errors.Is(err, context.Canceled) {
		o.setState(StateIdle, "", nil)
		o.logger.Debug("query cancelled")
		return err
	}
	o.setState(StateError, "", err)
	o.logger.Warn("query failed", "class", providers.Classify(err), "error", err)
	return err
}

func selectedModel(p providers.Provider) providers.ModelDescriptor {
	d := p.Descriptor()
	for _, m := range d.Models {
		if m.ID == d.SelectedModel {
			return m
		}
	}
	return providers.ModelDescriptor{ID: d.SelectedModel}
}
