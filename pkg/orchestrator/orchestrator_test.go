package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testhelpers "mercator-hq/conduit/internal/providers"
	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/conversation"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/settings"
)

type staticSource struct{ p providers.Provider }

func (s staticSource) Active() providers.Provider { return s.p }

func readyFake(t *testing.T) *testhelpers.FakeProvider {
	t.Helper()
	f := testhelpers.NewFake("openai", providers.KindExternal)
	require.NoError(t, f.Initialize(context.Background()))
	return f
}

func newOrchestrator(p providers.Provider, opts ...Option) *Orchestrator {
	var src staticSource
	if p != nil {
		src.p = p
	}
	return New(src, config.ConversationConfig{SystemPrompt: "Be brief."}, opts...)
}

func messages(t *testing.T, o *Orchestrator) []conversation.Message {
	t.Helper()
	msgs, err := o.History().Recent(context.Background(), 0)
	require.NoError(t, err)
	return msgs
}

func collect(t *testing.T, ch <-chan *providers.StreamChunk) []*providers.StreamChunk {
	t.Helper()
	var out []*providers.StreamChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestProcessQuery(t *testing.T) {
	ctx := context.Background()
	fake := readyFake(t)
	o := newOrchestrator(fake)

	resp, err := o.ProcessQuery(ctx, "first question")
	require.NoError(t, err)
	assert.Equal(t, "fake reply from openai", resp.Text)

	_, err = o.ProcessQuery(ctx, "second question")
	require.NoError(t, err)

	msgs := messages(t, o)
	require.Len(t, msgs, 4)
	assert.Equal(t, providers.RoleUser, msgs[0].Role)
	assert.Equal(t, "first question", msgs[0].Content)
	assert.Equal(t, providers.RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Metadata)
	assert.Equal(t, "openai", msgs[1].Metadata.Provider)

	// The request carries prior turns only, not the new query.
	req := fake.LastRequest()
	assert.Equal(t, "second question", req.Query)
	require.Len(t, req.History, 2)
	assert.Equal(t, "first question", req.History[0].Content)
	assert.Equal(t, "Be brief.", req.SystemPrompt)

	assert.Equal(t, StateIdle, o.Status().State)
	assert.NoError(t, o.LastError())
}

func TestProcessQuery_NoProvider(t *testing.T) {
	o := newOrchestrator(nil)

	_, err := o.ProcessQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Equal(t, providers.ClassConfiguration, providers.Classify(err))
	assert.Equal(t, err, o.LastError())
	assert.Equal(t, StateError, o.Status().State)
}

func TestProcessQuery_ProviderNotReady(t *testing.T) {
	o := newOrchestrator(testhelpers.NewFake("openai", providers.KindExternal))

	_, err := o.ProcessQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrProviderNotReady)
	assert.Empty(t, messages(t, o))
}

func TestProcessQuery_EmptyQuery(t *testing.T) {
	o := newOrchestrator(readyFake(t))
	_, err := o.ProcessQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestProcessQuery_ProviderErrorIsRecorded(t *testing.T) {
	fake := readyFake(t)
	fake.ReplyErr = &providers.AuthError{Provider: "openai", Message: "invalid key"}
	o := newOrchestrator(fake)

	_, err := o.ProcessQuery(context.Background(), "hello")
	var authErr *providers.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, err, o.LastError())
	assert.Equal(t, StateError, o.Status().State)

	// The user message was stored before the request; no reply follows it.
	msgs := messages(t, o)
	require.Len(t, msgs, 1)
	assert.Equal(t, providers.RoleUser, msgs[0].Role)

	// A later success clears the error state but LastError keeps the failure.
	fake.ReplyErr = nil
	_, err = o.ProcessQuery(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, o.Status().State)
	assert.Error(t, o.LastError())
}

func TestProcessQuery_GuardRefuses(t *testing.T) {
	fake := readyFake(t)
	guard := &MemoryGuard{limit: 100 << 20, heapSize: func() uint64 { return 300 << 20 }}
	o := newOrchestrator(fake, WithGuard(guard))

	_, err := o.ProcessQuery(context.Background(), "hello")
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, err.Error(), "300 MB exceeds the 100 MB limit")
	assert.Zero(t, fake.Generates())
	assert.Empty(t, messages(t, o))
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard(0)
	assert.NoError(t, g.Check(context.Background()))

	g = NewMemoryGuard(1 << 20)
	assert.NoError(t, g.Check(context.Background()))

	g.heapSize = func() uint64 { return g.limit + 1 }
	assert.Error(t, g.Check(context.Background()))
}

type preflightFunc func(ctx context.Context, estimate float64, provider string, now time.Time) error

func (f preflightFunc) Preflight(ctx context.Context, estimate float64, provider string, now time.Time) error {
	return f(ctx, estimate, provider, now)
}

func TestProcessQuery_BudgetPreflight(t *testing.T) {
	fake := readyFake(t)
	blocked := errors.New("over budget")

	var gotEstimate float64
	var gotProvider string
	o := newOrchestrator(fake, WithBudget(preflightFunc(func(_ context.Context, estimate float64, provider string, _ time.Time) error {
		gotEstimate, gotProvider = estimate, provider
		return blocked
	}), nil))

	_, err := o.ProcessQuery(context.Background(), "how much will this cost?")
	assert.ErrorIs(t, err, blocked)
	assert.Greater(t, gotEstimate, 0.0)
	assert.Equal(t, "openai", gotProvider)
	assert.Zero(t, fake.Generates())
	assert.Empty(t, messages(t, o))
}

func TestProcessQuery_Preferences(t *testing.T) {
	ctx := context.Background()
	fake := readyFake(t)
	prefs := settings.NewManager(settings.NewMemoryStore())
	require.NoError(t, prefs.Set(ctx, settings.KeyHistoryWindow, settings.Number(2)))
	require.NoError(t, prefs.Set(ctx, settings.KeySystemPrompt, settings.String("Answer in French.")))

	o := newOrchestrator(fake,
		WithPreferences(prefs),
		WithContextExtractor(StaticExtractor{Title: "Docs", Text: "page body"}),
	)

	for _, q := range []string{"one", "two", "three"} {
		_, err := o.ProcessQuery(ctx, q)
		require.NoError(t, err)
	}

	req := fake.LastRequest()
	require.Len(t, req.History, 2)
	assert.Equal(t, "Answer in French.", req.SystemPrompt)
	require.NotNil(t, req.Context)
	assert.Equal(t, "page body", req.Context.Text)

	msgs := messages(t, o)
	require.NotNil(t, msgs[len(msgs)-2].Context)

	require.NoError(t, prefs.Set(ctx, settings.KeyIncludeContext, settings.Bool(false)))
	_, err := o.ProcessQuery(ctx, "four")
	require.NoError(t, err)
	assert.Nil(t, fake.LastRequest().Context)
}

func TestProcessQuery_ExtractorFailureContinues(t *testing.T) {
	fake := readyFake(t)
	o := newOrchestrator(fake, WithContextExtractor(ExtractorFunc(func(context.Context) (*providers.PageContext, error) {
		return nil, errors.New("page unavailable")
	})))

	_, err := o.ProcessQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Nil(t, fake.LastRequest().Context)
}

func TestProcessStreamingQuery(t *testing.T) {
	fake := readyFake(t)
	fake.Deltas = []string{"Hel", "lo", " world"}
	fake.CostUSD = 0.002
	o := newOrchestrator(fake)

	updates, stop := o.Subscribe(8)
	defer stop()

	ch, err := o.ProcessStreamingQuery(context.Background(), "greet me")
	require.NoError(t, err)

	var (
		text string
		done *providers.StreamChunk
	)
	for c := range ch {
		require.NoError(t, c.Error)
		if c.Done {
			done = c
			// The placeholder is final before Done is delivered.
			msgs := messages(t, o)
			assert.Equal(t, "Hello world", msgs[1].Content)
			require.NotNil(t, msgs[1].Metadata)
			continue
		}
		text += c.Delta
	}

	assert.Equal(t, "Hello world", text)
	require.NotNil(t, done)
	require.NotNil(t, done.Metadata)
	assert.True(t, done.Metadata.Streamed)
	assert.InDelta(t, 0.002, *done.Metadata.EstimatedCostUSD, 1e-12)

	msgs := messages(t, o)
	require.Len(t, msgs, 2)
	assert.Equal(t, "greet me", msgs[0].Content)

	first := <-updates
	assert.Equal(t, StateStreaming, first.State)
	assert.Equal(t, msgs[1].ID, first.MessageID)
	assert.Equal(t, StateIdle, (<-updates).State)
	assert.Equal(t, StateIdle, o.Status().State)
}

func TestProcessStreamingQuery_ErrorAfterChunks(t *testing.T) {
	fake := readyFake(t)
	fake.Deltas = []string{"partial"}
	fake.StreamErr = &providers.StreamError{Provider: "openai", Message: "connection reset"}
	o := newOrchestrator(fake)

	ch, err := o.ProcessStreamingQuery(context.Background(), "hello")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, "partial", chunks[0].Delta)
	require.Error(t, chunks[1].Error)
	assert.False(t, chunks[1].Done)

	assert.Equal(t, chunks[1].Error, o.LastError())
	assert.Equal(t, StateError, o.Status().State)

	msgs := messages(t, o)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.Nil(t, msgs[1].Metadata)
}

func TestProcessStreamingQuery_EmptyStreamFallsBackToSync(t *testing.T) {
	fake := readyFake(t)
	fake.Reply = "synchronous answer"
	o := newOrchestrator(fake)

	ch, err := o.ProcessStreamingQuery(context.Background(), "hello")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, "synchronous answer", chunks[0].Delta)
	assert.True(t, chunks[1].Done)
	assert.Equal(t, 1, fake.Generates())
	assert.Equal(t, "synchronous answer", messages(t, o)[1].Content)
}

func TestProcessStreamingQuery_FallbackMessage(t *testing.T) {
	fake := readyFake(t)
	fake.ReplyErr = errors.New("backend down")
	o := newOrchestrator(fake)

	ch, err := o.ProcessStreamingQuery(context.Background(), "hello")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, config.DefaultFallbackMessage, chunks[0].Delta)
	assert.True(t, chunks[1].Done)
	assert.EqualError(t, o.LastError(), "backend down")
	assert.Equal(t, config.DefaultFallbackMessage, messages(t, o)[1].Content)
}

func TestProcessStreamingQuery_OpenErrorFallsBackToSync(t *testing.T) {
	fake := readyFake(t)
	fake.OpenErr = &providers.NetworkError{Provider: "openai", Cause: errors.New("503 exhausted")}
	fake.Reply = "synchronous answer"
	o := newOrchestrator(fake)

	ch, err := o.ProcessStreamingQuery(context.Background(), "hi")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, "synchronous answer", chunks[0].Delta)
	assert.True(t, chunks[1].Done)
	assert.Equal(t, 1, fake.Generates())
	assert.Equal(t, fake.OpenErr, o.LastError())
	assert.Equal(t, StateIdle, o.Status().State)

	msgs := messages(t, o)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "synchronous answer", msgs[1].Content)

	// The query slot is released.
	_, err = o.ProcessQuery(context.Background(), "again")
	assert.NoError(t, err)
}

func TestProcessStreamingQuery_OpenErrorThenFallbackMessage(t *testing.T) {
	fake := readyFake(t)
	fake.OpenErr = &providers.CircuitOpenError{Provider: "openai"}
	fake.ReplyErr = &providers.CircuitOpenError{Provider: "openai"}
	o := newOrchestrator(fake)

	ch, err := o.ProcessStreamingQuery(context.Background(), "hi")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, config.DefaultFallbackMessage, chunks[0].Delta)
	assert.True(t, chunks[1].Done)
	assert.Equal(t, providers.ClassCircuitOpen, providers.Classify(o.LastError()))

	msgs := messages(t, o)
	require.Len(t, msgs, 2)
	assert.Equal(t, config.DefaultFallbackMessage, msgs[1].Content)
}

func TestProcessStreamingQuery_ErrorBeforeTextFallsBackToSync(t *testing.T) {
	fake := readyFake(t)
	fake.StreamErr = &providers.StreamError{Provider: "openai", Message: "stream broke before any text"}
	fake.Reply = "synchronous answer"
	o := newOrchestrator(fake)

	ch, err := o.ProcessStreamingQuery(context.Background(), "hi")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, "synchronous answer", chunks[0].Delta)
	assert.NoError(t, chunks[0].Error)
	assert.True(t, chunks[1].Done)
	assert.Equal(t, 1, fake.Generates())
	assert.Equal(t, fake.StreamErr, o.LastError())

	msgs := messages(t, o)
	require.Len(t, msgs, 2)
	assert.Equal(t, "synchronous answer", msgs[1].Content)
	for _, m := range msgs {
		assert.NotEmpty(t, m.Content)
	}
}

func TestProcessStreamingQuery_CancelledOpenLeavesNoPlaceholder(t *testing.T) {
	fake := readyFake(t)
	fake.OpenErr = context.Canceled
	o := newOrchestrator(fake)

	_, err := o.ProcessStreamingQuery(context.Background(), "hi")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fake.Generates())
	assert.Equal(t, StateIdle, o.Status().State)

	msgs := messages(t, o)
	require.Len(t, msgs, 1)
	assert.Equal(t, providers.RoleUser, msgs[0].Role)
}

// blockingStream emits one delta and then waits for cancellation.
type blockingStream struct {
	*testhelpers.FakeProvider
	started chan struct{}
}

func (b *blockingStream) GenerateStreamingResponse(ctx context.Context, _ *providers.GenerateRequest) (<-chan *providers.StreamChunk, error) {
	out := make(chan *providers.StreamChunk)
	go func() {
		defer close(out)
		select {
		case out <- &providers.StreamChunk{Delta: "first"}:
		case <-ctx.Done():
			return
		}
		close(b.started)
		<-ctx.Done()
	}()
	return out, nil
}

func TestProcessStreamingQuery_CancelAndInFlight(t *testing.T) {
	p := &blockingStream{FakeProvider: readyFake(t), started: make(chan struct{})}
	o := newOrchestrator(p)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := o.ProcessStreamingQuery(ctx, "long answer please")
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "first", first.Delta)
	<-p.started

	_, err = o.ProcessQuery(context.Background(), "meanwhile")
	assert.ErrorIs(t, err, ErrQueryInFlight)
	_, err = o.ProcessStreamingQuery(context.Background(), "meanwhile")
	assert.ErrorIs(t, err, ErrQueryInFlight)

	cancel()
	for c := range ch {
		assert.NoError(t, c.Error, "cancellation does not produce an error chunk")
	}

	assert.ErrorIs(t, o.LastError(), context.Canceled)
	assert.Equal(t, providers.ClassCancelled, providers.Classify(o.LastError()))
	assert.Equal(t, StateIdle, o.Status().State)
	assert.Equal(t, "first", messages(t, o)[1].Content)

	_, err = o.ProcessQuery(context.Background(), "now")
	assert.NoError(t, err)
}

func TestResetConversationState(t *testing.T) {
	ctx := context.Background()
	fake := readyFake(t)
	fake.ReplyErr = errors.New("boom")
	o := newOrchestrator(fake)

	_, err := o.ProcessQuery(ctx, "hello")
	require.Error(t, err)

	require.NoError(t, o.ResetConversationState(ctx))
	assert.Empty(t, messages(t, o))
	assert.Equal(t, 1, fake.Resets())
	assert.NoError(t, o.LastError())
	assert.Equal(t, StateIdle, o.Status().State)
}

func TestSummarizeConversation(t *testing.T) {
	ctx := context.Background()
	fake := readyFake(t)
	o := newOrchestrator(fake)

	summary, err := o.SummarizeConversation(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Zero(t, fake.Generates())

	_, err = o.ProcessQuery(ctx, "tell me about circuit breakers")
	require.NoError(t, err)

	summary, err = o.SummarizeConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fake reply from openai", summary)
	assert.Contains(t, fake.LastRequest().Query, "circuit breakers")
}

func TestSummarizeContext(t *testing.T) {
	ctx := context.Background()
	fake := readyFake(t)

	o := newOrchestrator(fake)
	summary, err := o.SummarizeContext(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary)

	o = newOrchestrator(fake, WithContextExtractor(StaticExtractor{Title: "Release notes", Text: "Version 2 adds streaming."}))
	summary, err = o.SummarizeContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fake reply from openai", summary)
	assert.Contains(t, fake.LastRequest().Query, "Version 2 adds streaming.")
}

func TestContextUsage(t *testing.T) {
	ctx := context.Background()
	fake := readyFake(t)
	fake.ModelList[0].ContextWindowTokens = 100
	o := newOrchestrator(fake)

	_, err := o.ProcessQuery(ctx, "12345678")
	require.NoError(t, err)

	stats, err := o.ContextUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TurnCount)
	assert.Equal(t, 100, stats.ContextWindowLimit)
	assert.Greater(t, stats.ContextWindowPercent, 0.0)
}

func TestSubscribe_StopClosesChannel(t *testing.T) {
	o := newOrchestrator(readyFake(t))
	ch, stop := o.Subscribe(1)
	stop()
	stop()
	_, ok := <-ch
	assert.False(t, ok)
}
