package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/conduit/pkg/credentials"
	"mercator-hq/conduit/pkg/processing/costs"
)

type mapCredentials map[string]string

func (m mapCredentials) Get(_ context.Context, id string) (string, error) {
	if v, ok := m[id]; ok {
		return v, nil
	}
	return "", credentials.ErrNotFound
}

var testModels = []ModelDescriptor{
	{ID: "small", Name: "Small", Pricing: &costs.Pricing{InputPerMillion: 1, OutputPerMillion: 2}},
	{ID: "large", Name: "Large"},
}

func staticCatalog(models []ModelDescriptor) CatalogLoader {
	return func(context.Context, string) ([]ModelDescriptor, error) { return models, nil }
}

func readyCore(t *testing.T, opts ...CoreOption) *Core {
	t.Helper()
	core := NewCore(CoreConfig{ID: "test", Kind: KindLocal, DefaultModel: "small"}, NewExecutor(ExecutorConfig{Provider: "test"}, nil, nil), opts...)
	require.NoError(t, core.Initialize(context.Background(), staticCatalog(testModels)))
	return core
}

func TestCore_InitializeRequiresKey(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Provider: "openai"}, nil, nil)
	core := NewCore(CoreConfig{ID: "openai", Kind: KindExternal, RequiresKey: true}, exec,
		WithCredentials(mapCredentials{}))

	err := core.Initialize(context.Background(), staticCatalog(testModels))
	var missing *MissingAPIKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, ClassConfiguration, Classify(err))
	assert.False(t, core.IsReady())
}

func TestCore_InitializePassesKeyAndIsIdempotent(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Provider: "openai"}, nil, nil)
	core := NewCore(CoreConfig{ID: "openai", Kind: KindExternal, RequiresKey: true, DefaultModel: "large"}, exec,
		WithCredentials(mapCredentials{"openai": "sk-1"}))

	loads := 0
	load := func(_ context.Context, key string) ([]ModelDescriptor, error) {
		loads++
		assert.Equal(t, "sk-1", key)
		return testModels, nil
	}
	require.NoError(t, core.Initialize(context.Background(), load))
	require.NoError(t, core.Initialize(context.Background(), load))
	assert.Equal(t, 1, loads)
	assert.Equal(t, "sk-1", core.APIKey())
	assert.Equal(t, "large", core.Descriptor().SelectedModel)

	core.Cleanup()
	assert.False(t, core.IsReady())
	assert.Empty(t, core.APIKey())
	assert.Empty(t, core.Models())
}

func TestCore_InitializeLoadFailure(t *testing.T) {
	core := NewCore(CoreConfig{ID: "local", Kind: KindLocal}, NewExecutor(ExecutorConfig{Provider: "local"}, nil, nil))

	loadErr := &NetworkError{Provider: "local", Cause: errors.New("connection refused")}
	err := core.Initialize(context.Background(), func(context.Context, string) ([]ModelDescriptor, error) {
		return nil, loadErr
	})
	assert.ErrorIs(t, err, loadErr)
	assert.False(t, core.IsReady())

	err = core.Initialize(context.Background(), staticCatalog(nil))
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCore_SelectModel(t *testing.T) {
	core := readyCore(t)

	assert.Equal(t, "small", core.Descriptor().SelectedModel)
	require.NoError(t, core.SelectModel("large"))
	assert.Equal(t, "large", core.Descriptor().SelectedModel)

	var notFound *ModelNotFoundError
	require.ErrorAs(t, core.SelectModel("huge"), &notFound)

	m, err := core.ResolveModel("")
	require.NoError(t, err)
	assert.Equal(t, "large", m.ID)

	_, err = core.ResolveModel("huge")
	require.ErrorAs(t, err, &notFound)
}

func TestCore_SelectionSurvivesReinitialize(t *testing.T) {
	core := readyCore(t)
	require.NoError(t, core.SelectModel("large"))
	core.Cleanup()

	_, err := core.ResolveModel("")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)

	require.NoError(t, core.Initialize(context.Background(), staticCatalog(testModels)))
	assert.Equal(t, "large", core.Descriptor().SelectedModel)
}

func TestCore_BuildMessages(t *testing.T) {
	core := NewCore(CoreConfig{ID: "test", SystemPrompt: "Be brief.", HistoryWindow: 2}, nil)

	req := &GenerateRequest{
		Query:   "what now?",
		Context: &PageContext{Title: "Docs", URL: "https://example.com", Text: "page body"},
		History: []Message{
			{Role: RoleUser, Content: "one"},
			{Role: RoleAssistant, Content: "two"},
			{Role: RoleUser, Content: "three"},
		},
	}
	msgs := core.BuildMessages(req)

	require.Len(t, msgs, 5)
	assert.Equal(t, Message{Role: RoleSystem, Content: "Be brief."}, msgs[0])
	assert.Equal(t, RoleSystem, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "Title: Docs")
	assert.Contains(t, msgs[1].Content, "page body")
	assert.Equal(t, "two", msgs[2].Content)
	assert.Equal(t, "three", msgs[3].Content)
	assert.Equal(t, Message{Role: RoleUser, Content: "what now?"}, msgs[4])

	system, rest := SplitSystem(msgs)
	assert.Contains(t, system, "Be brief.")
	assert.Len(t, rest, 3)

	msgs = core.BuildMessages(&GenerateRequest{Query: "hi", SystemPrompt: "Talk like a pirate."})
	require.Len(t, msgs, 2)
	assert.Equal(t, "Talk like a pirate.", msgs[0].Content)
}

func TestCore_CompleteEstimatesAndPrices(t *testing.T) {
	var got Outcome
	core := readyCore(t, WithOutcomeObserver(OutcomeObserverFunc(func(_ context.Context, o Outcome) { got = o })))
	model, err := core.ResolveModel("")
	require.NoError(t, err)

	resp := core.Complete(context.Background(), model, &GenerateRequest{Query: "abcdefgh"}, time.Now(), "abcd", "stop", TokenUsage{})
	assert.Equal(t, "abcd", resp.Text)
	assert.Equal(t, 1, resp.TokenCount)
	assert.True(t, resp.Metadata.Usage.Estimated)
	assert.Equal(t, 2, resp.Metadata.Usage.PromptTokens)
	require.NotNil(t, resp.Metadata.EstimatedCostUSD)
	// 2 prompt tokens at $1/M plus 1 completion token at $2/M
	assert.InDelta(t, 0.000004, *resp.Metadata.EstimatedCostUSD, 1e-12)

	assert.True(t, got.Success)
	assert.Equal(t, "small", got.Model)
	assert.Equal(t, int64(1), core.Stats().Requests)

	resp = core.Complete(context.Background(), model, &GenerateRequest{Query: "q"}, time.Now(), "x", "", TokenUsage{PromptTokens: 1000, CompletionTokens: 500})
	assert.False(t, resp.Metadata.Usage.Estimated)
	assert.Equal(t, 1500, resp.Metadata.Usage.TotalTokens)
}

func TestCore_FailSkipsCancellation(t *testing.T) {
	calls := 0
	core := readyCore(t, WithOutcomeObserver(OutcomeObserverFunc(func(context.Context, Outcome) { calls++ })))

	core.Fail(context.Background(), "small", nil, time.Now(), false, context.Canceled)
	assert.Zero(t, calls)
	assert.Zero(t, core.Stats().Failures)

	core.Fail(context.Background(), "small", nil, time.Now(), false, &AuthError{Provider: "test"})
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), core.Stats().Failures)
}

func TestSummarize(t *testing.T) {
	var prompt string
	gen := func(_ context.Context, p, model string) (string, error) {
		prompt = p
		assert.Equal(t, "m", model)
		return "  a summary \n", nil
	}

	out, err := Summarize(context.Background(), gen, []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}, "m")
	require.NoError(t, err)
	assert.Equal(t, "a summary", out)
	assert.Contains(t, prompt, "user: hi")
	assert.Contains(t, prompt, "assistant: hello")

	out, err = Summarize(context.Background(), func(context.Context, string, string) (string, error) {
		t.Fatal("empty conversations are not sent")
		return "", nil
	}, []Message{{Role: RoleUser, Content: "  "}}, "m")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestValidateRequest(t *testing.T) {
	var valErr *ValidationError
	require.ErrorAs(t, ValidateRequest(nil), &valErr)
	require.ErrorAs(t, ValidateRequest(&GenerateRequest{}), &valErr)
	assert.NoError(t, ValidateRequest(&GenerateRequest{Query: "hi"}))
}
