package gemini

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testhelpers "mercator-hq/conduit/internal/providers"
	"mercator-hq/conduit/pkg/credentials"
	"mercator-hq/conduit/pkg/providers"
)

const (
	modelsPath   = "/v1beta/models"
	generatePath = "/v1beta/models/gemini-2.0-flash:generateContent"
	streamPath   = "/v1beta/models/gemini-2.0-flash:streamGenerateContent"
)

type keys map[string]string

func (k keys) Get(_ context.Context, id string) (string, error) {
	if v, ok := k[id]; ok {
		return v, nil
	}
	return "", credentials.ErrNotFound
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newProvider(t *testing.T, mock *testhelpers.MockServer, settings providers.Settings) *Provider {
	t.Helper()
	settings.ID = "gemini"
	settings.BaseURL = mock.URL() + "/v1beta"
	exec := providers.NewExecutor(providers.ExecutorConfig{Provider: "gemini"}, nil, nil, providers.WithSleep(noSleep))
	return New(settings, exec, providers.WithCredentials(keys{"gemini": "AIza-test"}))
}

func serveModels(mock *testhelpers.MockServer) {
	list := testhelpers.GeminiModels("gemini-2.0-flash", "gemini-2.5-pro")
	list["models"] = append(list["models"].([]map[string]any), map[string]any{
		"name":                       "models/text-embedding-004",
		"supportedGenerationMethods": []string{"embedContent"},
	})
	mock.SetResponse(modelsPath, testhelpers.MockResponse{Body: list})
}

func TestInitialize_FiltersModels(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	serveModels(mock)

	p := newProvider(t, mock, providers.Settings{})
	require.NoError(t, p.Initialize(context.Background()))

	models := p.Models()
	require.Len(t, models, 2)
	assert.Equal(t, "gemini-2.0-flash", models[0].ID)
	assert.Equal(t, 1048576, models[0].ContextWindowTokens)
	require.NotNil(t, models[0].Pricing)
	assert.Equal(t, 0.10, models[0].Pricing.InputPerMillion)

	req, ok := mock.LastRequest(modelsPath)
	require.True(t, ok)
	assert.Equal(t, "AIza-test", req.Header.Get("x-goog-api-key"))
}

func TestGenerateResponse(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	serveModels(mock)
	mock.SetResponse(generatePath, testhelpers.MockResponse{
		Body: testhelpers.GeminiResponse("Paris", "STOP", 40, 2),
	})

	temp := 0.2
	p := newProvider(t, mock, providers.Settings{SystemPrompt: "Answer briefly.", MaxTokens: 128, Temperature: &temp})
	require.NoError(t, p.Initialize(context.Background()))

	resp, err := p.GenerateResponse(context.Background(), &providers.GenerateRequest{
		Query: "Capital of France?",
		History: []providers.Message{
			{Role: providers.RoleUser, Content: "hello"},
			{Role: providers.RoleAssistant, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", resp.Text)
	assert.Equal(t, "stop", resp.Metadata.FinishReason)
	assert.Equal(t, 40, resp.Metadata.Usage.PromptTokens)
	assert.Equal(t, 2, resp.Metadata.Usage.CompletionTokens)

	recorded, ok := mock.LastRequest(generatePath)
	require.True(t, ok)
	var body generateRequest
	require.NoError(t, recorded.JSON(&body))
	require.NotNil(t, body.SystemInstruction)
	assert.Equal(t, "Answer briefly.", body.SystemInstruction.Parts[0].Text)
	require.Len(t, body.Contents, 3)
	assert.Equal(t, "user", body.Contents[0].Role)
	assert.Equal(t, "model", body.Contents[1].Role)
	assert.Equal(t, "Capital of France?", body.Contents[2].Parts[0].Text)
	require.NotNil(t, body.GenerationConfig)
	assert.Equal(t, 128, body.GenerationConfig.MaxOutputTokens)
	require.NotNil(t, body.GenerationConfig.Temperature)
	assert.Equal(t, 0.2, *body.GenerationConfig.Temperature)
}

func TestGenerateResponse_Blocked(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	serveModels(mock)
	mock.SetResponse(generatePath, testhelpers.MockResponse{Body: map[string]any{
		"promptFeedback": map[string]any{"blockReason": "SAFETY"},
	}})

	p := newProvider(t, mock, providers.Settings{})
	require.NoError(t, p.Initialize(context.Background()))

	_, err := p.GenerateResponse(context.Background(), &providers.GenerateRequest{Query: "x"})
	var perr *providers.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "SAFETY")
	assert.Equal(t, int64(1), p.Stats().Failures)
}

func TestGenerateResponse_NoCandidates(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	serveModels(mock)
	mock.SetResponse(generatePath, testhelpers.MockResponse{Body: map[string]any{"candidates": []any{}}})

	p := newProvider(t, mock, providers.Settings{})
	require.NoError(t, p.Initialize(context.Background()))

	_, err := p.GenerateResponse(context.Background(), &providers.GenerateRequest{Query: "x"})
	var parseErr *providers.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestGenerateStreamingResponse(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	serveModels(mock)
	mock.SetResponse(streamPath, testhelpers.MockResponse{
		StreamChunks: []string{
			testhelpers.GeminiStreamChunk("The ", "", 0, 0),
			testhelpers.GeminiStreamChunk("answer", "", 0, 0),
			testhelpers.GeminiStreamChunk(".", "STOP", 9, 3),
		},
		Format: testhelpers.StreamSSENoDone,
	})

	p := newProvider(t, mock, providers.Settings{})
	require.NoError(t, p.Initialize(context.Background()))

	ch, err := p.GenerateStreamingResponse(context.Background(), &providers.GenerateRequest{Query: "x"})
	require.NoError(t, err)

	var text strings.Builder
	var final *providers.StreamChunk
	for c := range ch {
		require.NoError(t, c.Error)
		text.WriteString(c.Delta)
		if c.Done {
			final = c
		}
	}
	assert.Equal(t, "The answer.", text.String())
	require.NotNil(t, final)
	assert.Equal(t, 9, final.Metadata.Usage.PromptTokens)
	assert.Equal(t, 3, final.Metadata.Usage.CompletionTokens)
	assert.Equal(t, "stop", final.Metadata.FinishReason)

	recorded, ok := mock.LastRequest(streamPath)
	require.True(t, ok)
	assert.Equal(t, "alt=sse", recorded.Query)
}

func TestGenerateStreamingResponse_AuthFailure(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	serveModels(mock)
	mock.SetResponse(streamPath, testhelpers.MockAuthError())

	p := newProvider(t, mock, providers.Settings{})
	require.NoError(t, p.Initialize(context.Background()))

	_, err := p.GenerateStreamingResponse(context.Background(), &providers.GenerateRequest{Query: "x"})
	var authErr *providers.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 1, mock.RequestCount(streamPath))
}

func TestToUsage(t *testing.T) {
	assert.Equal(t, providers.TokenUsage{}, toUsage(nil))
	assert.Equal(t, providers.TokenUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
		toUsage(&usageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 4}))
}
