package generic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testhelpers "mercator-hq/conduit/internal/providers"
	"mercator-hq/conduit/pkg/providers"
)

func newGeneric(mock *testhelpers.MockServer, settings providers.Settings) *Provider {
	settings.ID = "lmstudio"
	if mock != nil {
		settings.BaseURL = mock.URL() + "/v1"
	}
	exec := providers.NewExecutor(providers.ExecutorConfig{Provider: "lmstudio"}, nil, nil)
	return New(settings, exec)
}

func TestGeneric_NoKeyRequired(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/v1/models", testhelpers.MockResponse{Body: testhelpers.OpenAIModels("qwen2.5-7b-instruct", "llama-3.1-8b")})
	mock.SetResponse("/v1/chat/completions", testhelpers.MockResponse{
		Body: testhelpers.OpenAIChatResponse("Hello from LM Studio!", "llama-3.1-8b", 10, 20),
	})

	p := newGeneric(mock, providers.Settings{DefaultModel: "llama-3.1-8b"})
	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, "generic", p.Type())
	assert.Len(t, p.Models(), 2, "generic servers keep every model")
	assert.Equal(t, "llama-3.1-8b", p.Descriptor().SelectedModel)

	resp, err := p.GenerateResponse(context.Background(), &providers.GenerateRequest{Query: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hello from LM Studio!", resp.Text)

	recorded, _ := mock.LastRequest("/v1/chat/completions")
	assert.Empty(t, recorded.Header.Get("Authorization"))
}

func TestGeneric_StaticCatalogWithoutModelsEndpoint(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()

	p := newGeneric(mock, providers.Settings{DefaultModel: "my-model"})
	require.NoError(t, p.Initialize(context.Background()))

	models := p.Models()
	require.Len(t, models, 1)
	assert.Equal(t, "my-model", models[0].ID)
	assert.Nil(t, models[0].Pricing)
}

func TestGeneric_StreamWithoutUsageIsEstimated(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/v1/chat/completions", testhelpers.MockResponse{
		StreamChunks: []string{
			testhelpers.OpenAIStreamChunk("abcd", ""),
			testhelpers.OpenAIStreamChunk("efgh", "stop"),
		},
	})

	p := newGeneric(mock, providers.Settings{DefaultModel: "my-model"})
	require.NoError(t, p.Initialize(context.Background()))

	ch, err := p.GenerateStreamingResponse(context.Background(), &providers.GenerateRequest{Query: "12345678"})
	require.NoError(t, err)

	var final *providers.StreamChunk
	for c := range ch {
		if c.Done {
			final = c
		}
	}
	require.NotNil(t, final)
	assert.True(t, final.Metadata.Usage.Estimated)
	assert.Equal(t, 2, final.Metadata.Usage.PromptTokens)
	assert.Equal(t, 2, final.Metadata.Usage.CompletionTokens)
}

func TestGeneric_RequiresBaseURL(t *testing.T) {
	p := newGeneric(nil, providers.Settings{DefaultModel: "m"})
	var cfgErr *providers.ConfigError
	require.ErrorAs(t, p.Initialize(context.Background()), &cfgErr)
	assert.Equal(t, "base_url", cfgErr.Field)
}

func TestGeneric_KeyRequiredByConfig(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()

	required := true
	exec := providers.NewExecutor(providers.ExecutorConfig{Provider: "gateway"}, nil, nil)
	p := New(providers.Settings{ID: "gateway", BaseURL: mock.URL() + "/v1", RequiresKey: &required}, exec,
		providers.WithCredentials(staticKeys{}))

	var missing *providers.MissingAPIKeyError
	require.ErrorAs(t, p.Initialize(context.Background()), &missing)
}

type staticKeys map[string]string

func (s staticKeys) Get(_ context.Context, id string) (string, error) { return s[id], nil }
