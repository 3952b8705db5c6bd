package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
	"github.com/heyemlee/ai-knowledgehub/types"
)

func TestModelDimension(t *testing.T) {
	assert.Equal(t, 3072, ModelDimension("text-embedding-3-large"))
	assert.Equal(t, 1536, ModelDimension("text-embedding-3-small"))
	assert.Equal(t, 1536, ModelDimension("text-embedding-ada-002"))
	assert.Equal(t, 1536, ModelDimension("unknown-model"))
}

func TestNewOpenAIProviderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(config.OpenAIConfig{}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestEmbedReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		// 故意乱序返回
		fmt.Fprint(w, `{
			"data": [
				{"index": 1, "embedding": [0.3, 0.4]},
				{"index": 0, "embedding": [0.1, 0.2]}
			],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.OpenAIConfig{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		EmbeddingModel: "text-embedding-3-small",
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimensions())

	vectors, usage, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, []float32{0.3, 0.4}, vectors[1])
	assert.Equal(t, 4, usage.PromptTokens)
	assert.Equal(t, 4, usage.TotalTokens)
}

func TestEmbedEmptyInput(t *testing.T) {
	p, err := NewOpenAIProvider(config.OpenAIConfig{APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)

	vectors, usage, err := p.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.True(t, usage.IsZero())
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"index": 0, "embedding": [0.1]}], "model": "m"}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, _, err = p.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestEmbedErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, _, err = p.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	appErr, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrRateLimited, appErr.Code)
	assert.True(t, appErr.Retryable)
	assert.Equal(t, "rate limited", appErr.Message)
}
