package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// Provider generates embedding vectors for batches of text.
type Provider interface {
	// Embed returns one vector per input text, in input order, plus the
	// provider-reported token usage for the batch.
	Embed(ctx context.Context, texts []string) ([][]float32, types.TokenUsage, error)

	// Dimensions reports the vector width of the configured model.
	Dimensions() int

	Model() string
	Name() string
}

// OpenAIProvider implements embedding against an OpenAI-compatible API.
type OpenAIProvider struct {
	cfg    config.OpenAIConfig
	model  string
	dims   int
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates an embedding provider from the OpenAI config section.
func NewOpenAIProvider(cfg config.OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, types.NewError(types.ErrConfiguration, "embedding: api key is empty")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIProvider{
		cfg:    cfg,
		model:  model,
		dims:   ModelDimension(model),
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "embedding_provider")),
	}, nil
}

func (p *OpenAIProvider) Name() string    { return "openai-embedding" }
func (p *OpenAIProvider) Model() string   { return p.model }
func (p *OpenAIProvider) Dimensions() int { return p.dims }

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type embedErrorResp struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed generates embeddings for the given texts. Vectors are returned in
// input order regardless of the order the API reports them.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, types.TokenUsage, error) {
	if len(texts) == 0 {
		return nil, types.TokenUsage{}, nil
	}

	payload, _ := json.Marshal(embedRequest{Input: texts, Model: p.model})
	endpoint := fmt.Sprintf("%s/embeddings", strings.TrimRight(p.cfg.BaseURL, "/"))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.TokenUsage{}, types.NewError(types.ErrInternalError, "build request").WithCause(err).WithProvider(p.Name())
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.TokenUsage{}, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, types.TokenUsage{}, p.mapError(resp.StatusCode, resp.Body)
	}

	var oaResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, types.TokenUsage{}, &types.Error{Code: types.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(), Cause: err}
	}
	if len(oaResp.Data) != len(texts) {
		return nil, types.TokenUsage{}, &types.Error{
			Code:       types.ErrUpstreamError,
			Message:    fmt.Sprintf("embedding count mismatch: want %d, got %d", len(texts), len(oaResp.Data)),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   p.Name(),
		}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range oaResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, types.TokenUsage{}, &types.Error{
				Code:       types.ErrUpstreamError,
				Message:    fmt.Sprintf("embedding index out of range: %d", d.Index),
				HTTPStatus: http.StatusBadGateway,
				Provider:   p.Name(),
			}
		}
		vectors[d.Index] = d.Embedding
	}
	usage := types.TokenUsage{
		PromptTokens: oaResp.Usage.PromptTokens,
		TotalTokens:  oaResp.Usage.TotalTokens,
	}
	return vectors, usage, nil
}

func (p *OpenAIProvider) mapError(status int, body io.Reader) *types.Error {
	data, _ := io.ReadAll(body)
	msg := string(data)
	var errResp embedErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &types.Error{Code: types.ErrAuthentication, Message: msg, HTTPStatus: status, Provider: p.Name()}
	case http.StatusTooManyRequests:
		return &types.Error{Code: types.ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: p.Name()}
	case http.StatusBadRequest:
		return &types.Error{Code: types.ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: p.Name()}
	default:
		return &types.Error{Code: types.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: status >= 500, Provider: p.Name()}
	}
}
