package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrUpstreamError, "qdrant search failed").
		WithCause(cause).
		WithRetryable(true).
		WithProvider("qdrant")

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "UPSTREAM_ERROR")
	assert.Contains(t, err.Error(), "connection refused")

	wrapped := fmt.Errorf("retrieval: %w", err)
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrUpstreamError, GetErrorCode(wrapped))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewError(ErrAuthentication, "bad key")))
	assert.True(t, IsFatal(NewError(ErrConfiguration, "no key")))
	assert.False(t, IsFatal(NewError(ErrRateLimited, "slow down").WithRetryable(true)))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(TokenUsage{PromptTokens: 2, CompletionTokens: 3, TotalTokens: 5, Partial: true})

	assert.Equal(t, 12, u.PromptTokens)
	assert.Equal(t, 8, u.CompletionTokens)
	assert.Equal(t, 20, u.TotalTokens)
	assert.True(t, u.Partial)
	assert.False(t, u.IsZero())
	assert.True(t, TokenUsage{}.IsZero())
}
