package accounting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/types"
)

func newRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRecordAndTotalSince(t *testing.T) {
	ctx := context.Background()
	r := newRecorder(t)

	r.Record(ctx, "alice", "/api/chat", types.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	r.Record(ctx, "alice", "/api/chat", types.TokenUsage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30})
	r.Record(ctx, "bob", "/api/chat", types.TokenUsage{PromptTokens: 100, CompletionTokens: 1, TotalTokens: 101})

	total, err := r.TotalSince(ctx, "alice", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 30, total.PromptTokens)
	assert.Equal(t, 15, total.CompletionTokens)
	assert.Equal(t, 45, total.TotalTokens)
}

func TestRecordSkipsZeroUsage(t *testing.T) {
	ctx := context.Background()
	r := newRecorder(t)

	r.Record(ctx, "alice", "/api/chat", types.TokenUsage{})

	total, err := r.TotalSince(ctx, "alice", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestTotalSinceWindow(t *testing.T) {
	ctx := context.Background()
	r := newRecorder(t)

	r.Record(ctx, "alice", "/api/chat", types.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2})

	total, err := r.TotalSince(ctx, "alice", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}
