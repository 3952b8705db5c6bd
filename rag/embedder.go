package rag

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/internal/cache"
	"github.com/heyemlee/ai-knowledgehub/internal/metrics"
	"github.com/heyemlee/ai-knowledgehub/llm/embedding"
	"github.com/heyemlee/ai-knowledgehub/llm/retry"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// embeddingCachePrefix 嵌入缓存的键前缀
const embeddingCachePrefix = "embedding"

// Embedder 带缓存的嵌入网关。逐条查缓存，未命中的文本合并为
// 一次批量调用，结果按输入顺序重组。相同文本的嵌入稳定，
// 缓存使用长 TTL。
type Embedder struct {
	provider  embedding.Provider
	cache     cache.Cache
	retryer   *retry.Retryer
	ttl       time.Duration
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewEmbedder 创建嵌入网关。collector 可为 nil。
func NewEmbedder(provider embedding.Provider, c cache.Cache, retryer *retry.Retryer, ttl time.Duration, collector *metrics.Collector, logger *zap.Logger) *Embedder {
	return &Embedder{
		provider:  provider,
		cache:     c,
		retryer:   retryer,
		ttl:       ttl,
		collector: collector,
		logger:    logger.With(zap.String("component", "embedder")),
	}
}

// Dimensions 透出嵌入模型的向量维度
func (e *Embedder) Dimensions() int { return e.provider.Dimensions() }

func (e *Embedder) cacheKey(text string) string {
	return cache.Key(embeddingCachePrefix, map[string]string{
		"model": e.provider.Model(),
		"text":  text,
	})
}

// Embed 返回每条文本的向量，顺序与输入一致。
// usage 只统计真正发给 Provider 的未命中部分。
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, types.TokenUsage, error) {
	if len(texts) == 0 {
		return nil, types.TokenUsage{}, nil
	}

	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		var vec []float32
		if e.cache.Get(ctx, e.cacheKey(text), &vec) && len(vec) > 0 {
			vectors[i] = vec
			e.cacheHit()
			continue
		}
		e.cacheMiss()
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vectors, types.TokenUsage{}, nil
	}

	var fresh [][]float32
	var usage types.TokenUsage
	err := e.retryer.Do(ctx, "embed", func() error {
		var callErr error
		fresh, usage, callErr = e.provider.Embed(ctx, missTexts)
		return callErr
	})
	if err != nil {
		return nil, types.TokenUsage{}, err
	}

	for j, vec := range fresh {
		i := missIdx[j]
		vectors[i] = vec
		e.cache.Set(ctx, e.cacheKey(missTexts[j]), vec, e.ttl)
	}

	e.logger.Debug("嵌入完成",
		zap.Int("total", len(texts)),
		zap.Int("misses", len(missTexts)),
		zap.Int("prompt_tokens", usage.PromptTokens),
	)
	return vectors, usage, nil
}

// EmbedQuery 单条文本的便捷入口
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, types.TokenUsage, error) {
	vectors, usage, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, types.TokenUsage{}, err
	}
	return vectors[0], usage, nil
}

func (e *Embedder) cacheHit() {
	if e.collector != nil {
		e.collector.CacheHit(embeddingCachePrefix)
	}
}

func (e *Embedder) cacheMiss() {
	if e.collector != nil {
		e.collector.CacheMiss(embeddingCachePrefix)
	}
}
