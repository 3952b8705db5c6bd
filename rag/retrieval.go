package rag

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
	"github.com/heyemlee/ai-knowledgehub/internal/cache"
	"github.com/heyemlee/ai-knowledgehub/internal/metrics"
)

// searchCachePrefix 检索结果缓存的键前缀
const searchCachePrefix = "search"

// VectorSearcher 检索引擎依赖的向量库查询能力
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]RetrievedDocument, error)
}

// Retriever 检索引擎。每次调用无状态：自适应参数、指纹去重、
// 单来源限额、关键词分层重排与降级加宽。
type Retriever struct {
	store     VectorSearcher
	cache     cache.Cache
	cfg       config.SearchConfig
	searchTTL time.Duration
	collector *metrics.Collector
	logger    *zap.Logger
}

// RetrievalStats 单次检索的内部计时与计数，供编排层汇入查询指标
type RetrievalStats struct {
	SearchTime time.Duration
	RerankTime time.Duration
	// Candidates 截断前的候选文档数
	Candidates int
	FellBack   bool
}

// NewRetriever 创建检索引擎。collector 可为 nil。
func NewRetriever(store VectorSearcher, c cache.Cache, cfg config.SearchConfig, searchTTL time.Duration, collector *metrics.Collector, logger *zap.Logger) *Retriever {
	return &Retriever{
		store:     store,
		cache:     c,
		cfg:       cfg,
		searchTTL: searchTTL,
		collector: collector,
		logger:    logger.With(zap.String("component", "retriever")),
	}
}

// searchParams 按查询长度选出的一组检索参数
type searchParams struct {
	pool      int
	threshold float64
	minDocs   int
}

// adaptiveParams 短问题视为歧义查询，用更大的候选池和更低的阈值扩大召回
func (r *Retriever) adaptiveParams(question string) searchParams {
	if len([]rune(strings.TrimSpace(question))) <= r.cfg.ShortQueryMaxChars {
		return searchParams{
			pool:      r.cfg.ShortPoolSize,
			threshold: r.cfg.ShortThreshold,
			minDocs:   r.cfg.ShortMinDocs,
		}
	}
	return searchParams{
		pool:      r.cfg.NormalPoolSize,
		threshold: r.cfg.NormalThreshold,
		minDocs:   r.cfg.NormalMinDocs,
	}
}

// Retrieve 将问题向量转为排好序、去过重、限过额的文档列表。
// keywords 为空时从问题文本分词兜底；question 为空时跳过关键词重排，
// 只按相似度排序。
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, question string, keywords []string, limit int) (RetrievalResult, RetrievalStats, error) {
	var stats RetrievalStats
	if limit <= 0 {
		return RetrievalResult{Outcome: OutcomeEmpty}, stats, nil
	}

	cacheKey := ""
	if question != "" {
		cacheKey = cache.Key(searchCachePrefix, map[string]string{
			"question": question,
			"limit":    strconv.Itoa(limit),
		})
		var cached RetrievalResult
		if r.cache.Get(ctx, cacheKey, &cached) {
			r.cacheEvent(true)
			stats.Candidates = len(cached.Documents)
			return cached, stats, nil
		}
		r.cacheEvent(false)
	}

	params := r.adaptiveParams(question)
	pool := params.pool
	if question != "" {
		// 有问题文本时扩大候选池，为重排留出余量
		if expanded := limit * r.cfg.ExpandedMultiplier; expanded > pool {
			pool = expanded
		}
	}
	if pool < limit {
		pool = limit
	}

	docs, searchTime, rerankTime, err := r.searchAndRank(ctx, vector, question, keywords, pool, params.threshold)
	stats.SearchTime += searchTime
	stats.RerankTime += rerankTime
	if err != nil {
		return RetrievalResult{}, stats, err
	}

	result := RetrievalResult{Outcome: OutcomeFound, Documents: docs}

	// 降级加宽：结果不足最少文档数时，用独立的降级参数重检一次
	if len(docs) < params.minDocs {
		stats.FellBack = true
		r.logger.Info("主检索结果不足，降级加宽",
			zap.Int("got", len(docs)),
			zap.Int("min_docs", params.minDocs),
			zap.Int("fallback_pool", r.cfg.FallbackPoolSize),
			zap.Float64("fallback_threshold", r.cfg.FallbackThreshold),
		)
		fallbackDocs, searchTime, rerankTime, err := r.searchAndRank(ctx, vector, question, keywords, r.cfg.FallbackPoolSize, r.cfg.FallbackThreshold)
		stats.SearchTime += searchTime
		stats.RerankTime += rerankTime
		if err != nil {
			return RetrievalResult{}, stats, err
		}
		if len(fallbackDocs) > len(docs) {
			docs = fallbackDocs
		}

		switch {
		case len(docs) == 0:
			result = RetrievalResult{Outcome: OutcomeEmpty}
		case len(docs) < params.minDocs:
			result = RetrievalResult{
				Outcome:   OutcomeDegraded,
				Documents: docs,
				Reason:    "fallback widening still returned fewer documents than required",
			}
		default:
			result = RetrievalResult{Outcome: OutcomeFound, Documents: docs}
		}
	}

	stats.Candidates = len(result.Documents)
	if len(result.Documents) > limit {
		result.Documents = result.Documents[:limit]
	}

	if cacheKey != "" && result.Outcome != OutcomeEmpty {
		r.cache.Set(ctx, cacheKey, result, r.searchTTL)
	}
	return result, stats, nil
}

// searchAndRank 一轮检索：查向量库、去重、限额、重排
func (r *Retriever) searchAndRank(ctx context.Context, vector []float32, question string, keywords []string, pool int, threshold float64) ([]RetrievedDocument, time.Duration, time.Duration, error) {
	searchStart := time.Now()
	candidates, err := r.store.Search(ctx, vector, pool, threshold)
	searchTime := time.Since(searchStart)
	if err != nil {
		return nil, searchTime, 0, err
	}

	rerankStart := time.Now()
	docs := r.dedupe(candidates)
	docs = r.rerank(docs, question, keywords)
	rerankTime := time.Since(rerankStart)

	return docs, searchTime, rerankTime, nil
}

// fingerprint 归一化内容的前 N 个 rune，用于近重复判定
func (r *Retriever) fingerprint(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	runes := []rune(normalized)
	if len(runes) > r.cfg.FingerprintLength {
		runes = runes[:r.cfg.FingerprintLength]
	}
	return string(runes)
}

// dedupe 指纹去重并限制单来源贡献的块数，保持原始顺序
func (r *Retriever) dedupe(docs []RetrievedDocument) []RetrievedDocument {
	seen := make(map[string]struct{}, len(docs))
	perSource := make(map[string]int)

	out := make([]RetrievedDocument, 0, len(docs))
	for _, doc := range docs {
		fp := r.fingerprint(doc.Content)
		if fp == "" {
			continue
		}
		if _, dup := seen[fp]; dup {
			continue
		}
		source := doc.Metadata.FileID
		if perSource[source] >= r.cfg.MaxChunksPerSource {
			continue
		}
		seen[fp] = struct{}{}
		perSource[source]++
		out = append(out, doc)
	}
	return out
}

// keywordTiers 关键词匹配的排序层级
const (
	tierExact  = 3
	tierMulti  = 2
	tierSingle = 1
	tierNone   = 0
)

func matchTier(doc RetrievedDocument) int {
	switch {
	case doc.HasExactMatch:
		return tierExact
	case doc.KeywordMatchCount >= 2:
		return tierMulti
	case doc.KeywordMatchCount == 1:
		return tierSingle
	default:
		return tierNone
	}
}

// rerank 关键词分层重排。层级优先于相似度：
// 低分的全文匹配排在高分的非匹配之前，层内按分数降序。
// question 为空时只按分数稳定降序。
func (r *Retriever) rerank(docs []RetrievedDocument, question string, keywords []string) []RetrievedDocument {
	question = strings.TrimSpace(strings.ToLower(question))
	if question != "" {
		if len(keywords) == 0 {
			keywords = questionKeywords(question)
		} else {
			lowered := make([]string, 0, len(keywords))
			for _, kw := range keywords {
				kw = strings.TrimSpace(strings.ToLower(kw))
				if kw != "" {
					lowered = append(lowered, kw)
				}
			}
			keywords = lowered
		}
		for i := range docs {
			content := strings.ToLower(docs[i].Content)
			docs[i].HasExactMatch = strings.Contains(content, question)
			count := 0
			for _, kw := range keywords {
				if strings.Contains(content, kw) {
					count++
				}
			}
			docs[i].KeywordMatchCount = count
		}
		sort.SliceStable(docs, func(i, j int) bool {
			ti, tj := matchTier(docs[i]), matchTier(docs[j])
			if ti != tj {
				return ti > tj
			}
			return docs[i].Score > docs[j].Score
		})
		return docs
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
	return docs
}

// questionKeywords 把问题拆成关键词。空白分词对中文无效，
// 无空白的 CJK 问题退化为整句单关键词。
func questionKeywords(question string) []string {
	fields := strings.Fields(question)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	if len(out) == 0 && question != "" {
		out = append(out, question)
	}
	return out
}

func (r *Retriever) cacheEvent(hit bool) {
	if r.collector == nil {
		return
	}
	if hit {
		r.collector.CacheHit(searchCachePrefix)
	} else {
		r.collector.CacheMiss(searchCachePrefix)
	}
}
