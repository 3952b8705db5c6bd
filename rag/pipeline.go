package rag

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/heyemlee/ai-knowledgehub/config"
	"github.com/heyemlee/ai-knowledgehub/internal/accounting"
	"github.com/heyemlee/ai-knowledgehub/internal/metrics"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// QueryResult 一次问答的完整产出
type QueryResult struct {
	Answer  string           `json:"answer"`
	Sources []Source         `json:"sources"`
	Usage   types.TokenUsage `json:"usage"`
	Metrics QueryMetrics     `json:"metrics"`
}

// QueryEvent 流式问答的单个事件：增量文本，或带完整结果的终端事件，
// 或终端错误
type QueryEvent struct {
	Delta string       `json:"delta,omitempty"`
	Done  *QueryResult `json:"done,omitempty"`
	Err   *types.Error `json:"error,omitempty"`
}

// Pipeline 端到端编排器。每次查询独立无状态：
// 嵌入 → 检索（含降级）→ 生成 → 汇总指标。
type Pipeline struct {
	embedder  *Embedder
	retriever *Retriever
	generator *Generator
	cfg       config.SearchConfig
	recorder  *accounting.Recorder
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewPipeline 创建编排器。recorder 与 collector 均可为 nil。
func NewPipeline(embedder *Embedder, retriever *Retriever, generator *Generator, cfg config.SearchConfig, recorder *accounting.Recorder, collector *metrics.Collector, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		cfg:       cfg,
		recorder:  recorder,
		collector: collector,
		logger:    logger.With(zap.String("component", "pipeline")),
	}
}

// prepared 嵌入与关键词提取的汇合结果
type prepared struct {
	vector     []float32
	keywords   []string
	embedUsage types.TokenUsage
	embedTime  time.Duration
}

// prepare 并发执行嵌入与关键词提取。嵌入失败整个查询快速失败；
// 关键词提取自身已降级，不会带崩查询。
func (p *Pipeline) prepare(ctx context.Context, question string) (prepared, error) {
	var out prepared

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		vector, usage, err := p.embedder.EmbedQuery(gctx, question)
		out.embedTime = time.Since(start)
		if err != nil {
			return err
		}
		out.vector = vector
		out.embedUsage = usage
		return nil
	})
	g.Go(func() error {
		out.keywords = p.generator.ExtractKeywords(gctx, question)
		return nil
	})
	if err := g.Wait(); err != nil {
		return prepared{}, err
	}
	return out, nil
}

// retrieve 检索并汇入指标
func (p *Pipeline) retrieve(ctx context.Context, prep prepared, question string, m *QueryMetrics) (RetrievalResult, error) {
	result, stats, err := p.retriever.Retrieve(ctx, prep.vector, question, prep.keywords, p.cfg.MaxContextDocs)
	m.RetrievalTime = stats.SearchTime
	m.RerankTime = stats.RerankTime
	m.UsedFallback = stats.FellBack
	if err != nil {
		return RetrievalResult{}, err
	}
	m.DocumentsRetrieved = stats.Candidates
	m.DocumentsUsed = len(result.Documents)
	m.Outcome = result.Outcome
	if result.Outcome == OutcomeDegraded {
		p.logger.Warn("检索降级",
			zap.String("question", question),
			zap.String("reason", result.Reason),
			zap.Int("documents", len(result.Documents)),
		)
	}
	return result, nil
}

// Ask 同步问答。检索为空时仍进入生成，由提示词保证
// 模型明确回答未找到相关信息。
func (p *Pipeline) Ask(ctx context.Context, userID, question string) (*QueryResult, error) {
	totalStart := time.Now()
	var m QueryMetrics

	prep, err := p.prepare(ctx, question)
	if err != nil {
		p.queryCompleted("error")
		return nil, err
	}
	m.EmbeddingTime = prep.embedTime

	retrieval, err := p.retrieve(ctx, prep, question, &m)
	if err != nil {
		p.queryCompleted("error")
		return nil, err
	}

	genStart := time.Now()
	answer, genUsage, err := p.generator.Generate(ctx, question, retrieval.Documents)
	m.GenerationTime = time.Since(genStart)
	if err != nil {
		p.queryCompleted("error")
		return nil, err
	}

	m.TotalTime = time.Since(totalStart)
	usage := prep.embedUsage
	usage.Add(genUsage)

	result := &QueryResult{
		Answer:  answer,
		Sources: extractSources(retrieval.Documents, p.cfg.MaxContextDocs),
		Usage:   usage,
		Metrics: m,
	}
	p.finish(ctx, userID, "chat", result)
	return result, nil
}

// AskStream 流式问答。增量事件即时转发，终端事件携带来源、
// 用量与指标；错误事件终止流。
func (p *Pipeline) AskStream(ctx context.Context, userID, question string) (<-chan QueryEvent, error) {
	totalStart := time.Now()
	var m QueryMetrics

	prep, err := p.prepare(ctx, question)
	if err != nil {
		p.queryCompleted("error")
		return nil, err
	}
	m.EmbeddingTime = prep.embedTime

	retrieval, err := p.retrieve(ctx, prep, question, &m)
	if err != nil {
		p.queryCompleted("error")
		return nil, err
	}

	genStart := time.Now()
	upstream, err := p.generator.GenerateStream(ctx, question, retrieval.Documents)
	if err != nil {
		p.queryCompleted("error")
		return nil, err
	}

	out := make(chan QueryEvent)
	go func() {
		defer close(out)

		var answer []byte
		for ev := range upstream {
			switch ev.Kind {
			case EventDelta:
				answer = append(answer, ev.Delta...)
				select {
				case out <- QueryEvent{Delta: ev.Delta}:
				case <-ctx.Done():
					return
				}
			case EventError:
				p.queryCompleted("error")
				select {
				case out <- QueryEvent{Err: ev.Err}:
				case <-ctx.Done():
				}
				return
			case EventUsage:
				m.GenerationTime = time.Since(genStart)
				m.TotalTime = time.Since(totalStart)
				usage := prep.embedUsage
				usage.Add(ev.Usage)

				result := &QueryResult{
					Answer:  string(answer),
					Sources: extractSources(retrieval.Documents, p.cfg.MaxContextDocs),
					Usage:   usage,
					Metrics: m,
				}
				p.finish(ctx, userID, "chat_stream", result)
				select {
				case out <- QueryEvent{Done: result}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}

// finish 上报指标并记账
func (p *Pipeline) finish(ctx context.Context, userID, endpoint string, result *QueryResult) {
	if p.collector != nil {
		p.collector.ObserveStage("embedding", result.Metrics.EmbeddingTime)
		p.collector.ObserveStage("retrieval", result.Metrics.RetrievalTime)
		p.collector.ObserveStage("rerank", result.Metrics.RerankTime)
		p.collector.ObserveStage("generation", result.Metrics.GenerationTime)
		p.collector.ObserveContextDocs(result.Metrics.DocumentsUsed)
		p.collector.AddTokens("prompt", result.Usage.PromptTokens)
		p.collector.AddTokens("completion", result.Usage.CompletionTokens)
	}
	p.queryCompleted(string(result.Metrics.Outcome))

	if p.recorder != nil {
		p.recorder.Record(ctx, userID, endpoint, result.Usage)
	}

	p.logger.Info("查询完成",
		zap.String("user_id", userID),
		zap.String("endpoint", endpoint),
		zap.String("outcome", string(result.Metrics.Outcome)),
		zap.Int("documents_used", result.Metrics.DocumentsUsed),
		zap.Bool("used_fallback", result.Metrics.UsedFallback),
		zap.Int("total_tokens", result.Usage.TotalTokens),
		zap.Duration("total_time", result.Metrics.TotalTime),
	)
}

func (p *Pipeline) queryCompleted(status string) {
	if p.collector != nil {
		p.collector.QueryCompleted(status)
	}
}

// extractSources 从检索结果提炼答案来源：按文件去重取最高分，
// 分数降序截断
func extractSources(docs []RetrievedDocument, limit int) []Source {
	best := make(map[string]Source, len(docs))
	order := make([]string, 0, len(docs))
	for _, doc := range docs {
		fileID := doc.Metadata.FileID
		existing, seen := best[fileID]
		if !seen {
			order = append(order, fileID)
		}
		if !seen || doc.Score > existing.Score {
			best[fileID] = Source{
				FileID:   fileID,
				Filename: doc.Metadata.Filename,
				Score:    doc.Score,
				Snippet:  snippet(doc.Content, 100),
			}
		}
	}

	sources := make([]Source, 0, len(order))
	for _, fileID := range order {
		sources = append(sources, best[fileID])
	}
	for i := 1; i < len(sources); i++ {
		for j := i; j > 0 && sources[j].Score > sources[j-1].Score; j-- {
			sources[j], sources[j-1] = sources[j-1], sources[j]
		}
	}
	if len(sources) > limit {
		sources = sources[:limit]
	}
	return sources
}

func snippet(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
