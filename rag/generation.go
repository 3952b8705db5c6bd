package rag

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
	"github.com/heyemlee/ai-knowledgehub/llm"
	"github.com/heyemlee/ai-knowledgehub/llm/retry"
	"github.com/heyemlee/ai-knowledgehub/llm/tokenizer"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// EventKind 流式生成的事件类别
type EventKind string

const (
	// EventDelta 增量文本
	EventDelta EventKind = "delta"
	// EventUsage 终端用量事件，流正常结束的标志
	EventUsage EventKind = "usage"
	// EventError 终端错误事件，部分答案不得当作完整答案
	EventError EventKind = "error"
)

// StreamEvent 流式生成的单个事件，按 Kind 三选一
type StreamEvent struct {
	Kind  EventKind        `json:"kind"`
	Delta string           `json:"delta,omitempty"`
	Usage types.TokenUsage `json:"usage,omitempty"`
	Err   *types.Error     `json:"error,omitempty"`
}

// Generator 生成网关。按问题语言选择提示词模板，
// 支持同步与流式两种模式，并保证用量事件可用。
type Generator struct {
	provider  llm.Provider
	cfg       config.GenerationConfig
	model     string
	kwModel   string
	retryer   *retry.Retryer
	estimator tokenizer.Estimator
	logger    *zap.Logger
}

// NewGenerator 创建生成网关
func NewGenerator(provider llm.Provider, genCfg config.GenerationConfig, openaiCfg config.OpenAIConfig, retryer *retry.Retryer, logger *zap.Logger) *Generator {
	kwModel := openaiCfg.KeywordModel
	if kwModel == "" {
		kwModel = openaiCfg.Model
	}
	return &Generator{
		provider:  provider,
		cfg:       genCfg,
		model:     openaiCfg.Model,
		kwModel:   kwModel,
		retryer:   retryer,
		estimator: tokenizer.ForModel(openaiCfg.Model),
		logger:    logger.With(zap.String("component", "generator")),
	}
}

func (g *Generator) buildMessages(question string, docs []RetrievedDocument, lang Language) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt(lang)},
		{Role: llm.RoleUser, Content: BuildPrompt(question, docs, lang)},
	}
}

// Generate 同步生成答案。Provider 未报告用量时退回确定性估算。
func (g *Generator) Generate(ctx context.Context, question string, docs []RetrievedDocument) (string, types.TokenUsage, error) {
	lang := DetectLanguage(question)
	messages := g.buildMessages(question, docs, lang)
	req := &llm.ChatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}

	var resp *llm.ChatResponse
	err := g.retryer.Do(ctx, "generate", func() error {
		var callErr error
		resp, callErr = g.provider.Completion(ctx, req)
		return callErr
	})
	if err != nil {
		return "", types.TokenUsage{}, err
	}

	answer := resp.Text()
	var usage types.TokenUsage
	if resp.Usage != nil {
		usage = resp.Usage.TokenUsage()
	} else {
		usage = g.estimateUsage(messages, answer)
	}
	return answer, usage, nil
}

// GenerateStream 流式生成。增量立即转发给调用方；内部累积全文，
// 流结束而 Provider 未报用量时补上估算值。流中断（未见终止标志
// 且无用量）转为终端错误事件，调用方不得把部分答案当作完整答案。
func (g *Generator) GenerateStream(ctx context.Context, question string, docs []RetrievedDocument) (<-chan StreamEvent, error) {
	lang := DetectLanguage(question)
	messages := g.buildMessages(question, docs, lang)
	req := &llm.ChatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}

	// 重试只覆盖建流，流中错误原样转发
	var upstream <-chan llm.StreamChunk
	err := g.retryer.Do(ctx, "generate_stream", func() error {
		var callErr error
		upstream, callErr = g.provider.Stream(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)

		var answer strings.Builder
		var providerUsage *types.TokenUsage
		sawFinish := false

		for chunk := range upstream {
			if chunk.Err != nil {
				g.emit(ctx, out, StreamEvent{Kind: EventError, Err: chunk.Err})
				return
			}
			if chunk.Usage != nil {
				u := chunk.Usage.TokenUsage()
				providerUsage = &u
				continue
			}
			if chunk.FinishReason != "" {
				sawFinish = true
			}
			if chunk.Delta.Content == "" {
				continue
			}
			answer.WriteString(chunk.Delta.Content)
			if !g.emit(ctx, out, StreamEvent{Kind: EventDelta, Delta: chunk.Delta.Content}) {
				return
			}
		}

		if ctx.Err() != nil {
			// 取消后的用量只能是部分估算，明确标记
			usage := g.estimateUsage(messages, answer.String())
			usage.Partial = true
			g.emit(ctx, out, StreamEvent{Kind: EventUsage, Usage: usage})
			return
		}

		if providerUsage != nil {
			g.emit(ctx, out, StreamEvent{Kind: EventUsage, Usage: *providerUsage})
			return
		}
		if sawFinish {
			g.emit(ctx, out, StreamEvent{Kind: EventUsage, Usage: g.estimateUsage(messages, answer.String())})
			return
		}

		// 流在终止标志之前就断了
		g.emit(ctx, out, StreamEvent{
			Kind: EventError,
			Err:  types.NewError(types.ErrGenerationInterrupted, "stream ended before completion").WithProvider(g.provider.Name()),
		})
	}()
	return out, nil
}

// emit 尝试投递事件；调用方已取消时放弃投递并返回 false
func (g *Generator) emit(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// estimateUsage 确定性用量估算，Provider 缺报时兜底
func (g *Generator) estimateUsage(messages []llm.Message, answer string) types.TokenUsage {
	prompt := 0
	for _, m := range messages {
		prompt += g.estimator.Count(m.Content)
	}
	completion := g.estimator.Count(answer)
	return types.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// ExtractKeywords 用小模型从问题中提取 1-N 个检索关键词。
// 提取失败时降级为原问题，绝不让关键词环节拖垮查询。
func (g *Generator) ExtractKeywords(ctx context.Context, question string) []string {
	lang := DetectLanguage(question)
	req := &llm.ChatRequest{
		Model: g.kwModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: KeywordSystemPrompt(lang)},
			{Role: llm.RoleUser, Content: KeywordPrompt(question, g.cfg.MaxKeywords, lang)},
		},
		Temperature: g.cfg.KeywordTemperature,
		MaxTokens:   g.cfg.KeywordMaxTokens,
	}

	resp, err := g.provider.Completion(ctx, req)
	if err != nil {
		g.logger.Warn("关键词提取失败，降级为原问题",
			zap.String("question", question),
			zap.Error(err),
		)
		return []string{question}
	}

	keywords := parseKeywords(resp.Text(), g.cfg.MaxKeywords)
	if len(keywords) == 0 {
		return []string{question}
	}
	return keywords
}

// parseKeywords 解析逗号（中英文）分隔的关键词列表
func parseKeywords(text string, max int) []string {
	text = strings.TrimSpace(text)
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '，' || r == '、' || r == '\n'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) >= max {
			break
		}
	}
	return out
}
