// Package tokenizer 提供 token 计数能力。
// 优先使用 tiktoken 精确计数，编码不可用时回落到启发式估算。
package tokenizer

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens in text.
type Estimator interface {
	Count(text string) int
	Name() string
}

// 模型到 tiktoken 编码的映射
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
	"text-embedding-ada-002": "cl100k_base",
}

func encodingFor(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	// 取最长前缀匹配，避免 gpt-4o-xxx 误落到 gpt-4
	best, bestEnc := 0, ""
	for prefix, enc := range modelEncodings {
		if len(prefix) > best && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			best, bestEnc = len(prefix), enc
		}
	}
	if bestEnc != "" {
		return bestEnc
	}
	return "cl100k_base"
}

// tiktokenEstimator 基于 tiktoken 的精确计数器，编码惰性初始化
type tiktokenEstimator struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

func (t *tiktokenEstimator) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *tiktokenEstimator) Count(text string) int {
	if err := t.init(); err != nil {
		return heuristicCount(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *tiktokenEstimator) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// heuristicCount 以字符数除 3 粗估 token 数，
// 对中英混合文本偏保守但量级正确。
func heuristicCount(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / 3
	if n < 1 {
		n = 1
	}
	return n
}

// HeuristicEstimator 无外部数据依赖的兜底估算器。
type HeuristicEstimator struct{}

func (HeuristicEstimator) Count(text string) int { return heuristicCount(text) }
func (HeuristicEstimator) Name() string          { return "heuristic" }

// ForModel 返回给定模型的计数器。
// 未知模型按前缀匹配编码，仍然失败时 Count 内部回落到启发式。
func ForModel(model string) Estimator {
	return &tiktokenEstimator{encoding: encodingFor(model)}
}
