package rag

import (
	"strings"

	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
)

// Chunker 边界感知的重叠切块器。
// 在窗口尾部优先寻找段落、换行、标点等自然边界，
// 避免把句子从中间切开。
type Chunker struct {
	cfg    config.ChunkingConfig
	logger *zap.Logger
}

// NewChunker 创建切块器
func NewChunker(cfg config.ChunkingConfig, logger *zap.Logger) *Chunker {
	return &Chunker{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "chunker")),
	}
}

// 结构化标点：冒号与分号
const structuralPunct = "：:；;"

// 句末标点
const sentencePunct = "。！？.!?"

// Chunk 将 text 切为重叠的块。空输入返回空列表；
// 不足一个窗口的输入恰好产出一块。
func (c *Chunker) Chunk(text, sourceID string) []Chunk {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	size := c.cfg.Size
	overlap := c.cfg.Overlap

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.findSplit(runes, start, end)
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, Chunk{
				Text:     piece,
				SourceID: sourceID,
				Index:    len(chunks),
			})
		}

		if end >= len(runes) {
			break
		}

		next := end - overlap
		// 重叠过大时强制前进，保证终止
		if next <= start {
			next = start + 1
		}
		start = next
	}

	c.logger.Debug("切块完成",
		zap.String("source_id", sourceID),
		zap.Int("chunks", len(chunks)),
		zap.Int("size", size),
		zap.Int("overlap", overlap),
	)
	return chunks
}

// findSplit 在 [start, end) 窗口内选择切点。
// 优先级：段落边界 > 窗口尾部的换行 > 结构化标点 > 句末标点。
// 切点必须越过窗口的 MinSplitRatio，否则按 end 硬切，防止碎块。
func (c *Chunker) findSplit(runes []rune, start, end int) int {
	window := runes[start:end]
	n := len(window)
	minSplit := start + int(float64(n)*c.cfg.MinSplitRatio)

	// 段落边界：窗口内最后一个空行
	if idx := lastIndexOf(window, "\n\n"); idx >= 0 {
		split := start + idx + 2
		if split > minSplit {
			return split
		}
	}

	// 换行：需落在窗口的后段
	newlineFrom := int(float64(n) * c.cfg.NewlineThreshold)
	for i := n - 1; i >= newlineFrom; i-- {
		if window[i] == '\n' {
			split := start + i + 1
			if split > minSplit {
				return split
			}
			break
		}
	}

	// 结构化标点：冒号、分号，只看窗口最尾部
	punctFrom := int(float64(n) * c.cfg.PunctuationThreshold)
	for i := n - 1; i >= punctFrom; i-- {
		if strings.ContainsRune(structuralPunct, window[i]) {
			split := start + i + 1
			if split > minSplit {
				return split
			}
			break
		}
	}

	// 句末标点
	sentenceFrom := int(float64(n) * c.cfg.SentenceThreshold)
	for i := n - 1; i >= sentenceFrom; i-- {
		if strings.ContainsRune(sentencePunct, window[i]) {
			split := start + i + 1
			if split > minSplit {
				return split
			}
			break
		}
	}

	return end
}

// lastIndexOf 返回 sep 在 window 中最后一次出现的 rune 下标，不存在时返回 -1
func lastIndexOf(window []rune, sep string) int {
	s := string(window)
	byteIdx := strings.LastIndex(s, sep)
	if byteIdx < 0 {
		return -1
	}
	return len([]rune(s[:byteIdx]))
}

// ChunkSections 结构化切块：逐节切块并附带章节路径，
// 块下标跨节连续递增。
func (c *Chunker) ChunkSections(sections []Section, sourceID string) []Chunk {
	var chunks []Chunk
	for _, sec := range sections {
		for _, chunk := range c.Chunk(sec.Body, sourceID) {
			chunk.Index = len(chunks)
			chunk.SectionPath = sec.Path
			chunk.HeadingLevel = sec.HeadingLevel
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
