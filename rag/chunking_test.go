package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/heyemlee/ai-knowledgehub/config"
)

func testChunker(size, overlap int) *Chunker {
	cfg := config.Default().Chunking
	cfg.Size = size
	cfg.Overlap = overlap
	return NewChunker(cfg, zap.NewNop())
}

func TestChunkEmptyInput(t *testing.T) {
	c := testChunker(100, 20)
	assert.Empty(t, c.Chunk("", "f1"))
	assert.Empty(t, c.Chunk("   \n\t  ", "f1"))
}

func TestChunkShortInput(t *testing.T) {
	c := testChunker(100, 20)
	chunks := c.Chunk("  hello world  ", "f1")
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, "f1", chunks[0].SourceID)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestChunkPrefersParagraphBoundary(t *testing.T) {
	c := testChunker(100, 10)
	// 段落边界位于窗口 80% 处，应在此切开
	first := strings.Repeat("a", 80)
	second := strings.Repeat("b", 80)
	chunks := c.Chunk(first+"\n\n"+second, "f1")
	require.True(t, len(chunks) >= 2)
	assert.Equal(t, first, chunks[0].Text)
}

func TestChunkSentenceBoundary(t *testing.T) {
	c := testChunker(100, 10)
	// 句号位于窗口 90% 处，落在句末切点区间内
	first := strings.Repeat("一", 89) + "。"
	second := strings.Repeat("二", 60)
	chunks := c.Chunk(first+second, "f1")
	require.True(t, len(chunks) >= 2)
	assert.Equal(t, first, chunks[0].Text)
}

func TestChunkIgnoresEarlyBoundary(t *testing.T) {
	c := testChunker(100, 10)
	// 唯一的换行位于窗口 20% 处，不满足最小切点比例，应硬切
	text := strings.Repeat("a", 20) + "\n" + strings.Repeat("b", 200)
	chunks := c.Chunk(text, "f1")
	require.True(t, len(chunks) >= 2)
	assert.Equal(t, 100, len([]rune(chunks[0].Text)))
}

func TestChunkOverlap(t *testing.T) {
	c := testChunker(50, 10)
	text := strings.Repeat("x", 120)
	chunks := c.Chunk(text, "f1")
	require.True(t, len(chunks) >= 2)
	// 相邻块共享结尾与开头
	tail := chunks[0].Text[len(chunks[0].Text)-10:]
	assert.Equal(t, tail, chunks[1].Text[:10])
}

func TestChunkSections(t *testing.T) {
	c := testChunker(100, 20)
	sections := []Section{
		{Path: "介绍", HeadingLevel: 1, Body: "第一节的内容。"},
		{Path: "介绍/安装", HeadingLevel: 2, Body: "第二节的内容。"},
	}
	chunks := c.ChunkSections(sections, "f1")
	require.Len(t, chunks, 2)
	assert.Equal(t, "介绍", chunks[0].SectionPath)
	assert.Equal(t, 1, chunks[0].HeadingLevel)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "介绍/安装", chunks[1].SectionPath)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestChunkProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(10, 200).Draw(t, "size")
		overlap := rapid.IntRange(1, size-1).Draw(t, "overlap")
		text := rapid.StringN(0, 2000, -1).Draw(t, "text")

		c := testChunker(size, overlap)
		chunks := c.Chunk(text, "f1")

		for i, chunk := range chunks {
			// 块非空且无纯空白
			assert.NotEmpty(t, strings.TrimSpace(chunk.Text))
			// 下标单调递增
			assert.Equal(t, i, chunk.Index)
		}

		trimmed := strings.TrimSpace(text)
		if trimmed != "" && len([]rune(trimmed)) <= size {
			require.Len(t, chunks, 1)
			assert.Equal(t, trimmed, chunks[0].Text)
		}
	})
}
