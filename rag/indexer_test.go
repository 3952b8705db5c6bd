package rag

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
	"github.com/heyemlee/ai-knowledgehub/internal/cache"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// fakeIndex 记录入库侧操作
type fakeIndex struct {
	ensuredDim int
	upserts    [][]Point
	deleted    []string
	deleteN    int
	upsertErr  error
}

func (f *fakeIndex) EnsureCollection(ctx context.Context, dimension int) error {
	f.ensuredDim = dimension
	return nil
}

func (f *fakeIndex) Upsert(ctx context.Context, points []Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, append([]Point(nil), points...))
	return nil
}

func (f *fakeIndex) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	f.deleted = append(f.deleted, sourceID)
	return f.deleteN, nil
}

func newTestIndexer(store *fakeIndex, c cache.Cache) *Indexer {
	cfg := config.Default().Chunking
	cfg.Size = 50
	cfg.Overlap = 10
	chunker := NewChunker(cfg, zap.NewNop())
	embedder := newTestEmbedder(&fakeEmbeddingProvider{})
	return NewIndexer(chunker, embedder, store, c, zap.NewNop())
}

func TestIndexDocument(t *testing.T) {
	store := &fakeIndex{}
	idx := newTestIndexer(store, nil)

	text := strings.Repeat("知识库条目。", 20)
	n, usage, err := idx.IndexDocument(context.Background(), Document{
		FileID:   "f1",
		Filename: "manual.md",
		FileType: "markdown",
		Text:     text,
	})
	require.NoError(t, err)
	assert.Greater(t, n, 1)
	assert.Positive(t, usage.TotalTokens)
	assert.Equal(t, 1, store.ensuredDim)

	require.Len(t, store.upserts, 1)
	points := store.upserts[0]
	require.Len(t, points, n)
	assert.Equal(t, "f1", points[0].SourceID)
	assert.Equal(t, 0, points[0].Metadata.ChunkIndex)
	assert.Equal(t, n, points[0].Metadata.TotalChunks)
	assert.Equal(t, "manual.md", points[0].Metadata.Filename)
	assert.NotEmpty(t, points[0].Vector)
}

func TestIndexDocumentSections(t *testing.T) {
	store := &fakeIndex{}
	idx := newTestIndexer(store, nil)

	_, _, err := idx.IndexDocument(context.Background(), Document{
		FileID:   "f1",
		Filename: "manual.md",
		Sections: []Section{
			{Path: "介绍", HeadingLevel: 1, Body: "第一节内容。"},
			{Path: "介绍/安装", HeadingLevel: 2, Body: "第二节内容。"},
		},
	})
	require.NoError(t, err)

	points := store.upserts[0]
	require.Len(t, points, 2)
	assert.Equal(t, "介绍", points[0].Metadata.SectionPath)
	assert.Equal(t, "介绍/安装", points[1].Metadata.SectionPath)
	assert.Equal(t, 1, points[1].ChunkIndex)
}

func TestIndexDocumentEmptyText(t *testing.T) {
	store := &fakeIndex{}
	idx := newTestIndexer(store, nil)

	n, usage, err := idx.IndexDocument(context.Background(), Document{FileID: "f1", Text: "   "})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, usage.IsZero())
	assert.Empty(t, store.upserts)
}

func TestIndexDocumentRequiresFileID(t *testing.T) {
	idx := newTestIndexer(&fakeIndex{}, nil)

	_, _, err := idx.IndexDocument(context.Background(), Document{Text: "content"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestIndexInvalidatesSearchCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(100, zap.NewNop())
	c.Set(ctx, "search:stale", "old", time.Hour)
	c.Set(ctx, "embedding:keep", "vec", time.Hour)

	store := &fakeIndex{}
	idx := newTestIndexer(store, c)

	_, _, err := idx.IndexDocument(ctx, Document{FileID: "f1", Text: "新的知识库内容。"})
	require.NoError(t, err)

	var got string
	assert.False(t, c.Get(ctx, "search:stale", &got))
	assert.True(t, c.Get(ctx, "embedding:keep", &got))
}

func TestDeleteSource(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(100, zap.NewNop())
	c.Set(ctx, "search:stale", "old", time.Hour)

	store := &fakeIndex{deleteN: 4}
	idx := newTestIndexer(store, c)

	n, err := idx.DeleteSource(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"f1"}, store.deleted)

	var got string
	assert.False(t, c.Get(ctx, "search:stale", &got))
}

func TestDeleteSourceNoMatchesKeepsCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(100, zap.NewNop())
	c.Set(ctx, "search:live", "fresh", time.Hour)

	idx := newTestIndexer(&fakeIndex{deleteN: 0}, c)

	n, err := idx.DeleteSource(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	var got string
	assert.True(t, c.Get(ctx, "search:live", &got))
}

func TestReplaceDocumentDeletesFirst(t *testing.T) {
	store := &fakeIndex{deleteN: 2}
	idx := newTestIndexer(store, nil)

	n, _, err := idx.ReplaceDocument(context.Background(), Document{FileID: "f1", Text: "替换后的内容。"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, store.deleted)
	assert.Positive(t, n)
}
