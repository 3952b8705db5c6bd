package rag

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/internal/cache"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// VectorIndex 入库侧的向量库操作
type VectorIndex interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []Point) error
	DeleteBySource(ctx context.Context, sourceID string) (int, error)
}

// Document 待入库的文档。Text 与 Sections 二选一：
// Sections 非空时按章节切块并保留章节路径。
type Document struct {
	FileID   string
	Filename string
	FileType string
	FileSize int64
	Text     string
	Sections []Section
	Extra    map[string]string
}

// Indexer 文档入库器：切块、嵌入、写入向量库，并在写入后
// 使检索缓存失效
type Indexer struct {
	chunker  *Chunker
	embedder *Embedder
	store    VectorIndex
	cache    cache.Cache
	logger   *zap.Logger
}

func NewIndexer(chunker *Chunker, embedder *Embedder, store VectorIndex, c cache.Cache, logger *zap.Logger) *Indexer {
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		cache:    c,
		logger:   logger.With(zap.String("component", "indexer")),
	}
}

// IndexDocument 全量入库一个文档，返回写入的块数与嵌入用量。
// 同一文档重复入库是幂等的：点 ID 由 source 与块下标派生。
func (i *Indexer) IndexDocument(ctx context.Context, doc Document) (int, types.TokenUsage, error) {
	if doc.FileID == "" {
		return 0, types.TokenUsage{}, types.NewError(types.ErrInvalidRequest, "document file_id is required")
	}

	var chunks []Chunk
	if len(doc.Sections) > 0 {
		chunks = i.chunker.ChunkSections(doc.Sections, doc.FileID)
	} else {
		chunks = i.chunker.Chunk(doc.Text, doc.FileID)
	}
	if len(chunks) == 0 {
		i.logger.Warn("文档切块后为空，跳过入库", zap.String("file_id", doc.FileID))
		return 0, types.TokenUsage{}, nil
	}

	texts := make([]string, len(chunks))
	for idx, chunk := range chunks {
		texts[idx] = chunk.Text
	}
	vectors, usage, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, usage, err
	}

	if err := i.store.EnsureCollection(ctx, i.embedder.Dimensions()); err != nil {
		return 0, usage, err
	}

	uploadTime := time.Now()
	points := make([]Point, len(chunks))
	for idx, chunk := range chunks {
		points[idx] = Point{
			SourceID:   doc.FileID,
			ChunkIndex: chunk.Index,
			Vector:     vectors[idx],
			Content:    chunk.Text,
			Metadata: Metadata{
				FileID:       doc.FileID,
				Filename:     doc.Filename,
				FileType:     doc.FileType,
				FileSize:     doc.FileSize,
				ChunkIndex:   chunk.Index,
				TotalChunks:  len(chunks),
				SectionPath:  chunk.SectionPath,
				HeadingLevel: chunk.HeadingLevel,
				UploadTime:   uploadTime,
				Extra:        doc.Extra,
			},
		}
	}
	if err := i.store.Upsert(ctx, points); err != nil {
		return 0, usage, err
	}

	i.invalidateSearchCache(ctx)
	i.logger.Info("文档入库完成",
		zap.String("file_id", doc.FileID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(points)),
		zap.Int("embedding_tokens", usage.TotalTokens),
	)
	return len(points), usage, nil
}

// ReplaceDocument 先删后写，保证旧版本的多余块不会残留
func (i *Indexer) ReplaceDocument(ctx context.Context, doc Document) (int, types.TokenUsage, error) {
	if _, err := i.DeleteSource(ctx, doc.FileID); err != nil {
		return 0, types.TokenUsage{}, err
	}
	return i.IndexDocument(ctx, doc)
}

// DeleteSource 删除一个文档的全部块，返回删除的点数
func (i *Indexer) DeleteSource(ctx context.Context, fileID string) (int, error) {
	if fileID == "" {
		return 0, types.NewError(types.ErrInvalidRequest, "file_id is required")
	}
	deleted, err := i.store.DeleteBySource(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		i.invalidateSearchCache(ctx)
	}
	i.logger.Info("文档已删除",
		zap.String("file_id", fileID),
		zap.Int("points", deleted),
	)
	return deleted, nil
}

// invalidateSearchCache 库内容变化后旧的检索结果即失效
func (i *Indexer) invalidateSearchCache(ctx context.Context) {
	if i.cache == nil {
		return
	}
	i.cache.Clear(ctx, searchCachePrefix)
}
