package rag

import "time"

// Chunk 切块产物，入库前的最小单元
type Chunk struct {
	Text     string `json:"text"`
	SourceID string `json:"source_id"`
	Index    int    `json:"index"`

	// SectionPath 所属章节路径，来自结构化切块
	SectionPath  string `json:"section_path,omitempty"`
	HeadingLevel int    `json:"heading_level,omitempty"`
}

// Section 结构化切块的输入单元：标题 + 正文
type Section struct {
	Path         string `json:"path"`
	HeadingLevel int    `json:"heading_level"`
	Body         string `json:"body"`
}

// Metadata 入库点的负载。引擎实际读取的字段有固定 schema，
// 其余透传字段放入 Extra。
type Metadata struct {
	FileID       string    `json:"file_id"`
	Filename     string    `json:"filename"`
	FileType     string    `json:"file_type,omitempty"`
	FileSize     int64     `json:"file_size,omitempty"`
	ChunkIndex   int       `json:"chunk_index"`
	TotalChunks  int       `json:"total_chunks"`
	SectionPath  string    `json:"section_path,omitempty"`
	HeadingLevel int       `json:"heading_level,omitempty"`
	UploadTime   time.Time `json:"upload_time,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// RetrievedDocument 单条检索结果，按查询生成，不持久化
type RetrievedDocument struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Score    float64  `json:"score"`

	// 关键词重排注记
	HasExactMatch     bool `json:"has_exact_match"`
	KeywordMatchCount int  `json:"keyword_match_count"`
}

// Source 答案引用的来源摘要
type Source struct {
	FileID   string  `json:"file_id"`
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet,omitempty"`
}

// RetrievalOutcome 检索结果的三种形态
type RetrievalOutcome string

const (
	// OutcomeFound 主检索即满足最少文档数
	OutcomeFound RetrievalOutcome = "found"
	// OutcomeDegraded 经降级加宽后仍不足最少文档数，但有部分结果
	OutcomeDegraded RetrievalOutcome = "degraded"
	// OutcomeEmpty 降级加宽后仍无任何结果
	OutcomeEmpty RetrievalOutcome = "empty"
)

// RetrievalResult 显式的检索结果变体，调用方按 Outcome 分支，
// 降级不是错误。
type RetrievalResult struct {
	Outcome   RetrievalOutcome    `json:"outcome"`
	Documents []RetrievedDocument `json:"documents"`
	// Reason 降级原因，仅 Outcome 为 degraded 时非空
	Reason string `json:"reason,omitempty"`
}

// QueryMetrics 单次查询的阶段耗时与文档计数
type QueryMetrics struct {
	EmbeddingTime  time.Duration `json:"embedding_time"`
	RetrievalTime  time.Duration `json:"retrieval_time"`
	RerankTime     time.Duration `json:"rerank_time"`
	GenerationTime time.Duration `json:"generation_time"`
	TotalTime      time.Duration `json:"total_time"`

	// DocumentsRetrieved 去重重排后、截断前的候选数；
	// DocumentsUsed 实际进入上下文的文档数
	DocumentsRetrieved int              `json:"documents_retrieved"`
	DocumentsUsed      int              `json:"documents_used"`
	UsedFallback       bool             `json:"used_fallback"`
	Outcome            RetrievalOutcome `json:"outcome"`
}
