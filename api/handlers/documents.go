package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/rag"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// IndexService 文档入库接口，由 rag.Indexer 实现
type IndexService interface {
	IndexDocument(ctx context.Context, doc rag.Document) (int, types.TokenUsage, error)
	ReplaceDocument(ctx context.Context, doc rag.Document) (int, types.TokenUsage, error)
	DeleteSource(ctx context.Context, fileID string) (int, error)
}

// IndexRequest 文档入库请求体
type IndexRequest struct {
	FileID   string            `json:"file_id"`
	Filename string            `json:"filename"`
	FileType string            `json:"file_type,omitempty"`
	FileSize int64             `json:"file_size,omitempty"`
	Text     string            `json:"text,omitempty"`
	Sections []rag.Section     `json:"sections,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`

	// Replace 为 true 时先删除旧版本再入库
	Replace bool `json:"replace,omitempty"`
}

// IndexResponse 文档入库结果
type IndexResponse struct {
	FileID          string `json:"file_id"`
	Chunks          int    `json:"chunks"`
	EmbeddingTokens int    `json:"embedding_tokens"`
}

// DeleteResponse 文档删除结果
type DeleteResponse struct {
	FileID  string `json:"file_id"`
	Deleted int    `json:"deleted"`
}

// DocumentHandler 文档管理接口处理器
type DocumentHandler struct {
	service IndexService
	logger  *zap.Logger
}

func NewDocumentHandler(service IndexService, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		logger:  logger.With(zap.String("component", "document_handler")),
	}
}

// HandleDocuments 按方法分发：POST 入库，DELETE 删除
func (h *DocumentHandler) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleIndex(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		err := types.NewError(types.ErrInvalidRequest, "method not allowed").
			WithHTTPStatus(http.StatusMethodNotAllowed)
		WriteError(w, err, h.logger)
	}
}

func (h *DocumentHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.FileID) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "file_id is required"), h.logger)
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Sections) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "text or sections is required"), h.logger)
		return
	}

	doc := rag.Document{
		FileID:   req.FileID,
		Filename: req.Filename,
		FileType: req.FileType,
		FileSize: req.FileSize,
		Text:     req.Text,
		Sections: req.Sections,
		Extra:    req.Extra,
	}

	start := time.Now()
	var (
		chunks int
		usage  types.TokenUsage
		err    error
	)
	if req.Replace {
		chunks, usage, err = h.service.ReplaceDocument(r.Context(), doc)
	} else {
		chunks, usage, err = h.service.IndexDocument(r.Context(), doc)
	}
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	h.logger.Info("document indexed",
		zap.String("file_id", req.FileID),
		zap.Int("chunks", chunks),
		zap.Bool("replace", req.Replace),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, IndexResponse{
		FileID:          req.FileID,
		Chunks:          chunks,
		EmbeddingTokens: usage.TotalTokens,
	})
}

func (h *DocumentHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "file_id query parameter is required"), h.logger)
		return
	}

	deleted, err := h.service.DeleteSource(r.Context(), fileID)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, DeleteResponse{FileID: fileID, Deleted: deleted})
}
