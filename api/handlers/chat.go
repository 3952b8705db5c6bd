package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/rag"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// QueryService 问答编排接口，由 rag.Pipeline 实现
type QueryService interface {
	Ask(ctx context.Context, userID, question string) (*rag.QueryResult, error)
	AskStream(ctx context.Context, userID, question string) (<-chan rag.QueryEvent, error)
}

// ChatRequest 问答请求体
type ChatRequest struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
}

// ChatHandler 问答接口处理器
type ChatHandler struct {
	service QueryService
	logger  *zap.Logger
}

func NewChatHandler(service QueryService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger.With(zap.String("component", "chat_handler")),
	}
}

// HandleChat 处理同步问答请求
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}

	var req ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.validate(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	start := time.Now()
	result, err := h.service.Ask(r.Context(), req.UserID, req.Question)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	h.logger.Info("chat completed",
		zap.String("user_id", req.UserID),
		zap.String("outcome", string(result.Metrics.Outcome)),
		zap.Int("total_tokens", result.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, result)
}

// HandleStream 处理流式问答请求，以 SSE 推送增量与终端事件
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}

	var req ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.validate(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	events, err := h.service.AskStream(r.Context(), req.UserID, req.Question)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// 禁用 nginx 缓冲
	w.Header().Set("X-Accel-Buffering", "no")

	for ev := range events {
		switch {
		case ev.Err != nil:
			h.logger.Error("stream error",
				zap.String("user_id", req.UserID),
				zap.Error(ev.Err),
			)
			writeSSE(w, flusher, "error", map[string]string{
				"code":    string(ev.Err.Code),
				"message": ev.Err.Message,
			})
			return
		case ev.Done != nil:
			writeSSE(w, flusher, "done", ev.Done)
		default:
			writeSSE(w, flusher, "", map[string]string{"delta": ev.Delta})
		}
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func (h *ChatHandler) validate(req *ChatRequest) *types.Error {
	if strings.TrimSpace(req.Question) == "" {
		return types.NewError(types.ErrInvalidRequest, "question is required")
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}
	return nil
}

// writeSSE 写出单个 SSE 事件。event 为空时只写 data 行。
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if event != "" {
		w.Write([]byte("event: " + event + "\n"))
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}
