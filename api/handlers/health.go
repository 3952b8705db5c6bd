package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

// CheckFunc 单个依赖的就绪检查
type CheckFunc func(ctx context.Context) error

// HealthHandler 健康检查处理器。liveness 永远返回 200，
// readiness 逐个执行注册的依赖检查。
type HealthHandler struct {
	checks map[string]CheckFunc
	logger *zap.Logger
}

func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]CheckFunc),
		logger: logger.With(zap.String("component", "health_handler")),
	}
}

// RegisterCheck 注册一个命名的就绪检查
func (h *HealthHandler) RegisterCheck(name string, check CheckFunc) {
	h.checks[name] = check
}

// HandleHealthz 存活检查
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady 就绪检查：任一依赖不可用时返回 503
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	type checkResult struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	results := make([]checkResult, 0, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		result := checkResult{Name: name, Status: "ok"}
		if err := check(ctx); err != nil {
			result.Status = "unavailable"
			result.Error = err.Error()
			healthy = false
			h.logger.Warn("readiness check failed",
				zap.String("check", name),
				zap.Error(err),
			)
		}
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := http.StatusOK
	overall := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	WriteJSON(w, status, map[string]any{
		"status": overall,
		"checks": results,
	})
}

// HandleVersion 返回构建信息
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}
