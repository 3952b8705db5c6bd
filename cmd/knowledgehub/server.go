package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/api/handlers"
	"github.com/heyemlee/ai-knowledgehub/config"
	"github.com/heyemlee/ai-knowledgehub/internal/accounting"
	"github.com/heyemlee/ai-knowledgehub/internal/cache"
	"github.com/heyemlee/ai-knowledgehub/internal/metrics"
	"github.com/heyemlee/ai-knowledgehub/internal/server"
	"github.com/heyemlee/ai-knowledgehub/llm"
	"github.com/heyemlee/ai-knowledgehub/llm/embedding"
	"github.com/heyemlee/ai-knowledgehub/llm/retry"
	"github.com/heyemlee/ai-knowledgehub/rag"
)

// Server 组装全部组件并托管 HTTP 生命周期
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpServer *server.Server
	recorder   *accounting.Recorder

	healthHandler   *handlers.HealthHandler
	chatHandler     *handlers.ChatHandler
	documentHandler *handlers.DocumentHandler

	rateLimiterCancel context.CancelFunc
}

func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start 初始化组件并启动 HTTP 服务（非阻塞）。
// 开发模式下缺失 OpenAI 凭证时服务降级运行，问答与入库接口关闭。
func (s *Server) Start() error {
	ctx := context.Background()

	collector := metrics.NewCollector("knowledgehub", nil)
	c := cache.New(ctx, s.cfg.Redis, s.cfg.Cache, s.logger)
	s.logger.Info("cache backend selected", zap.String("backend", c.Name()))

	connectRetry := retry.NewRetryer(retry.FromProfile(s.cfg.Retry.StoreConnect), s.logger)
	opRetry := retry.NewRetryer(retry.FromProfile(s.cfg.Retry.StoreOperation), s.logger)
	providerRetry := retry.NewRetryer(retry.FromProfile(s.cfg.Retry.Provider), s.logger)

	store := rag.NewQdrantStore(s.cfg.Qdrant, s.cfg.IsProduction(), connectRetry, opRetry, s.logger)

	recorder, err := accounting.NewRecorder(s.cfg.Accounting.Path, s.logger)
	if err != nil {
		return fmt.Errorf("open accounting store: %w", err)
	}
	s.recorder = recorder

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck("qdrant", func(ctx context.Context) error {
		_, err := store.Count(ctx)
		return err
	})

	if err := s.initRAG(ctx, c, store, collector, providerRetry); err != nil {
		if s.cfg.IsProduction() {
			return err
		}
		s.logger.Warn("RAG components unavailable, query endpoints disabled", zap.Error(err))
	}

	handler := s.buildRoutes()
	s.httpServer = server.New(handler, s.cfg.Server, s.logger)
	if err := s.httpServer.Start(); err != nil {
		return err
	}

	s.logger.Info("server started", zap.String("addr", s.cfg.Server.Addr))
	return nil
}

// initRAG 组装问答与入库链路
func (s *Server) initRAG(ctx context.Context, c cache.Cache, store *rag.QdrantStore, collector *metrics.Collector, providerRetry *retry.Retryer) error {
	embedProvider, err := embedding.NewOpenAIProvider(s.cfg.OpenAI, s.logger)
	if err != nil {
		return err
	}
	chatProvider, err := llm.NewOpenAIProvider(s.cfg.OpenAI, s.logger)
	if err != nil {
		return err
	}

	embedder := rag.NewEmbedder(embedProvider, c, providerRetry, s.cfg.Cache.EmbeddingTTL, collector, s.logger)
	retriever := rag.NewRetriever(store, c, s.cfg.Search, s.cfg.Cache.SearchTTL, collector, s.logger)
	generator := rag.NewGenerator(chatProvider, s.cfg.Generation, s.cfg.OpenAI, providerRetry, s.logger)
	pipeline := rag.NewPipeline(embedder, retriever, generator, s.cfg.Search, s.recorder, collector, s.logger)

	chunker := rag.NewChunker(s.cfg.Chunking, s.logger)
	indexer := rag.NewIndexer(chunker, embedder, store, c, s.logger)

	// 启动时校验集合存在且维度一致；生产模式下不一致即失败
	if err := store.EnsureCollection(ctx, embedder.Dimensions()); err != nil {
		if s.cfg.IsProduction() {
			return err
		}
		s.logger.Warn("vector collection not ready", zap.Error(err))
	}

	s.chatHandler = handlers.NewChatHandler(pipeline, s.logger)
	s.documentHandler = handlers.NewDocumentHandler(indexer, s.logger)
	return nil
}

// buildRoutes 注册路由并套上中间件链
func (s *Server) buildRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("/metrics", promhttp.Handler())

	if s.chatHandler != nil {
		mux.HandleFunc("/api/v1/chat", s.chatHandler.HandleChat)
		mux.HandleFunc("/api/v1/chat/stream", s.chatHandler.HandleStream)
	}
	if s.documentHandler != nil {
		mux.HandleFunc("/api/v1/documents", s.documentHandler.HandleDocuments)
	}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		rlCtx, cancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = cancel
		middlewares = append(middlewares, RateLimiter(rlCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	return Chain(mux, middlewares...)
}

// WaitForShutdown 阻塞至收到关闭信号，然后清理资源
func (s *Server) WaitForShutdown() {
	if s.httpServer != nil {
		s.httpServer.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 关闭所有组件
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.logger.Error("accounting store close error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
