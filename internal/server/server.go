// Package server 管理 HTTP 服务的生命周期：非阻塞启动、信号等待、
// 优雅关闭。
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
)

// Server 包装 http.Server，补充错误通道与幂等关闭
type Server struct {
	srv      *http.Server
	listener net.Listener
	errCh    chan error
	shutdown time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

// New 从 ServerConfig 构建服务。IdleTimeout 取读超时的两倍。
func New(handler http.Handler, cfg config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    2 * cfg.ReadTimeout,
			MaxHeaderBytes: 1 << 20,
		},
		errCh:    make(chan error, 1),
		shutdown: cfg.ShutdownTimeout,
		logger:   logger.With(zap.String("component", "http_server")),
	}
}

// Start 启动服务（非阻塞）
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("server is closed")
	}
	if s.listener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	s.listener = listener

	s.logger.Info("starting HTTP server", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Shutdown 优雅关闭，等待在途请求至多 shutdown_timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdown)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	s.listener = nil
	s.logger.Info("HTTP server stopped")
	return nil
}

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM 或服务异常退出，
// 然后执行优雅关闭
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-s.errCh:
		if err != nil {
			s.logger.Error("server exited unexpectedly", zap.Error(err))
		}
	}

	if err := s.Shutdown(context.Background()); err != nil {
		s.logger.Error("shutdown error", zap.Error(err))
	}
}

// Addr 返回实际监听地址，端口 0 时为系统分配后的地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

// Errors 返回异步服务错误通道
func (s *Server) Errors() <-chan error {
	return s.errCh
}
