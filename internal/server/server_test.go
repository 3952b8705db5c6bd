package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
)

func testConfig() config.ServerConfig {
	cfg := config.Default().Server
	// 端口 0 由系统分配，避免测试间冲突
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestStartAndShutdown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s := New(mux, testConfig(), zap.NewNop())

	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))

	_, err = http.Get("http://" + s.Addr() + "/ping")
	assert.Error(t, err)
}

func TestStartTwiceFails(t *testing.T) {
	s := New(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, s.Start())
	defer s.Shutdown(context.Background())

	assert.Error(t, s.Start())
}

func TestShutdownIdempotent(t *testing.T) {
	s := New(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, s.Start())

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Error(t, s.Start())
}

func TestStartOnBusyPortFails(t *testing.T) {
	first := New(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	cfg := testConfig()
	cfg.Addr = first.Addr()
	second := New(http.NewServeMux(), cfg, zap.NewNop())
	assert.Error(t, second.Start())
}
