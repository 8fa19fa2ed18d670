// cmd/server — 会话编排核心的 HTTP/WebSocket 服务入口。
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentchat/go-chat-core/internal/config"
	"github.com/agentchat/go-chat-core/internal/coordinator"
	"github.com/agentchat/go-chat-core/internal/database"
	"github.com/agentchat/go-chat-core/internal/session"
	"github.com/agentchat/go-chat-core/internal/upstream"
	"github.com/agentchat/go-chat-core/internal/webapi"
	"github.com/agentchat/go-chat-core/pkg/logger"
	"github.com/agentchat/go-chat-core/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// .env 不存在时静默忽略
	_ = godotenv.Load()
	cfg := config.Load()

	if err := logger.InitWithFile(cfg.LogDir); err != nil {
		logger.Init(cfg.Env)
		logger.Warn("file logging unavailable, falling back to stdout", logger.FieldError, err)
	}
	defer logger.ShutdownFileHandler()

	// PostgreSQL 仅用于日志落库, 未配置时跳过
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.FieldError, err)
		}
		defer pool.Close()
		logger.AttachDBHandler(pool)
		defer logger.ShutdownDBHandler()
	}

	client := upstream.NewHTTPClient(
		cfg.UpstreamBaseURL,
		time.Duration(cfg.UpstreamTimeoutSec)*time.Second,
	)
	sessions := session.NewManager(time.Duration(cfg.StreamIdleTimeoutSec) * time.Second)
	coord := coordinator.New(client, sessions, coordinator.Options{
		HistoryTimeout: time.Duration(cfg.HistoryTimeoutSec) * time.Second,
		HistoryLimit:   cfg.HistoryPageSize,
	})
	srv := webapi.NewServer(coord)

	logger.Info("chat-core starting",
		logger.FieldListen, cfg.ListenAddr,
		logger.FieldURL, cfg.UpstreamBaseURL,
	)
	util.SafeGo(func() {
		if err := srv.Run(cfg.ListenAddr); err != nil {
			logger.Fatal("server failed", logger.FieldError, err)
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
}
