// cmd/chat-desktop — Wails v3 桌面壳: 内嵌 webapi 服务 + 原生窗口。
//
// 前端静态资源由 Wails 托管, 业务数据通过本机 webapi
// (REST + WebSocket) 访问, 与浏览器端共用同一套接口。
//
// 构建:
//
//	go build -tags "production" -o chat-desktop ./cmd/chat-desktop/
package main

import (
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/agentchat/go-chat-core/internal/config"
	"github.com/agentchat/go-chat-core/internal/coordinator"
	"github.com/agentchat/go-chat-core/internal/session"
	"github.com/agentchat/go-chat-core/internal/upstream"
	"github.com/agentchat/go-chat-core/internal/webapi"
	"github.com/agentchat/go-chat-core/pkg/logger"
	"github.com/agentchat/go-chat-core/pkg/util"
)

//go:embed frontend/dist/*
var assets embed.FS

const apiAddr = "127.0.0.1:8090"

// frontendAssets 返回前端静态资源 FS, 去掉 "frontend/dist" 前缀。
func frontendAssets() http.FileSystem {
	sub, err := fs.Sub(assets, "frontend/dist")
	if err != nil {
		logger.Error("embed: failed to sub frontend/dist", logger.FieldError, err)
		return http.FS(assets)
	}
	return http.FS(sub)
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if err := logger.InitWithFile(cfg.LogDir); err != nil {
		logger.Warn("file logging unavailable", logger.FieldError, err)
	}
	defer logger.ShutdownFileHandler()

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

	util.SafeGo(func() {
		if err := srv.Run(apiAddr); err != nil {
			logger.Fatal("embedded api server failed", logger.FieldError, err)
		}
	})
	logger.Info("chat-desktop: embedded api ready", logger.FieldListen, apiAddr)

	app := application.New(application.Options{
		Name: "Chat Desktop",
		Assets: application.AssetOptions{
			Handler: http.FileServer(frontendAssets()),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: true,
		},
	})

	app.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:           "Chat Desktop",
		Width:           1280,
		Height:          860,
		MinWidth:        960,
		MinHeight:       640,
		InitialPosition: application.WindowCentered,
	})

	if err := app.Run(); err != nil {
		logger.Fatal("desktop app failed", logger.FieldError, err)
	}
}
