// Package webapi 对浏览器/桌面前端暴露 HTTP + WebSocket 接口。
//
// REST 负责命令 (发送/停止/切换/增删改), WebSocket 负责状态推送:
// 任一会话状态变化时向所有连接广播变更通知, 前端按需拉取快照。
package webapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentchat/go-chat-core/internal/coordinator"
	"github.com/agentchat/go-chat-core/pkg/logger"
)

// Server 前端接入层。
type Server struct {
	router *gin.Engine
	coord  *coordinator.Coordinator
	hub    *Hub
}

// NewServer 创建接入层并接管编排器的变更通知。
func NewServer(coord *coordinator.Coordinator) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	s := &Server{router: r, coord: coord, hub: NewHub()}
	coord.SetNotify(s.hub.BroadcastConvChanged)
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎 (测试用)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Run 阻塞运行 HTTP 服务。
func (s *Server) Run(addr string) error {
	logger.Info("webapi: listening", logger.FieldListen, addr)
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/conversations", s.listConversations)
	api.POST("/conversations", s.createConversation)
	api.GET("/conversations/:id", s.getConversation)
	api.DELETE("/conversations/:id", s.deleteConversation)
	api.POST("/conversations/:id/rename", s.renameConversation)
	api.POST("/conversations/:id/open", s.openConversation)
	api.GET("/conversations/:id/view", s.getSplitView)
	api.POST("/conversations/:id/stop", s.stopStreaming)

	api.POST("/chat", s.sendChat)

	s.router.GET("/ws", s.hub.Serve)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// requestLog 请求级访问日志。
func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/healthz" {
			return
		}
		logger.Debug("webapi: request",
			logger.FieldMethod, c.Request.Method,
			logger.FieldPath, c.Request.URL.Path,
			logger.FieldStatus, c.Writer.Status(),
		)
	}
}
