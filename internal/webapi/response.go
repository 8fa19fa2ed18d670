package webapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/agentchat/go-chat-core/pkg/errors"
	"github.com/agentchat/go-chat-core/pkg/logger"
)

// 统一响应辅助 (所有 handler 共用)。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": "invalid_input", "message": message}})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "not_found", "message": message}})
}

func conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, gin.H{"success": false, "error": gin.H{"code": "session_active", "message": message}})
}

func serverError(c *gin.Context, err error) {
	logger.Error("webapi: internal error",
		logger.FieldPath, c.Request.URL.Path,
		logger.FieldError, err,
	)
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "internal_error", "message": "服务器内部错误"}})
}

// writeError 按错误类别映射 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		notFound(c, "会话不存在")
	case errors.Is(err, apperrors.ErrInvalidInput):
		var appErr *apperrors.AppError
		if apperrors.As(err, &appErr) && appErr.Message != "" {
			badRequest(c, appErr.Message)
		} else {
			badRequest(c, "请求参数不合法")
		}
	case errors.Is(err, apperrors.ErrSessionActive):
		conflict(c, "当前会话正在响应中，请先停止或等待完成")
	case errors.Is(err, apperrors.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"success": false, "error": gin.H{"code": "timeout", "message": "上游响应超时，请重试"}})
	default:
		serverError(c, err)
	}
}
