// handler.go — REST handlers: 会话 CRUD、发送、停止、视图拆分。
package webapi

import (
	"github.com/gin-gonic/gin"

	"github.com/agentchat/go-chat-core/internal/convstate"
)

func (s *Server) listConversations(c *gin.Context) {
	success(c, s.coord.Conversations())
}

func (s *Server) createConversation(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体不是合法 JSON")
		return
	}
	id, err := s.coord.CreateConversation(c.Request.Context(), req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	created(c, gin.H{"id": id})
}

func (s *Server) getConversation(c *gin.Context) {
	snap, err := s.coord.Snapshot(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, snap)
}

func (s *Server) deleteConversation(c *gin.Context) {
	if err := s.coord.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	success(c, gin.H{"deleted": true})
}

func (s *Server) renameConversation(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体不是合法 JSON")
		return
	}
	if err := s.coord.RenameConversation(c.Request.Context(), c.Param("id"), req.Title); err != nil {
		writeError(c, err)
		return
	}
	success(c, gin.H{"id": c.Param("id"), "title": req.Title})
}

// openConversation 切换当前视图到该会话, 必要时拉取历史。
// 历史拉取失败返回 200 + LoadError 快照, 前端可重试。
func (s *Server) openConversation(c *gin.Context) {
	convID := c.Param("id")
	switchErr := s.coord.SwitchConversation(c.Request.Context(), convID)

	snap, err := s.coord.Snapshot(convID)
	if err != nil {
		writeError(c, err)
		return
	}
	if switchErr != nil && snap.LoadError == "" {
		writeError(c, switchErr)
		return
	}
	success(c, snap)
}

func (s *Server) getSplitView(c *gin.Context) {
	view, err := s.coord.SplitView(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, view)
}

func (s *Server) sendChat(c *gin.Context) {
	var req struct {
		ConversationID string                  `json:"conversation_id"`
		Query          string                  `json:"query"`
		Attachments    []convstate.Attachment  `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体不是合法 JSON")
		return
	}
	convID, err := s.coord.SendMessage(c.Request.Context(), req.ConversationID, req.Query, req.Attachments)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, gin.H{"conversation_id": convID})
}

// stopStreaming 幂等: 无在途流时也返回成功。
func (s *Server) stopStreaming(c *gin.Context) {
	s.coord.StopStreaming(c.Param("id"))
	success(c, gin.H{"stopped": true})
}
