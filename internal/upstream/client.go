// client.go — 上游助手服务接口定义与请求/响应类型。
package upstream

import (
	"context"
	"time"
)

// HistoryTurn 发送请求时携带的历史轮次 (角色 + 已解析文本)。
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment 出站请求的附件描述符。
//
// Description 来自 file_processed 事件收集的 filename→描述 映射。
type Attachment struct {
	ObjectName  string `json:"object_name"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// ChatRequest 流式对话请求体。
type ChatRequest struct {
	ConversationID string        `json:"conversation_id"`
	Query          string        `json:"query"`
	IsFirstTurn    bool          `json:"is_first_turn"`
	History        []HistoryTurn `json:"history,omitempty"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
}

// HistoryMessage 历史消息 (由外部会话存储方返回, 本核心不落库)。
type HistoryMessage struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	FinalAnswer string       `json:"final_answer,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ConversationInfo 上游会话元信息。
type ConversationInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// EventStream 单个会话的流式事件读取端。
//
// Next 阻塞等待下一条事件; 流正常结束返回 io.EOF。
// 格式错误的单行事件在内部记录日志并跳过, 不中断流。
type EventStream interface {
	Next() (Event, error)
	Close() error
}

// Client 助手后端协作方接口。
//
// 会话历史、附件存储等均由上游拥有; 本核心只通过该接口访问。
type Client interface {
	// CreateConversation 创建会话并返回会话 id。
	CreateConversation(ctx context.Context, title string) (string, error)
	// DeleteConversation 删除服务端会话。
	DeleteConversation(ctx context.Context, convID string) error
	// RenameConversation 重命名服务端会话。
	RenameConversation(ctx context.Context, convID, title string) error
	// StopTask 请求停止服务端任务。幂等, 无活跃任务时也安全。
	StopTask(ctx context.Context, convID string) error
	// FetchHistory 拉取会话历史消息 (时间正序)。
	FetchHistory(ctx context.Context, convID string, limit int) ([]HistoryMessage, error)
	// SendChat 发起流式对话, 返回事件流。
	SendChat(ctx context.Context, req *ChatRequest) (EventStream, error)
}
