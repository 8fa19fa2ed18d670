// http_client.go — Client 接口的 HTTP 实现 (REST + NDJSON 流)。
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/agentchat/go-chat-core/pkg/errors"
	"github.com/agentchat/go-chat-core/pkg/util"
)

// HTTPClient 基于 REST 的上游客户端。
//
// 普通请求走带超时的 httpCli; 流式请求走 streamCli (无整体超时,
// 空闲超时由会话管理器的 idle timer 负责)。
type HTTPClient struct {
	baseURL   string
	httpCli   *http.Client
	streamCli *http.Client
}

// NewHTTPClient 创建客户端。timeout 作用于非流式请求。
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:   baseURL,
		httpCli:   &http.Client{Timeout: timeout},
		streamCli: &http.Client{},
	}
}

// CreateConversation 创建会话并返回会话 id。
func (c *HTTPClient) CreateConversation(ctx context.Context, title string) (string, error) {
	var out ConversationInfo
	err := c.postJSON(ctx, "/api/conversations", map[string]any{"title": title}, &out, http.StatusOK, http.StatusCreated)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", apperrors.New("Upstream.CreateConversation", "empty conversation id in response")
	}
	return out.ID, nil
}

// DeleteConversation 删除服务端会话。404 视为成功 (已不存在)。
func (c *HTTPClient) DeleteConversation(ctx context.Context, convID string) error {
	return c.doRequest(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(convID),
		http.StatusOK, http.StatusNoContent, http.StatusNotFound)
}

// RenameConversation 重命名服务端会话。
func (c *HTTPClient) RenameConversation(ctx context.Context, convID, title string) error {
	return c.postJSON(ctx, "/api/conversations/"+url.PathEscape(convID)+"/rename",
		map[string]any{"title": title}, nil, http.StatusOK)
}

// StopTask 请求停止服务端任务。幂等: 无活跃任务时上游返回 200/404 均视为成功。
func (c *HTTPClient) StopTask(ctx context.Context, convID string) error {
	return c.postJSON(ctx, "/api/conversations/"+url.PathEscape(convID)+"/stop",
		map[string]any{}, nil, http.StatusOK, http.StatusNotFound)
}

// FetchHistory 拉取会话历史消息 (时间正序)。
func (c *HTTPClient) FetchHistory(ctx context.Context, convID string, limit int) ([]HistoryMessage, error) {
	limit = util.ClampInt(limit, 1, 500)
	path := fmt.Sprintf("/api/conversations/%s/messages?limit=%d", url.PathEscape(convID), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "Upstream.FetchHistory", "build request")
	}
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, apperrors.Wrapf(err, "Upstream.FetchHistory", "GET %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf("Upstream.FetchHistory", "GET %s status %d", path, resp.StatusCode)
	}

	var out struct {
		Messages []HistoryMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(err, "Upstream.FetchHistory", "decode response")
	}
	return out.Messages, nil
}

// SendChat 发起流式对话。响应体为 NDJSON, 每行一条事件信封。
func (c *HTTPClient) SendChat(ctx context.Context, chatReq *ChatRequest) (EventStream, error) {
	data, err := json.Marshal(chatReq)
	if err != nil {
		return nil, apperrors.Wrap(err, "Upstream.SendChat", "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(err, "Upstream.SendChat", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.streamCli.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, "Upstream.SendChat", "POST /api/chat")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, apperrors.Newf("Upstream.SendChat", "POST /api/chat status %d: %s", resp.StatusCode, body)
	}
	return newLineStream(chatReq.ConversationID, resp.Body), nil
}

// ========================================
// 通用 HTTP helpers (消除重复 marshal→post→check→decode)
// ========================================

// postJSON POST JSON 请求。out 为 nil 时不解析响应体。
func (c *HTTPClient) postJSON(ctx context.Context, path string, reqBody any, out any, okStatus ...int) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return apperrors.Wrap(err, "Upstream.postJSON", "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(err, "Upstream.postJSON", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, "Upstream.postJSON", "POST %s", path)
	}
	defer resp.Body.Close()
	if !statusOK(resp.StatusCode, okStatus) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.Newf("Upstream.postJSON", "POST %s status %d: %s", path, resp.StatusCode, body)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// doRequest 发送无 body 的 HTTP 请求 (DELETE 等)。
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, okStatus ...int) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return apperrors.Wrapf(err, "Upstream.doRequest", "build %s %s", method, path)
	}
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, "Upstream.doRequest", "%s %s", method, path)
	}
	defer resp.Body.Close()
	if !statusOK(resp.StatusCode, okStatus) {
		return apperrors.Newf("Upstream.doRequest", "%s %s status %d", method, path, resp.StatusCode)
	}
	return nil
}

// statusOK 检查状态码是否在允许列表中。
func statusOK(code int, allowed []int) bool {
	for _, ok := range allowed {
		if code == ok {
			return true
		}
	}
	return false
}
