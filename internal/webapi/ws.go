// ws.go — WebSocket 状态推送: 会话变更通知广播给所有连接。
package webapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/agentchat/go-chat-core/pkg/logger"
	"github.com/agentchat/go-chat-core/pkg/util"
)

const connOutboxSize = 64

// connEntry WebSocket 连接 + 写锁 (gorilla/websocket 不支持并发写)。
type connEntry struct {
	ws        *websocket.Conn
	wrMu      sync.Mutex
	outbox    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newConnEntry(ws *websocket.Conn) *connEntry {
	return &connEntry{
		ws:      ws,
		outbox:  make(chan []byte, connOutboxSize),
		closeCh: make(chan struct{}),
	}
}

func (c *connEntry) writeMsg(data []byte) error {
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// enqueue 非阻塞入队, 队满丢弃 (前端会整体拉快照, 丢通知无害)。
func (c *connEntry) enqueue(data []byte) bool {
	select {
	case <-c.closeCh:
		return false
	default:
	}
	select {
	case c.outbox <- data:
		return true
	default:
		return false
	}
}

func (c *connEntry) closeNow() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.ws.Close()
	})
}

func (c *connEntry) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case data := <-c.outbox:
			if err := c.writeMsg(data); err != nil {
				return
			}
		}
	}
}

// checkLocalOrigin 仅允许本地来源 (桌面壳 / 本机浏览器)。
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // 无 Origin = 非浏览器客户端
	}
	origin = strings.ToLower(origin)
	for _, allowed := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
		"wails://",
	} {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	logger.Warn("webapi: rejected non-local origin", logger.FieldRemote, origin)
	return false
}

// Hub 连接集合 + 广播。
type Hub struct {
	mu       sync.Mutex
	conns    map[*connEntry]struct{}
	upgrader websocket.Upgrader
}

// NewHub 创建连接集线器。
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*connEntry]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkLocalOrigin,
		},
	}
}

// Serve 升级连接并挂入集线器。
func (h *Hub) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("webapi: websocket upgrade failed", logger.FieldError, err)
		return
	}
	entry := newConnEntry(ws)

	h.mu.Lock()
	h.conns[entry] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	logger.Info("webapi: websocket connected",
		logger.FieldRemote, ws.RemoteAddr().String(),
		logger.FieldCount, total,
	)

	util.SafeGo(entry.writeLoop)

	// 读循环只为感知断开 (客户端不通过 WS 发命令)
	util.SafeGo(func() {
		defer h.drop(entry)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
}

func (h *Hub) drop(entry *connEntry) {
	h.mu.Lock()
	delete(h.conns, entry)
	h.mu.Unlock()
	entry.closeNow()
}

// BroadcastConvChanged 通知所有连接: 某会话状态已变化。
func (h *Hub) BroadcastConvChanged(convID string) {
	data, err := json.Marshal(map[string]string{
		"type":    "conversation_changed",
		"conv_id": convID,
	})
	if err != nil {
		return
	}
	h.mu.Lock()
	entries := make([]*connEntry, 0, len(h.conns))
	for e := range h.conns {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	for _, e := range entries {
		e.enqueue(data)
	}
}

// ConnCount 当前连接数。
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
