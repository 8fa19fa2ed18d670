// Package session 管理每个会话的流式生命周期。
//
// 每个活跃流 = 一个取消句柄 + 一个 120 秒空闲定时器。
// 不变量: 任一会话 id 同时最多一条活跃流 (由 cancels map 强制)。
// 生命周期: Begin → (ResetIdle)* → End / Abort。
package session

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/agentchat/go-chat-core/pkg/errors"
	"github.com/agentchat/go-chat-core/pkg/logger"
)

// DefaultIdleTimeout 自上次收到事件起的空闲超时 (非总时长截止)。
const DefaultIdleTimeout = 120 * time.Second

// Reason 流中止原因。
type Reason string

const (
	// ReasonTimeout 空闲超时中止。
	ReasonTimeout Reason = "timeout"
	// ReasonUserStop 用户主动停止 — 不算错误。
	ReasonUserStop Reason = "user_stop"
	// ReasonTransport 传输/解析致命错误。
	ReasonTransport Reason = "transport_error"
	// ReasonDelete 会话删除前的中止。
	ReasonDelete Reason = "delete"
)

// AbortHandler 中止回调。background 表示中止时该会话不在用户当前视图。
//
// 消息状态的具体变更 (错误文案、stopped 标记、服务端 stop 调用)
// 由 coordinator 在回调中完成, 本包只负责生命周期记账。
type AbortHandler func(convID string, reason Reason, background bool)

// Manager 多路复用多个并发流式会话。
//
// 只持有两张表: convID→取消句柄、convID→空闲定时器,
// 外加后台完成徽标集合。切换视图不会中止任何其它会话的流。
type Manager struct {
	mu          sync.Mutex
	cancels     map[string]context.CancelFunc
	timers      map[string]*time.Timer
	lastEvent   map[string]time.Time
	background  map[string]struct{}
	viewed      string
	idleTimeout time.Duration
	onAbort     AbortHandler
}

// NewManager 创建管理器。idleTimeout <= 0 时使用默认 120 秒。
func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Manager{
		cancels:     make(map[string]context.CancelFunc),
		timers:      make(map[string]*time.Timer),
		lastEvent:   make(map[string]time.Time),
		background:  make(map[string]struct{}),
		idleTimeout: idleTimeout,
	}
}

// SetOnAbort 注册中止回调 (线程安全)。
func (m *Manager) SetOnAbort(fn AbortHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAbort = fn
}

// Begin 为会话开启一条流, 返回其取消上下文。
//
// 同一会话已有活跃流时返回错误 — 调用方必须先 End。
func (m *Manager) Begin(convID string) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cancels[convID]; exists {
		return nil, apperrors.Wrapf(apperrors.ErrSessionActive, "Session.Begin", "conversation %s", convID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[convID] = cancel
	m.lastEvent[convID] = time.Now()
	m.timers[convID] = time.AfterFunc(m.idleTimeout, func() {
		m.Abort(convID, ReasonTimeout)
	})
	delete(m.background, convID)

	metricSessionsActive.Inc()
	logger.Info("session: stream begin",
		logger.FieldConvID, convID,
		"idle_timeout_ms", m.idleTimeout.Milliseconds(),
	)
	return ctx, nil
}

// ResetIdle 收到一条合法事件后重置空闲定时器 (归零重新计时)。
func (m *Manager) ResetIdle(convID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer, ok := m.timers[convID]
	if !ok {
		return
	}
	timer.Reset(m.idleTimeout)
	m.lastEvent[convID] = time.Now()
	metricEventsTotal.Inc()
}

// Abort 中止会话的流并触发回调。无活跃流时为 no-op (幂等)。
func (m *Manager) Abort(convID string, reason Reason) {
	m.mu.Lock()
	cancel, ok := m.cancels[convID]
	if !ok {
		m.mu.Unlock()
		return
	}
	background := m.endLocked(convID)
	handler := m.onAbort
	m.mu.Unlock()

	cancel()
	metricAbortsTotal.WithLabelValues(string(reason)).Inc()
	logger.Warn("session: stream aborted",
		logger.FieldConvID, convID,
		logger.FieldReason, string(reason),
		"background", background,
	)
	if handler != nil {
		handler(convID, reason, background)
	}
}

// End 正常结束会话的流。返回是否属于后台完成 (结束时用户在看别的会话)。
func (m *Manager) End(convID string) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[convID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	background := m.endLocked(convID)
	m.mu.Unlock()

	cancel()
	logger.Info("session: stream end", logger.FieldConvID, convID, "background", background)
	return background
}

// endLocked 公共清理: 停定时器、从两张表删除条目、记后台完成徽标。
// 成功与所有中止路径共用。调用方持锁。
func (m *Manager) endLocked(convID string) bool {
	if timer, ok := m.timers[convID]; ok {
		timer.Stop()
	}
	delete(m.cancels, convID)
	delete(m.timers, convID)
	delete(m.lastEvent, convID)
	metricSessionsActive.Dec()

	background := convID != m.viewed
	if background {
		m.background[convID] = struct{}{}
	}
	return background
}

// Active 会话是否有活跃流。
func (m *Manager) Active(convID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancels[convID]
	return ok
}

// ActiveCount 当前活跃流数量。
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// SetViewed 记录用户当前打开的会话, 并清除其后台完成徽标。
// 只影响徽标记账 — 绝不中止其它会话的流。
func (m *Manager) SetViewed(convID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewed = convID
	delete(m.background, convID)
}

// Viewed 返回用户当前打开的会话 id。
func (m *Manager) Viewed() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewed
}

// CompletedInBackground 会话是否带后台完成徽标。
func (m *Manager) CompletedInBackground(convID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.background[convID]
	return ok
}

// Forget 删除会话的全部记账 (会话被删除时调用)。
func (m *Manager) Forget(convID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.background, convID)
}

// LastEventAt 返回会话最近一次收到事件的时间, 无活跃流时零值。
func (m *Manager) LastEventAt(convID string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEvent[convID]
}
