// Package coordinator 多会话流式编排器。
//
// 持有全部会话的内存状态, 串行驱动每条流的事件归约,
// 并把生命周期决策 (超时/停止/删除) 翻译成消息状态变更。
// 会话历史与附件存储归上游协作方所有, 本包不落库。
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/agentchat/go-chat-core/internal/convstate"
	"github.com/agentchat/go-chat-core/internal/session"
	"github.com/agentchat/go-chat-core/internal/upstream"
	apperrors "github.com/agentchat/go-chat-core/pkg/errors"
	"github.com/agentchat/go-chat-core/pkg/logger"
	"github.com/agentchat/go-chat-core/pkg/util"
)

// 用户可见文案。
const (
	textStopped      = "已停止"
	textTimeout      = "响应超时，请重试"
	textFailed       = "请求失败，请稍后重试"
	textLoadFailed   = "历史加载失败，请重试"
	defaultConvTitle = "新对话"
)

// 新会话标题取用户问题前若干字符。
const titleMaxRunes = 20

// Options 编排器可调参数。零值字段取默认。
type Options struct {
	HistoryTimeout time.Duration // 历史拉取超时, 默认 120s
	HistoryLimit   int           // 历史拉取条数上限, 默认 100
	StopTimeout    time.Duration // 服务端 stop 调用超时, 默认 10s
}

func (o *Options) fill() {
	if o.HistoryTimeout <= 0 {
		o.HistoryTimeout = 120 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 100
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
}

// ConversationSummary 会话列表条目。
type ConversationSummary struct {
	ID                    string    `json:"id"`
	Title                 string    `json:"title"`
	Streaming             bool      `json:"streaming"`
	CompletedInBackground bool      `json:"completedInBackground"`
	CreatedAt             time.Time `json:"createdAt"`
}

// Coordinator 多会话编排器。
//
// 所有状态变更都在 mu 保护下进行; 快照接口返回深拷贝,
// 调用方永远拿不到在途修改中的内部引用。
type Coordinator struct {
	mu       sync.Mutex
	convs    map[string]*convstate.Conversation
	order    []string
	inflight map[string]string // convID → 在途助手消息 id

	classifier *convstate.Classifier
	sessions   *session.Manager
	client     upstream.Client
	opts       Options

	notify func(convID string)
	seq    uint64
}

// New 创建编排器并接管会话管理器的中止回调。
func New(client upstream.Client, sessions *session.Manager, opts Options) *Coordinator {
	opts.fill()
	c := &Coordinator{
		convs:      make(map[string]*convstate.Conversation),
		order:      make([]string, 0, 16),
		inflight:   make(map[string]string),
		classifier: convstate.NewClassifier(),
		sessions:   sessions,
		client:     client,
		opts:       opts,
	}
	sessions.SetOnAbort(c.handleAbort)
	return c
}

// SetNotify 注册状态变更通知 (webapi 推送用)。回调在锁外调用。
func (c *Coordinator) SetNotify(fn func(convID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
}

func (c *Coordinator) notifyConv(convID string) {
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn(convID)
	}
}

// ========================================
// 会话 CRUD
// ========================================

// CreateConversation 在上游创建会话并登记到本地。
func (c *Coordinator) CreateConversation(ctx context.Context, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		title = defaultConvTitle
	}
	id, err := c.client.CreateConversation(ctx, title)
	if err != nil {
		return "", apperrors.Wrap(err, "Coordinator.CreateConversation", "上游创建会话失败")
	}
	c.mu.Lock()
	c.registerLocked(id, title)
	c.mu.Unlock()
	c.notifyConv(id)
	return id, nil
}

// registerLocked 登记会话。重复 id 直接复用现有条目。
func (c *Coordinator) registerLocked(id, title string) *convstate.Conversation {
	if conv, ok := c.convs[id]; ok {
		return conv
	}
	conv := &convstate.Conversation{
		ID:        id,
		Title:     title,
		CreatedAt: time.Now(),
	}
	c.convs[id] = conv
	c.order = append(c.order, id)
	return conv
}

// DeleteConversation 删除会话: 先中止在途流, 再删服务端, 成功后清本地。
//
// 服务端删除失败时保留本地状态并返回错误; 删除成功后
// 不再对该会话做任何消息变更。
func (c *Coordinator) DeleteConversation(ctx context.Context, convID string) error {
	c.mu.Lock()
	_, ok := c.convs[convID]
	c.mu.Unlock()
	if !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, "Coordinator.DeleteConversation", "conversation %s", convID)
	}

	c.sessions.Abort(convID, session.ReasonDelete)

	if err := c.client.DeleteConversation(ctx, convID); err != nil {
		logger.Error("coordinator: upstream delete failed",
			logger.FieldConvID, convID,
			logger.FieldError, err,
		)
		return apperrors.Wrap(err, "Coordinator.DeleteConversation", "上游删除会话失败")
	}

	c.mu.Lock()
	delete(c.convs, convID)
	delete(c.inflight, convID)
	for i, id := range c.order {
		if id == convID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.classifier.Forget(convID)
	c.sessions.Forget(convID)
	logger.Info("coordinator: conversation deleted", logger.FieldConvID, convID)
	c.notifyConv(convID)
	return nil
}

// RenameConversation 重命名: 服务端确认成功后才更新本地标题。
func (c *Coordinator) RenameConversation(ctx context.Context, convID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Coordinator.RenameConversation", "标题不能为空")
	}
	c.mu.Lock()
	_, ok := c.convs[convID]
	c.mu.Unlock()
	if !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, "Coordinator.RenameConversation", "conversation %s", convID)
	}

	if err := c.client.RenameConversation(ctx, convID, title); err != nil {
		logger.Error("coordinator: upstream rename failed",
			logger.FieldConvID, convID,
			logger.FieldError, err,
		)
		return apperrors.Wrap(err, "Coordinator.RenameConversation", "上游重命名失败")
	}

	c.mu.Lock()
	if conv, ok := c.convs[convID]; ok {
		conv.Title = title
	}
	c.mu.Unlock()
	c.notifyConv(convID)
	return nil
}

// ========================================
// 发送与流式读取
// ========================================

// SendMessage 发送一条用户消息并启动流式读取。
//
// convID 为空时先在上游创建新会话 (标题取问题前若干字)。
// 同一会话已有在途流时返回错误。返回实际使用的会话 id。
func (c *Coordinator) SendMessage(ctx context.Context, convID, query string, attachments []convstate.Attachment) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" && len(attachments) == 0 {
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, "Coordinator.SendMessage", "消息内容不能为空")
	}

	if convID == "" {
		id, err := c.client.CreateConversation(ctx, deriveTitle(query))
		if err != nil {
			return "", apperrors.Wrap(err, "Coordinator.SendMessage", "上游创建会话失败")
		}
		c.mu.Lock()
		c.registerLocked(id, deriveTitle(query))
		c.mu.Unlock()
		convID = id
	}

	c.mu.Lock()
	_, ok := c.convs[convID]
	c.mu.Unlock()
	if !ok {
		return "", apperrors.Wrapf(apperrors.ErrNotFound, "Coordinator.SendMessage", "conversation %s", convID)
	}

	// 单流不变量由会话管理器强制
	streamCtx, err := c.sessions.Begin(convID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	conv := c.convs[convID]
	history := buildHistory(conv.Messages)
	descs := c.classifier.Descriptions(convID)

	userMsg := convstate.Message{
		ID:          c.nextIDLocked("user"),
		Role:        convstate.RoleUser,
		Content:     query,
		CreatedAt:   time.Now(),
		IsComplete:  true,
		Attachments: attachments,
	}
	asstMsg := convstate.Message{
		ID:        c.nextIDLocked("asst"),
		Role:      convstate.RoleAssistant,
		CreatedAt: time.Now(),
		Thinking:  true,
	}
	conv.Messages = append(conv.Messages, userMsg, asstMsg)
	c.inflight[convID] = asstMsg.ID
	c.mu.Unlock()

	req := &upstream.ChatRequest{
		ConversationID: convID,
		Query:          query,
		IsFirstTurn:    len(history) == 0,
		History:        history,
		Attachments:    outboundAttachments(attachments, descs),
	}

	logger.Info("coordinator: send message",
		logger.FieldConvID, convID,
		logger.FieldUserMsgID, userMsg.ID,
		"first_turn", req.IsFirstTurn,
		"attachments", len(attachments),
	)
	c.notifyConv(convID)

	util.SafeGo(func() {
		c.runStream(streamCtx, convID, req)
	})
	return convID, nil
}

// nextIDLocked 调用方持锁时的 id 生成 (避免 nextID 重入锁)。
func (c *Coordinator) nextIDLocked(kind string) string {
	c.seq++
	return fmt.Sprintf("%s-%d-%d", kind, time.Now().UnixMilli(), c.seq)
}

// runStream 单条流的读取循环: Next → 归约 → 重置空闲定时器。
func (c *Coordinator) runStream(ctx context.Context, convID string, req *upstream.ChatRequest) {
	stream, err := c.client.SendChat(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return // 已被中止, 状态变更由中止路径负责
		}
		logger.Error("coordinator: send chat failed",
			logger.FieldConvID, convID,
			logger.FieldError, err,
		)
		c.sessions.Abort(convID, session.ReasonTransport)
		return
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.finishStream(convID)
				return
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("coordinator: stream read failed",
				logger.FieldConvID, convID,
				logger.FieldError, err,
			)
			c.sessions.Abort(convID, session.ReasonTransport)
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.applyEvent(convID, ev)
		c.sessions.ResetIdle(convID)
	}
}

// applyEvent 把一条事件归约到在途助手消息。
func (c *Coordinator) applyEvent(convID string, ev upstream.Event) {
	c.mu.Lock()
	msg := c.inflightMessageLocked(convID)
	if msg == nil {
		c.mu.Unlock()
		return
	}
	c.classifier.Apply(convID, msg, ev)
	c.mu.Unlock()
	c.notifyConv(convID)
}

// finishStream 流正常结束 (EOF)。
func (c *Coordinator) finishStream(convID string) {
	background := c.sessions.End(convID)

	c.mu.Lock()
	if msg := c.inflightMessageLocked(convID); msg != nil {
		msg.IsComplete = true
		msg.Thinking = false
		if msg.FinalAnswer == "" {
			msg.FinalAnswer = msg.Content
		}
	}
	delete(c.inflight, convID)
	if conv, ok := c.convs[convID]; ok {
		conv.CompletedInBackground = background
	}
	c.mu.Unlock()

	// 截断通知的作用域是单个轮次, 未被 complete 合并的残留一律丢弃
	c.classifier.DiscardTruncation(convID)
	logger.Info("coordinator: stream finished",
		logger.FieldConvID, convID,
		"background", background,
	)
	c.notifyConv(convID)
}

// handleAbort 会话管理器的中止回调, 按原因落消息状态。
func (c *Coordinator) handleAbort(convID string, reason session.Reason, background bool) {
	c.mu.Lock()
	if msg := c.inflightMessageLocked(convID); msg != nil {
		msg.Thinking = false
		msg.IsComplete = true
		switch reason {
		case session.ReasonTimeout:
			msg.Error = textTimeout
		case session.ReasonUserStop:
			// 用户主动停止不算错误, 内容一律替换为停止标记
			msg.Content = textStopped
			msg.FinalAnswer = ""
		case session.ReasonTransport:
			msg.Error = textFailed
			if strings.TrimSpace(msg.Content) == "" {
				msg.Content = textFailed
			}
		case session.ReasonDelete:
			// 会话即将删除, 不再触碰消息
		}
	}
	delete(c.inflight, convID)
	if conv, ok := c.convs[convID]; ok && reason != session.ReasonDelete {
		conv.CompletedInBackground = background
	}
	c.mu.Unlock()

	c.classifier.DiscardTruncation(convID)
	if reason == session.ReasonTimeout {
		// 尽力通知服务端停止, 失败只记日志
		c.stopUpstreamTask(convID)
	}
	if reason != session.ReasonDelete {
		c.notifyConv(convID)
	}
}

// stopUpstreamTask 尽力而为的服务端 stop 调用。
func (c *Coordinator) stopUpstreamTask(convID string) {
	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
		defer cancel()
		if err := c.client.StopTask(ctx, convID); err != nil {
			logger.Warn("coordinator: upstream stop failed",
				logger.FieldConvID, convID,
				logger.FieldError, err,
			)
		}
	})
}

// StopStreaming 用户停止当前会话的流。无在途流时为 no-op。
func (c *Coordinator) StopStreaming(convID string) {
	if !c.sessions.Active(convID) {
		return
	}
	c.sessions.Abort(convID, session.ReasonUserStop)
	c.stopUpstreamTask(convID)
}

// ========================================
// 视图切换与历史
// ========================================

// SwitchConversation 切换当前视图到指定会话。
//
// 绝不中止任何会话的流。本地无消息且无在途流时拉取历史;
// 拉取失败保留已有状态并在会话上记 LoadError。
func (c *Coordinator) SwitchConversation(ctx context.Context, convID string) error {
	c.mu.Lock()
	conv, ok := c.convs[convID]
	if !ok {
		c.mu.Unlock()
		return apperrors.Wrapf(apperrors.ErrNotFound, "Coordinator.SwitchConversation", "conversation %s", convID)
	}
	conv.CompletedInBackground = false
	needHistory := len(conv.Messages) == 0
	c.mu.Unlock()

	c.sessions.SetViewed(convID)

	if needHistory && !c.sessions.Active(convID) {
		if err := c.loadHistory(ctx, convID); err != nil {
			c.notifyConv(convID)
			return err
		}
	}
	c.notifyConv(convID)
	return nil
}

// loadHistory 用独立超时拉取历史并替换本地消息。
func (c *Coordinator) loadHistory(ctx context.Context, convID string) error {
	hctx, cancel := context.WithTimeout(ctx, c.opts.HistoryTimeout)
	defer cancel()

	msgs, err := c.client.FetchHistory(hctx, convID, c.opts.HistoryLimit)
	if err != nil {
		c.mu.Lock()
		if conv, ok := c.convs[convID]; ok {
			conv.LoadError = textLoadFailed
		}
		c.mu.Unlock()
		logger.Error("coordinator: fetch history failed",
			logger.FieldConvID, convID,
			logger.FieldError, err,
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.Wrap(apperrors.ErrTimeout, "Coordinator.SwitchConversation", "拉取历史超时")
		}
		return apperrors.Wrap(err, "Coordinator.SwitchConversation", "拉取历史失败")
	}

	c.mu.Lock()
	if conv, ok := c.convs[convID]; ok {
		// 拉取期间开始了新流则放弃这份历史, 以在途状态为准
		if _, streaming := c.inflight[convID]; !streaming && len(conv.Messages) == 0 {
			conv.Messages = historyToMessages(msgs)
		}
		conv.LoadError = ""
	}
	c.mu.Unlock()
	return nil
}

// ========================================
// 快照
// ========================================

// Snapshot 返回会话的深拷贝快照。
func (c *Coordinator) Snapshot(convID string) (convstate.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[convID]
	if !ok {
		return convstate.Conversation{}, apperrors.Wrapf(apperrors.ErrNotFound, "Coordinator.Snapshot", "conversation %s", convID)
	}
	return convstate.CloneConversation(conv), nil
}

// SplitView 返回会话的展示拆分 (最终时间线 + 任务轨迹分组)。
func (c *Coordinator) SplitView(convID string) (convstate.SplitResult, error) {
	snap, err := c.Snapshot(convID)
	if err != nil {
		return convstate.SplitResult{}, err
	}
	return convstate.Split(snap.Messages), nil
}

// Conversations 返回会话列表摘要 (创建顺序)。
func (c *Coordinator) Conversations() []ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConversationSummary, 0, len(c.order))
	for _, id := range c.order {
		conv := c.convs[id]
		out = append(out, ConversationSummary{
			ID:                    conv.ID,
			Title:                 conv.Title,
			Streaming:             c.sessions.Active(id),
			CompletedInBackground: conv.CompletedInBackground,
			CreatedAt:             conv.CreatedAt,
		})
	}
	return out
}

// inflightMessageLocked 定位在途助手消息。调用方持锁。
func (c *Coordinator) inflightMessageLocked(convID string) *convstate.Message {
	msgID, ok := c.inflight[convID]
	if !ok {
		return nil
	}
	conv, ok := c.convs[convID]
	if !ok {
		return nil
	}
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].ID == msgID {
			return &conv.Messages[i]
		}
	}
	return nil
}

// ========================================
// 出站请求组装
// ========================================

// buildHistory 把已完成消息折叠成上游历史轮次。
// 助手消息优先取权威答案 FinalAnswer, 其次原始 Content。
func buildHistory(msgs []convstate.Message) []upstream.HistoryTurn {
	var out []upstream.HistoryTurn
	for i := range msgs {
		m := &msgs[i]
		var text string
		switch m.Role {
		case convstate.RoleUser:
			text = m.Content
		case convstate.RoleAssistant:
			if !m.IsComplete {
				continue
			}
			text = util.FirstNonEmpty(m.FinalAnswer, m.Content)
		default:
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, upstream.HistoryTurn{Role: m.Role, Content: text})
	}
	return out
}

// outboundAttachments 组装出站附件, 带上已收集的文件描述。
func outboundAttachments(attachments []convstate.Attachment, descs map[string]string) []upstream.Attachment {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]upstream.Attachment, 0, len(attachments))
	for _, a := range attachments {
		desc := a.Description
		if desc == "" {
			desc = descs[a.Name]
		}
		out = append(out, upstream.Attachment{
			ObjectName:  a.ObjectName,
			Name:        a.Name,
			Type:        a.Type,
			Size:        a.Size,
			URL:         a.URL,
			Description: desc,
		})
	}
	return out
}

// historyToMessages 把上游历史转为本地消息模型。
func historyToMessages(hist []upstream.HistoryMessage) []convstate.Message {
	out := make([]convstate.Message, 0, len(hist))
	for _, h := range hist {
		msg := convstate.Message{
			ID:          h.ID,
			Role:        h.Role,
			Content:     h.Content,
			FinalAnswer: h.FinalAnswer,
			CreatedAt:   h.CreatedAt,
			IsComplete:  true,
		}
		for _, a := range h.Attachments {
			msg.Attachments = append(msg.Attachments, convstate.Attachment{
				ObjectName:  a.ObjectName,
				Name:        a.Name,
				Type:        a.Type,
				Size:        a.Size,
				URL:         a.URL,
				Description: a.Description,
			})
		}
		out = append(out, msg)
	}
	return out
}

// deriveTitle 从用户问题派生新会话标题。
func deriveTitle(query string) string {
	runes := []rune(strings.TrimSpace(query))
	if len(runes) == 0 {
		return defaultConvTitle
	}
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes])
	}
	return string(runes)
}
