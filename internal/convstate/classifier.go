// classifier.go — 事件分类器: 单条上游事件 → 在途助手消息的一次变更。
package convstate

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentchat/go-chat-core/internal/upstream"
)

// 步骤标题。
const (
	StepTitlePreprocess = "附件预处理"
	StepTitleExecution  = "执行过程"
	StepTitleTrace      = "任务轨迹"
)

// Classifier 把解码后的事件归约为助手消息的状态变更。
//
// 除 TruncationBuffer 和 filename→描述 映射外无其它状态;
// 对同一会话的调用由 coordinator 串行化。
type Classifier struct {
	trunc *TruncationBuffer

	mu    sync.Mutex
	descs map[string]map[string]string // convID → filename → 描述
	seq   uint64
}

// NewClassifier 创建分类器。
func NewClassifier() *Classifier {
	return &Classifier{
		trunc: NewTruncationBuffer(),
		descs: make(map[string]map[string]string),
	}
}

// nextItemID 生成内容项 id。
func (c *Classifier) nextItemID(kind string) string {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	if kind == "" {
		kind = "item"
	}
	return fmt.Sprintf("%s-%d-%d", kind, time.Now().UnixMilli(), seq)
}

// Apply 将一条事件作用到目标消息上。
//
// 目标消息非助手角色时忽略。预处理阶段事件覆盖写入单个内容槽位,
// 事件量再大, 每个步骤的内存占用也有界。
func (c *Classifier) Apply(convID string, msg *Message, ev upstream.Event) {
	if msg == nil || msg.Role != RoleAssistant {
		return
	}
	now := time.Now()

	switch ev.Type {
	case upstream.EventProgress:
		c.setPhaseSlot(msg, TypeProgress, renderProgress(ev), now)

	case upstream.EventError:
		var d upstream.FileErrorData
		_ = ev.DecodeData(&d)
		c.setPhaseSlot(msg, TypeError, renderFileError(d.Filename), now)

	case upstream.EventFileProcessed:
		var d upstream.FileProcessedData
		_ = ev.DecodeData(&d)
		c.setPhaseSlot(msg, TypeFileProcessed, renderFileProcessed(d.Filename), now)
		if d.Filename != "" && d.Description != "" {
			c.recordDescription(convID, d.Filename, d.Description)
		}

	case upstream.EventComplete:
		lines := c.trunc.Drain(convID)
		if len(lines) > 0 {
			c.setPhaseSlot(msg, TypeComplete, JoinTruncationLines(lines), now)
		} else {
			c.setPhaseSlot(msg, TypeComplete, "附件解析完成", now)
		}

	case upstream.EventTruncation:
		// 不直接渲染 — 交由缓冲区去重累积, complete 时合并输出。
		var d upstream.TruncationData
		_ = ev.DecodeData(&d)
		c.trunc.Offer(convID, d.Filename, d.Message)

	case upstream.EventModelOutput:
		var d upstream.TextData
		_ = ev.DecodeData(&d)
		if d.Delta != "" {
			msg.Content += d.Delta
		}
		if d.Content != "" {
			msg.FinalAnswer = d.Content
		}

	case upstream.EventExecution:
		var d upstream.ExecutionData
		_ = ev.DecodeData(&d)
		c.applyExecution(msg, d, now)

	case upstream.EventCard, upstream.EventSearchContent, upstream.EventSearchContentPlaceholder,
		upstream.EventMemorySearch, upstream.EventVirtual:
		c.appendTraceItem(msg, ev.Type, tracePayload(ev), now)

	default:
		// 未识别类型: 字符串按原文渲染, 非字符串结构化兜底, 绝不丢弃。
		c.appendTraceItem(msg, ev.Type, tracePayload(ev), now)
	}
}

// Descriptions 返回会话收集到的 filename→描述 映射的副本。
func (c *Classifier) Descriptions(convID string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.descs[convID]
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// DiscardTruncation 丢弃会话未合并的截断通知。
//
// 轮次在 complete 事件之前结束 (停止/超时/传输错误/EOF) 时调用,
// 防止残留通知混入下一轮次的合并摘要、残留去重键吞掉下一轮的合法通知。
// 描述映射跨轮次复用, 不在此清理。
func (c *Classifier) DiscardTruncation(convID string) {
	c.trunc.Discard(convID)
}

// Forget 清理会话的分类器状态 (描述映射 + 未合并截断通知)。
func (c *Classifier) Forget(convID string) {
	c.mu.Lock()
	delete(c.descs, convID)
	c.mu.Unlock()
	c.trunc.Discard(convID)
}

func (c *Classifier) recordDescription(convID, filename, desc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.descs[convID]
	if !ok {
		m = make(map[string]string)
		c.descs[convID] = m
	}
	m[filename] = desc
}

// setPhaseSlot 覆盖写入预处理步骤的首个内容槽位 (不追加)。
func (c *Classifier) setPhaseSlot(msg *Message, itemType, content string, ts time.Time) {
	step := ensureStep(msg, StepTitlePreprocess, c.nextItemID("step"))
	item := ContentItem{
		ID:      c.nextItemID(itemType),
		Type:    itemType,
		Content: content,
		Ts:      ts,
	}
	if len(step.Contents) == 0 {
		step.Contents = append(step.Contents, item)
		return
	}
	// 保留槽位原 id, 只换内容/类型/时间戳
	item.ID = step.Contents[0].ID
	step.Contents[0] = item
}

// appendTraceItem 追加一条轨迹内容项。
func (c *Classifier) appendTraceItem(msg *Message, itemType string, content any, ts time.Time) {
	step := ensureStep(msg, StepTitleTrace, c.nextItemID("step"))
	step.Contents = append(step.Contents, ContentItem{
		ID:      c.nextItemID(itemType),
		Type:    itemType,
		Content: content,
		Ts:      ts,
	})
}

// applyExecution 将执行类事件写入执行步骤的子块。
// thinking/output 追加, code 整体替换 (上游每次发送完整代码)。
func (c *Classifier) applyExecution(msg *Message, d upstream.ExecutionData, ts time.Time) {
	step := ensureStep(msg, StepTitleExecution, c.nextItemID("step"))
	if d.Thinking != "" {
		if step.Thinking == nil {
			step.Thinking = &SubBlock{}
		}
		step.Thinking.Content += d.Thinking
		step.Thinking.Ts = ts
	}
	if d.Code != "" {
		step.Code = &SubBlock{Content: d.Code, Ts: ts}
	}
	if d.Output != "" {
		if step.Output == nil {
			step.Output = &SubBlock{}
		}
		step.Output.Content += d.Output
		step.Output.Ts = ts
	}
}

// ensureStep 按标题查找步骤, 不存在则创建。
func ensureStep(msg *Message, title, newID string) *Step {
	for i := range msg.Steps {
		if msg.Steps[i].Title == title {
			return &msg.Steps[i]
		}
	}
	msg.Steps = append(msg.Steps, Step{ID: newID, Title: title})
	return &msg.Steps[len(msg.Steps)-1]
}

// ========================================
// 本地化渲染
// ========================================

func renderProgress(ev upstream.Event) string {
	var d upstream.ProgressData
	if err := ev.DecodeData(&d); err == nil {
		if d.Total > 0 {
			return fmt.Sprintf("正在解析附件 (%d/%d)", d.Current, d.Total)
		}
		if d.Message != "" {
			return d.Message
		}
		if d.Stage != "" {
			return d.Stage
		}
	}
	return ev.TextPayload()
}

func renderFileError(filename string) string {
	if filename == "" {
		filename = "未知文件"
	}
	return fmt.Sprintf("文件 %s 解析失败", filename)
}

func renderFileProcessed(filename string) string {
	if filename == "" {
		filename = "未知文件"
	}
	return fmt.Sprintf("文件 %s 解析完成", filename)
}

// tracePayload 提取事件的展示负载: JSON 字符串原样, 对象保持结构化, 其余原文兜底。
func tracePayload(ev upstream.Event) any {
	if len(ev.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(ev.Data, &s); err == nil {
		return s
	}
	var m map[string]any
	if err := json.Unmarshal(ev.Data, &m); err == nil {
		return m
	}
	return string(ev.Data)
}
