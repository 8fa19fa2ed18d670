// truncation.go — 截断事件缓冲: 按会话去重累积, complete 时合并输出。
package convstate

import (
	"fmt"
	"sync"
)

// truncJoinSep 合并多条截断提示时的分隔符。
const truncJoinSep = "；"

// truncEntry 一条待合并的截断通知。
type truncEntry struct {
	filename string
	message  string
}

// TruncationBuffer 缓冲低优先级截断通知。
//
// 上游可能在短时间内发出大量近重复的 "文件 N 截断" 通知,
// 逐条展示会淹没轨迹视图, 因此累积到 complete 时合并为一行。
// 去重键显式包含会话 id, 两个会话同时流式处理同名文件互不影响。
type TruncationBuffer struct {
	mu      sync.Mutex
	pending map[string][]truncEntry          // convID → 按到达顺序
	seen    map[string]map[string]struct{}   // convID → dedup key 集合
}

// NewTruncationBuffer 创建空缓冲。
func NewTruncationBuffer() *TruncationBuffer {
	return &TruncationBuffer{
		pending: make(map[string][]truncEntry),
		seen:    make(map[string]map[string]struct{}),
	}
}

// dedupKey 去重键 = 文件名 (缺省 "unknown") + 消息文本。会话维度由外层 map 区分。
func dedupKey(filename, message string) string {
	if filename == "" {
		filename = "unknown"
	}
	return filename + "\x00" + message
}

// Offer 提交一条截断通知。同会话内重复键静默丢弃, 返回是否接受。
func (b *TruncationBuffer) Offer(convID, filename, message string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := dedupKey(filename, message)
	set, ok := b.seen[convID]
	if !ok {
		set = make(map[string]struct{})
		b.seen[convID] = set
	}
	if _, dup := set[key]; dup {
		return false
	}
	set[key] = struct{}{}
	b.pending[convID] = append(b.pending[convID], truncEntry{filename: filename, message: message})
	return true
}

// Drain 取出并清空会话范围内的全部截断通知, 返回本地化行。
func (b *TruncationBuffer) Drain(convID string) []string {
	b.mu.Lock()
	entries := b.pending[convID]
	delete(b.pending, convID)
	delete(b.seen, convID)
	b.mu.Unlock()

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, renderTruncation(e.filename, e.message))
	}
	return lines
}

// Discard 丢弃会话的全部未合并通知 (会话删除/中止时调用)。
func (b *TruncationBuffer) Discard(convID string) {
	b.mu.Lock()
	delete(b.pending, convID)
	delete(b.seen, convID)
	b.mu.Unlock()
}

// renderTruncation 本地化单条截断提示。
func renderTruncation(filename, message string) string {
	if filename == "" {
		filename = "未知文件"
	}
	if message != "" {
		return fmt.Sprintf("文件 %s: %s", filename, message)
	}
	return fmt.Sprintf("文件 %s 内容已截断", filename)
}

// JoinTruncationLines 将多条截断提示合并为一行。
func JoinTruncationLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += truncJoinSep
		}
		out += l
	}
	return out
}
