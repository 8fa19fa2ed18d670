// Package upstream 封装助手后端 HTTP 客户端。
//
// 支持: 会话 CRUD、历史拉取、流式对话 (NDJSON 逐行事件)、幂等 stop。
package upstream

import "encoding/json"

// Event 上游流式事件信封, 每行一条。
//
// Type 为闭合词表中的标签; 未识别的标签必须落入默认渲染路径而非被丢弃。
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// 事件类型词表。
const (
	EventProgress                 = "progress"
	EventError                    = "error"
	EventFileProcessed            = "file_processed"
	EventComplete                 = "complete"
	EventTruncation               = "truncation"
	EventCard                     = "card"
	EventSearchContent            = "search_content"
	EventSearchContentPlaceholder = "search_content_placeholder"
	EventModelOutput              = "model_output"
	EventExecution                = "execution"
	EventMemorySearch             = "memory_search"
	EventVirtual                  = "virtual"
)

// ========================================
// 事件数据类型
// ========================================

// ProgressData 附件预处理进度。
type ProgressData struct {
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// FileErrorData 单个文件解析失败。
type FileErrorData struct {
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message,omitempty"`
}

// FileProcessedData 单个文件解析完成, Description 用于回填附件描述。
type FileProcessedData struct {
	Filename    string `json:"filename,omitempty"`
	Description string `json:"description,omitempty"`
}

// CompleteData 预处理阶段结束。
type CompleteData struct {
	Message string `json:"message,omitempty"`
}

// TruncationData 低优先级截断通知 (可能高频近重复, 由缓冲区去重合并)。
type TruncationData struct {
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message,omitempty"`
}

// TextData 模型输出增量/完整内容 (用于 model_output)。
type TextData struct {
	Delta   string `json:"delta,omitempty"`
	Content string `json:"content,omitempty"`
}

// ExecutionData 执行类事件, 携带 step 的 thinking/code/output 子块。
type ExecutionData struct {
	Thinking string `json:"thinking,omitempty"`
	Code     string `json:"code,omitempty"`
	Output   string `json:"output,omitempty"`
	Status   string `json:"status,omitempty"`
}

// SearchData 检索类事件 (search_content / memory_search)。
type SearchData struct {
	Query   string `json:"query,omitempty"`
	Content string `json:"content,omitempty"`
}

// DecodeData 将事件 Data 解码到指定类型, data 为空时保持零值。
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// TextPayload 返回 Data 作为纯文本的最优解释。
//
// Data 为 JSON 字符串时返回其值; 为对象时优先取 message/content/text 字段;
// 其余情况返回原始 JSON 文本 (结构化兜底)。
func (e Event) TextPayload() string {
	if len(e.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	var m map[string]any
	if err := json.Unmarshal(e.Data, &m); err == nil {
		for _, key := range []string{"message", "content", "text"} {
			if v, ok := m[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return string(e.Data)
}
