// Package convstate 维护会话消息状态的纯归约逻辑。
//
// 包含: 模型类型、事件分类器 (Classifier)、截断事件缓冲 (TruncationBuffer)、
// 展示拆分器 (Splitter)。本包不做网络 I/O, 不持锁跨协程 —
// 所有变更由 coordinator 串行驱动。
package convstate

import "time"

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 内容项类型词表 (与上游事件类型同名, 另加 thinking/code/output 子块类型)。
const (
	TypeProgress                 = "progress"
	TypeError                    = "error"
	TypeFileProcessed            = "file_processed"
	TypeComplete                 = "complete"
	TypeTruncation               = "truncation"
	TypeCard                     = "card"
	TypeSearchContent            = "search_content"
	TypeSearchContentPlaceholder = "search_content_placeholder"
	TypeModelOutput              = "model_output"
	TypeExecution                = "execution"
	TypeMemorySearch             = "memory_search"
	TypeVirtual                  = "virtual"
	TypeThinking                 = "thinking"
	TypeCode                     = "code"
	TypeOutput                   = "output"
)

// ContentItem 单条轨迹内容。Content 为字符串或结构化值。
type ContentItem struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Content any       `json:"content"`
	Ts      time.Time `json:"ts"`
}

// SubBlock 步骤子块 (thinking/code/output 各一个小容器)。
type SubBlock struct {
	Content string    `json:"content"`
	Ts      time.Time `json:"ts"`
}

// Step 一个轨迹单元 (如 "附件预处理")。
type Step struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Contents []ContentItem `json:"contents"`
	Thinking *SubBlock     `json:"thinking,omitempty"`
	Code     *SubBlock     `json:"code,omitempty"`
	Output   *SubBlock     `json:"output,omitempty"`
}

// Attachment 消息附件引用 (上传/存储由外部协作方负责)。
type Attachment struct {
	ObjectName  string `json:"object_name"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Message 一条消息。
//
// 用户消息创建后不可变; 助手消息是流式期间唯一被原地修改的消息。
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"createdAt"`
	IsComplete  bool         `json:"isComplete"`
	Steps       []Step       `json:"steps,omitempty"`
	FinalAnswer string       `json:"finalAnswer,omitempty"` // 权威渲染答案, 区别于原始 Content
	Error       string       `json:"error,omitempty"`
	Thinking    bool         `json:"thinking,omitempty"` // 思考指示器
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Conversation 一个会话。
//
// Streaming 由会话管理器派生, 不在此处存储。
type Conversation struct {
	ID                    string    `json:"id"`
	Title                 string    `json:"title"`
	Messages              []Message `json:"messages"`
	CompletedInBackground bool      `json:"completedInBackground"`
	LoadError             string    `json:"loadError,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
}

// TaskMessage 任务轨迹视图条目 (派生数据, 每次重算, 不独立修改)。
type TaskMessage struct {
	Type             string `json:"type"`
	Content          any    `json:"content"`
	AssistantID      string `json:"assistantId"`
	RelatedUserMsgID string `json:"relatedUserMsgId"`
}

// SplitResult 展示拆分结果: 最终时间线 + 按用户轮次分组的任务轨迹。
type SplitResult struct {
	Timeline   []Message                `json:"timeline"`
	TaskGroups map[string][]TaskMessage `json:"taskGroups"`
}
