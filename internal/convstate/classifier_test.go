package convstate

import (
	"encoding/json"
	"testing"

	"github.com/agentchat/go-chat-core/internal/upstream"
)

func newAssistantMsg() *Message {
	return &Message{ID: "a1", Role: RoleAssistant}
}

func event(t *testing.T, typ string, data any) upstream.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	return upstream.Event{Type: typ, Data: raw}
}

func preprocessStep(t *testing.T, msg *Message) *Step {
	t.Helper()
	for i := range msg.Steps {
		if msg.Steps[i].Title == StepTitlePreprocess {
			return &msg.Steps[i]
		}
	}
	t.Fatal("preprocess step not found")
	return nil
}

func TestApply_IgnoresNonAssistant(t *testing.T) {
	c := NewClassifier()
	msg := &Message{ID: "u1", Role: RoleUser}
	c.Apply("c1", msg, event(t, upstream.EventProgress, map[string]any{"message": "x"}))

	if len(msg.Steps) != 0 {
		t.Fatal("user message must not be mutated")
	}
}

func TestApply_ProgressOverwritesSlot(t *testing.T) {
	c := NewClassifier()
	msg := newAssistantMsg()

	c.Apply("c1", msg, event(t, upstream.EventProgress, map[string]any{"current": 1, "total": 3}))
	c.Apply("c1", msg, event(t, upstream.EventProgress, map[string]any{"current": 2, "total": 3}))
	c.Apply("c1", msg, event(t, upstream.EventProgress, map[string]any{"current": 3, "total": 3}))

	step := preprocessStep(t, msg)
	if len(step.Contents) != 1 {
		t.Fatalf("contents len = %d, want 1 (slot overwrite, bounded memory)", len(step.Contents))
	}
	if step.Contents[0].Content != "正在解析附件 (3/3)" {
		t.Fatalf("slot = %v, want latest status only", step.Contents[0].Content)
	}
}

func TestApply_ProgressFallsBackToRawText(t *testing.T) {
	c := NewClassifier()
	msg := newAssistantMsg()
	c.Apply("c1", msg, upstream.Event{Type: upstream.EventProgress, Data: []byte(`"raw status"`)})

	step := preprocessStep(t, msg)
	if step.Contents[0].Content != "raw status" {
		t.Fatalf("slot = %v, want raw status", step.Contents[0].Content)
	}
}

func TestApply_FileError(t *testing.T) {
	c := NewClassifier()
	msg := newAssistantMsg()
	c.Apply("c1", msg, event(t, upstream.EventError, map[string]any{"filename": "a.pdf"}))

	step := preprocessStep(t, msg)
	if step.Contents[0].Content != "文件 a.pdf 解析失败" {
		t.Fatalf("slot = %v", step.Contents[0].Content)
	}
	if step.Contents[0].Type != TypeError {
		t.Fatalf("type = %q, want error", step.Contents[0].Type)
	}
}

func TestApply_FileProcessedRecordsDescription(t *testing.T) {
	c := NewClassifier()
	msg := newAssistantMsg()
	c.Apply("c1", msg, event(t, upstream.EventFileProcessed,
		map[string]any{"filename": "a.pdf", "description": "季度报告"}))

	step := preprocessStep(t, msg)
	if step.Contents[0].Content != "文件 a.pdf 解析完成" {
		t.Fatalf("slot = %v", step.Contents[0].Content)
	}
	descs := c.Descriptions("c1")
	if descs["a.pdf"] != "季度报告" {
		t.Fatalf("Descriptions = %v, want a.pdf→季度报告", descs)
	}
	// 其他会话不受影响
	if c.Descriptions("c2") != nil {
		t.Fatal("descriptions must be scoped by conversation")
	}
}

func TestApply_CompleteWithEmptyBuffer(t *testing.T) {
	c := NewClassifier()
	msg := newAssistantMsg()
	c.Apply("c1", msg, event(t, upstream.EventComplete, map[string]any{}))

	step := preprocessStep(t, msg)
	if step.Contents[0].Content != "附件解析完成" {
		t.Fatalf("slot = %v", step.Contents[0].Content)
	}
}

func TestApply_TruncationDeduplicatedIntoCompleteSummary(t *testing.T) {
	c := NewClassifier()
	msg := newAssistantMsg()

	trunc := event(t, upstream.EventTruncation, map[string]any{"filename": "a.pdf", "message": "truncated"})
	c.Apply("c1", msg, trunc)
	c.Apply("c1", msg, trunc) // 重复: 应被静默丢弃

	// truncation 不直接渲染
	if len(msg.Steps) != 0 {
		t.Fatalf("truncation must not render directly, steps = %v", msg.Steps)
	}

	c.Apply("c1", msg, event(t, upstream.EventComplete, map[string]any{}))
	step := preprocessStep(t, msg)
	got, ok := step.Contents[0].Content.(string)
	if !ok {
		t.Fatalf("slot content is not string: %v", step.Contents[0].Content)
	}
	want := "文件 a.pdf: truncated"
	if got != want {
		t.Fatalf("summary = %q, want %q (exactly once)", got, want)
	}
}

func TestApply_ModelOutputAccumulates(t *testing.T) {
	c := NewClassifier()
	msg := newAssistantMsg()

	c.Apply("c1", msg, event(t, upstream.EventModelOutput, map[string]any{"delta": "你好"}))
	c.Apply("c1", msg, event(t, upstream.EventModelOutput, map[string]any{"delta": "，世界"}))

	if msg.Content != "你好，世界" {
		t.Fatalf("Content = %q", msg.Content)
	}

	c.Apply("c1", msg, event(t, upstream.EventModelOutput, map[string]any{"content": "你好，世界。"}))
	if msg.FinalAnswer != "你好，世界。" {
		t.Fatalf("FinalAnswer = %q", msg.FinalAnswer)
	}
}

func TestApply_ExecutionSubBlocks(t *testing.T) {
	c := NewClassifier()
	msg := newAssistantMsg()

	c.Apply("c1", msg, event(t, upstream.EventExecution, map[string]any{"thinking": "先查数据"}))
	c.Apply("c1", msg, event(t, upstream.EventExecution, map[string]any{"code": "print(1)"}))
	c.Apply("c1", msg, event(t, upstream.EventExecution, map[string]any{"code": "print(2)", "output": "2\n"}))

	var step *Step
	for i := range msg.Steps {
		if msg.Steps[i].Title == StepTitleExecution {
			step = &msg.Steps[i]
		}
	}
	if step == nil {
		t.Fatal("execution step not found")
	}
	if step.Thinking == nil || step.Thinking.Content != "先查数据" {
		t.Fatalf("Thinking = %+v", step.Thinking)
	}
	if step.Code == nil || step.Code.Content != "print(2)" {
		t.Fatalf("Code = %+v, want latest full code", step.Code)
	}
	if step.Output == nil || step.Output.Content != "2\n" {
		t.Fatalf("Output = %+v", step.Output)
	}
}

func TestApply_UnknownTypeFallsThrough(t *testing.T) {
	c := NewClassifier()
	msg := newAssistantMsg()

	c.Apply("c1", msg, upstream.Event{Type: "future_event", Data: []byte(`"some text"`)})
	c.Apply("c1", msg, upstream.Event{Type: "future_struct", Data: []byte(`{"k":"v"}`)})

	var step *Step
	for i := range msg.Steps {
		if msg.Steps[i].Title == StepTitleTrace {
			step = &msg.Steps[i]
		}
	}
	if step == nil || len(step.Contents) != 2 {
		t.Fatalf("unknown events must be rendered, step = %+v", step)
	}
	if step.Contents[0].Content != "some text" {
		t.Fatalf("string payload = %v", step.Contents[0].Content)
	}
	m, ok := step.Contents[1].Content.(map[string]any)
	if !ok || m["k"] != "v" {
		t.Fatalf("structured payload = %v", step.Contents[1].Content)
	}
}

func TestForget_ClearsScope(t *testing.T) {
	c := NewClassifier()
	msg := newAssistantMsg()
	c.Apply("c1", msg, event(t, upstream.EventFileProcessed,
		map[string]any{"filename": "a.pdf", "description": "d"}))
	c.Apply("c1", msg, event(t, upstream.EventTruncation,
		map[string]any{"filename": "a.pdf", "message": "m"}))

	c.Forget("c1")

	if c.Descriptions("c1") != nil {
		t.Fatal("Forget should clear descriptions")
	}
	msg2 := newAssistantMsg()
	c.Apply("c1", msg2, event(t, upstream.EventComplete, map[string]any{}))
	step := preprocessStep(t, msg2)
	if step.Contents[0].Content != "附件解析完成" {
		t.Fatalf("buffer should be empty after Forget, slot = %v", step.Contents[0].Content)
	}
}
