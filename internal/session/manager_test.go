package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/agentchat/go-chat-core/pkg/errors"
)

// abortRecorder 收集中止回调, 用于断言次数与原因。
type abortRecorder struct {
	mu    sync.Mutex
	calls []struct {
		ConvID     string
		Reason     Reason
		Background bool
	}
}

func (r *abortRecorder) handler(convID string, reason Reason, background bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		ConvID     string
		Reason     Reason
		Background bool
	}{convID, reason, background})
}

func (r *abortRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestBegin_RejectsSecondSession(t *testing.T) {
	m := NewManager(0)
	if _, err := m.Begin("c1"); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	_, err := m.Begin("c1")
	if !errors.Is(err, apperrors.ErrSessionActive) {
		t.Fatalf("second Begin err = %v, want ErrSessionActive", err)
	}
	// 其它会话不受影响
	if _, err := m.Begin("c2"); err != nil {
		t.Fatalf("Begin for another conversation: %v", err)
	}
	if m.ActiveCount() != 2 {
		t.Fatalf("ActiveCount = %d, want 2", m.ActiveCount())
	}
}

func TestBegin_AllowedAgainAfterEnd(t *testing.T) {
	m := NewManager(0)
	if _, err := m.Begin("c1"); err != nil {
		t.Fatal(err)
	}
	m.End("c1")
	if _, err := m.Begin("c1"); err != nil {
		t.Fatalf("Begin after End: %v", err)
	}
}

func TestIdleTimeout_FiresExactlyOneAbort(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	rec := &abortRecorder{}
	m.SetOnAbort(rec.handler)

	ctx, err := m.Begin("c1")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("idle timeout did not cancel the stream context")
	}
	// 让潜在的第二次触发有机会暴露
	time.Sleep(80 * time.Millisecond)

	if got := rec.count(); got != 1 {
		t.Fatalf("abort calls = %d, want exactly 1", got)
	}
	rec.mu.Lock()
	call := rec.calls[0]
	rec.mu.Unlock()
	if call.ConvID != "c1" || call.Reason != ReasonTimeout {
		t.Fatalf("abort call = %+v", call)
	}
	if m.Active("c1") {
		t.Fatal("session must be gone after timeout abort")
	}
}

func TestResetIdle_RearmsTimer(t *testing.T) {
	m := NewManager(60 * time.Millisecond)
	rec := &abortRecorder{}
	m.SetOnAbort(rec.handler)

	if _, err := m.Begin("c1"); err != nil {
		t.Fatal(err)
	}
	// 持续喂事件, 总时长超过单个空闲窗口
	for i := 0; i < 5; i++ {
		time.Sleep(25 * time.Millisecond)
		m.ResetIdle("c1")
	}
	if !m.Active("c1") {
		t.Fatal("stream must stay alive while events keep arriving")
	}
	if rec.count() != 0 {
		t.Fatalf("abort calls = %d, want 0", rec.count())
	}

	// 停止喂事件后按期超时
	select {
	case <-waitAbort(rec):
	case <-time.After(time.Second):
		t.Fatal("timeout abort never fired after events stopped")
	}
}

func waitAbort(rec *abortRecorder) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for rec.count() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		close(ch)
	}()
	return ch
}

func TestEnd_StopsTimerBeforeItFires(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	rec := &abortRecorder{}
	m.SetOnAbort(rec.handler)

	if _, err := m.Begin("c1"); err != nil {
		t.Fatal(err)
	}
	m.End("c1")
	time.Sleep(80 * time.Millisecond)

	if rec.count() != 0 {
		t.Fatalf("abort fired after End, calls = %d", rec.count())
	}
}

func TestAbort_IsIdempotent(t *testing.T) {
	m := NewManager(0)
	rec := &abortRecorder{}
	m.SetOnAbort(rec.handler)

	ctx, err := m.Begin("c1")
	if err != nil {
		t.Fatal(err)
	}
	m.Abort("c1", ReasonUserStop)
	m.Abort("c1", ReasonUserStop)
	m.Abort("missing", ReasonDelete)

	select {
	case <-ctx.Done():
	default:
		t.Fatal("abort must cancel the stream context")
	}
	if got := rec.count(); got != 1 {
		t.Fatalf("abort calls = %d, want 1", got)
	}
}

func TestBackgroundBadge_SetAndCleared(t *testing.T) {
	m := NewManager(0)
	m.SetViewed("c2")

	if _, err := m.Begin("c1"); err != nil {
		t.Fatal(err)
	}
	if background := m.End("c1"); !background {
		t.Fatal("finishing while another conversation is viewed must be background")
	}
	if !m.CompletedInBackground("c1") {
		t.Fatal("badge must be set")
	}

	// 打开会话清除徽标
	m.SetViewed("c1")
	if m.CompletedInBackground("c1") {
		t.Fatal("badge must be cleared when conversation is opened")
	}
}

func TestEnd_ForegroundIsNotBackground(t *testing.T) {
	m := NewManager(0)
	m.SetViewed("c1")

	if _, err := m.Begin("c1"); err != nil {
		t.Fatal(err)
	}
	if background := m.End("c1"); background {
		t.Fatal("finishing the viewed conversation is not background")
	}
	if m.CompletedInBackground("c1") {
		t.Fatal("no badge for foreground completion")
	}
}

func TestSetViewed_DoesNotAbortOtherStreams(t *testing.T) {
	m := NewManager(0)
	rec := &abortRecorder{}
	m.SetOnAbort(rec.handler)

	ctx1, _ := m.Begin("c1")
	ctx2, _ := m.Begin("c2")

	m.SetViewed("c1")
	m.SetViewed("c2")
	m.SetViewed("c3")

	select {
	case <-ctx1.Done():
		t.Fatal("viewing must never cancel c1's stream")
	case <-ctx2.Done():
		t.Fatal("viewing must never cancel c2's stream")
	default:
	}
	if rec.count() != 0 {
		t.Fatalf("abort calls = %d, want 0", rec.count())
	}
}

func TestBegin_ClearsStaleBadge(t *testing.T) {
	m := NewManager(0)
	m.SetViewed("other")
	if _, err := m.Begin("c1"); err != nil {
		t.Fatal(err)
	}
	m.End("c1")
	if !m.CompletedInBackground("c1") {
		t.Fatal("badge expected after background completion")
	}

	// 新一轮流式开始时清掉旧徽标
	if _, err := m.Begin("c1"); err != nil {
		t.Fatal(err)
	}
	if m.CompletedInBackground("c1") {
		t.Fatal("badge must be cleared when a new stream begins")
	}
	m.End("c1")
}
