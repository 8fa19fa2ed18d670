// stream.go — NDJSON 事件流读取端。
package upstream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/agentchat/go-chat-core/pkg/logger"
)

// maxLineBytes 单行事件上限。超长行视为格式错误并跳过。
const maxLineBytes = 1 << 20 // 1MB

// lineStream 在 resp.Body 上逐行解码事件信封。
type lineStream struct {
	convID  string
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newLineStream(convID string, body io.ReadCloser) *lineStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &lineStream{convID: convID, body: body, scanner: sc}
}

// Next 返回下一条事件。
//
// 单行解析失败只记录日志并继续读下一行 (不中断流);
// 流正常结束返回 io.EOF。
func (s *lineStream) Next() (Event, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logger.Warn("upstream: malformed event line skipped",
				logger.FieldConvID, s.convID,
				logger.FieldError, err,
				logger.FieldLen, len(line),
			)
			continue
		}
		if ev.Type == "" {
			logger.Warn("upstream: event without type skipped", logger.FieldConvID, s.convID)
			continue
		}
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Close 关闭底层响应体。
func (s *lineStream) Close() error {
	return s.body.Close()
}
