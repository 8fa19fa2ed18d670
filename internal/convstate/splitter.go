// splitter.go — 展示拆分器: 消息列表 → 最终时间线 + 按轮次分组的任务轨迹。
package convstate

import "strings"

// Split 对会话的完整消息列表做一次拆分重算。
//
// 每次消息状态变化后整体重算 (输入按轮次有界, 无需增量 diff)。
// 算法: 单次正向扫描分组, 截断项挂起至同轮次出现 complete 项;
// 扫描结束后丢弃未释放的挂起项并剪除空分组。
func Split(messages []Message) SplitResult {
	result := SplitResult{
		Timeline:   make([]Message, 0, len(messages)),
		TaskGroups: make(map[string][]TaskMessage),
	}

	// pendingTrunc 按关联用户消息 id 挂起的截断项, 等待同轮次 complete 释放。
	pendingTrunc := make(map[string][]TaskMessage)
	currentUserID := ""

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case RoleUser:
			result.Timeline = append(result.Timeline, *msg)
			currentUserID = msg.ID
			if _, ok := result.TaskGroups[currentUserID]; !ok {
				result.TaskGroups[currentUserID] = []TaskMessage{}
			}

		case RoleAssistant:
			if hasRenderableContent(msg) {
				result.Timeline = append(result.Timeline, *msg)
			}
			// 无前置用户消息 (损坏/截断的历史数据): 轨迹项静默丢弃。
			corrID := resolveCorrelationID(messages, i, currentUserID)
			if corrID == "" {
				continue
			}
			collectTaskMessages(&result, pendingTrunc, msg, corrID)
		}
	}

	// 剪除空分组 — 没有产生轨迹内容的轮次在 UI 中没有轨迹窗口。
	for id, group := range result.TaskGroups {
		if len(group) == 0 {
			delete(result.TaskGroups, id)
		}
	}
	return result
}

// collectTaskMessages 把助手消息的步骤内容转换为 TaskMessage 并入组。
func collectTaskMessages(result *SplitResult, pendingTrunc map[string][]TaskMessage, msg *Message, corrID string) {
	appendGroup := func(tm TaskMessage) {
		result.TaskGroups[corrID] = append(result.TaskGroups[corrID], tm)
	}

	for si := range msg.Steps {
		step := &msg.Steps[si]
		for _, item := range step.Contents {
			tm := TaskMessage{
				Type:             item.Type,
				Content:          item.Content,
				AssistantID:      msg.ID,
				RelatedUserMsgID: corrID,
			}
			switch item.Type {
			case TypeTruncation:
				// 截断项挂起, 等同轮次的 complete 项释放
				pendingTrunc[corrID] = append(pendingTrunc[corrID], tm)
			case TypeComplete:
				if held := pendingTrunc[corrID]; len(held) > 0 {
					result.TaskGroups[corrID] = append(result.TaskGroups[corrID], held...)
					delete(pendingTrunc, corrID)
				}
				appendGroup(tm)
			default:
				appendGroup(tm)
			}
		}
		if step.Thinking != nil && step.Thinking.Content != "" {
			appendGroup(TaskMessage{Type: TypeThinking, Content: step.Thinking.Content, AssistantID: msg.ID, RelatedUserMsgID: corrID})
		}
		if step.Code != nil && step.Code.Content != "" {
			appendGroup(TaskMessage{Type: TypeCode, Content: step.Code.Content, AssistantID: msg.ID, RelatedUserMsgID: corrID})
		}
		if step.Output != nil && step.Output.Content != "" {
			appendGroup(TaskMessage{Type: TypeOutput, Content: step.Output.Content, AssistantID: msg.ID, RelatedUserMsgID: corrID})
		}
	}
}

// resolveCorrelationID 定位助手消息归属的用户轮次。
//
// 正向扫描已维护 currentUserID; 为防历史数据乱序, currentUserID
// 为空时向前回溯最近的用户消息。找不到返回 ""。
func resolveCorrelationID(messages []Message, idx int, currentUserID string) string {
	if currentUserID != "" {
		return currentUserID
	}
	for i := idx - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].ID
		}
	}
	return ""
}

// hasRenderableContent 判断助手消息是否有可进入最终时间线的内容。
func hasRenderableContent(msg *Message) bool {
	if strings.TrimSpace(msg.FinalAnswer) != "" {
		return true
	}
	if strings.TrimSpace(msg.Content) != "" {
		return true
	}
	return msg.Error != ""
}
