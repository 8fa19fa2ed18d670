// clone.go — 深拷贝辅助: 快照交给 API 层前复制, 避免外部读到在途修改。
package convstate

// CloneConversation 深拷贝一个会话。
func CloneConversation(c *Conversation) Conversation {
	out := *c
	out.Messages = CloneMessages(c.Messages)
	return out
}

// CloneMessages 深拷贝消息列表。
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i := range msgs {
		out[i] = CloneMessage(&msgs[i])
	}
	return out
}

// CloneMessage 深拷贝单条消息。
func CloneMessage(m *Message) Message {
	out := *m
	if m.Steps != nil {
		out.Steps = make([]Step, len(m.Steps))
		for i := range m.Steps {
			out.Steps[i] = cloneStep(&m.Steps[i])
		}
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment{}, m.Attachments...)
	}
	return out
}

func cloneStep(s *Step) Step {
	out := *s
	if s.Contents != nil {
		out.Contents = append([]ContentItem{}, s.Contents...)
	}
	out.Thinking = cloneSubBlock(s.Thinking)
	out.Code = cloneSubBlock(s.Code)
	out.Output = cloneSubBlock(s.Output)
	return out
}

func cloneSubBlock(b *SubBlock) *SubBlock {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}
