package chat

import "relay/internal/model"

// SanitizeHistory makes a message list acceptable to backends that pair
// tool results with the assistant message that requested them.
//
// Tool results with no matching earlier tool call are dropped. User and
// system messages stuck between an assistant tool call and its results are
// moved after the result block. Tool calls that never received a result are
// removed from their assistant message.
func SanitizeHistory(messages []model.Message) []model.Message {
	if len(messages) == 0 {
		return messages
	}

	answered := map[string]bool{}
	for _, m := range messages {
		if m.Role == model.RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}

	allowed := map[string]bool{}
	out := make([]model.Message, 0, len(messages))
	var deferred []model.Message
	pending := false
	for _, m := range messages {
		switch m.Role {
		case model.RoleAssistant:
			if len(deferred) > 0 {
				out = append(out, deferred...)
				deferred = nil
			}
			if len(m.ToolCalls) > 0 {
				kept := make([]model.ToolCallRequest, 0, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					if tc.ID != "" && answered[tc.ID] {
						allowed[tc.ID] = true
						kept = append(kept, tc)
					}
				}
				m = m.Clone()
				m.ToolCalls = kept
				if len(kept) == 0 {
					m.ToolCalls = nil
				}
			}
			pending = len(m.ToolCalls) > 0
			out = append(out, m)
		case model.RoleTool:
			if m.ToolCallID != "" && allowed[m.ToolCallID] {
				out = append(out, m)
			}
		default:
			if pending {
				deferred = append(deferred, m)
			} else {
				out = append(out, m)
			}
		}
	}
	return append(out, deferred...)
}
