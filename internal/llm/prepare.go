package llm

import (
	"encoding/json"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"relay/internal/model"
	"relay/internal/toolcall"
)

// Prepare reshapes a request for a backend with the given capabilities.
// Features the backend lacks are degraded rather than rejected: images
// become text notes, system messages are folded into the first user
// message, and tool traffic is rewritten as tagged text. Outbound tool
// names are shortened to the backend's limit.
func Prepare(req model.Request, caps model.Capabilities) model.Request {
	out := model.Request{Messages: model.CloneMessages(req.Messages), Params: req.Params.Clone()}

	if !caps.SupportsVision {
		out.Messages = stripImages(out.Messages)
	}
	if caps.NativeTools() {
		out.Messages = shortenNames(out.Messages, caps.MaxToolNameLength)
		out.Params.Tools = shortenTools(out.Params.Tools, caps.MaxToolNameLength)
	} else {
		out.Messages = flattenToolTraffic(out.Messages)
		out.Params.Tools = nil
	}
	if !caps.SupportsSystemMessages {
		out.Messages = foldSystem(out.Messages)
	}
	return out
}

func stripImages(msgs []model.Message) []model.Message {
	for i, m := range msgs {
		if !m.HasImages() {
			continue
		}
		items := make([]model.ContentItem, 0, len(m.Content))
		for _, c := range m.Content {
			if c.IsImage() {
				items = append(items, model.TextItem("[image omitted: "+c.ImageRef+"]"))
				continue
			}
			items = append(items, c)
		}
		msgs[i].Content = items
	}
	return msgs
}

func shortenNames(msgs []model.Message, limit int) []model.Message {
	if limit <= 0 {
		return msgs
	}
	for i := range msgs {
		for j := range msgs[i].ToolCalls {
			msgs[i].ToolCalls[j].Name = model.ShortenToolName(msgs[i].ToolCalls[j].Name, limit)
		}
		if msgs[i].ToolName != "" {
			msgs[i].ToolName = model.ShortenToolName(msgs[i].ToolName, limit)
		}
	}
	return msgs
}

func shortenTools(tools []llms.Tool, limit int) []llms.Tool {
	if limit <= 0 {
		return tools
	}
	for i, t := range tools {
		if t.Function == nil || len(t.Function.Name) <= limit {
			continue
		}
		fn := *t.Function
		fn.Name = model.ShortenToolName(fn.Name, limit)
		tools[i].Function = &fn
	}
	return tools
}

// flattenToolTraffic rewrites assistant tool calls and tool results as
// tagged text. Consecutive tool results become a single user message.
func flattenToolTraffic(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.Role == model.RoleAssistant && len(m.ToolCalls) > 0:
			text := m.Text()
			if !strings.Contains(text, "<tool_call") {
				parts := []string{}
				if strings.TrimSpace(text) != "" {
					parts = append(parts, text)
				}
				for _, c := range m.ToolCalls {
					parts = append(parts, toolcall.RenderCall(c))
				}
				text = strings.Join(parts, "\n")
			}
			out = append(out, model.NewTextMessage(model.RoleAssistant, text))
		case m.Role == model.RoleTool:
			block := toolcall.RenderResult(m.ToolCallID, m.ToolName, !m.IsError, m.Text())
			if n := len(out); n > 0 && out[n-1].Role == model.RoleUser && strings.HasPrefix(out[n-1].Text(), "<tool_result") {
				out[n-1] = model.NewTextMessage(model.RoleUser, out[n-1].Text()+"\n"+block)
				continue
			}
			out = append(out, model.NewTextMessage(model.RoleUser, block))
		default:
			out = append(out, m)
		}
	}
	return out
}

// foldSystem merges every system message into the first user message.
func foldSystem(msgs []model.Message) []model.Message {
	var sys []string
	rest := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			if t := strings.TrimSpace(m.Text()); t != "" {
				sys = append(sys, t)
			}
			continue
		}
		rest = append(rest, m)
	}
	if len(sys) == 0 {
		return rest
	}
	prefix := strings.Join(sys, "\n\n")
	for i, m := range rest {
		if m.Role != model.RoleUser {
			continue
		}
		items := append([]model.ContentItem{model.TextItem(prefix + "\n")}, m.Content...)
		rest[i].Content = items
		return rest
	}
	return append([]model.Message{model.NewTextMessage(model.RoleUser, prefix)}, rest...)
}

// toolSchema returns a tool's parameter schema as a JSON object.
func toolSchema(v any) map[string]any {
	switch s := v.(type) {
	case nil:
		return map[string]any{"type": "object", "properties": map[string]any{}}
	case map[string]any:
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if json.Unmarshal(b, &out) != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	return out
}
