package model

import "strings"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentItem is either a text fragment or a reference to an image. Exactly
// one of Text and ImageRef is meaningful; ImageRef wins when both are set.
type ContentItem struct {
	Text     string `json:"text,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
}

func TextItem(s string) ContentItem    { return ContentItem{Text: s} }
func ImageItem(uri string) ContentItem { return ContentItem{ImageRef: uri} }

func (c ContentItem) IsImage() bool { return c.ImageRef != "" }

type Message struct {
	Role    Role          `json:"role"`
	Content []ContentItem `json:"content"`

	// For assistant messages: the tool calls they made.
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`

	// For tool messages: the call being answered.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentItem{TextItem(text)}}
}

// Text joins the message's text items, skipping images.
func (m Message) Text() string {
	switch len(m.Content) {
	case 0:
		return ""
	case 1:
		if m.Content[0].IsImage() {
			return ""
		}
		return m.Content[0].Text
	}
	var b strings.Builder
	for _, c := range m.Content {
		if c.IsImage() || c.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

func (m Message) HasImages() bool {
	for _, c := range m.Content {
		if c.IsImage() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate independently of m.
func (m Message) Clone() Message {
	out := m
	if m.Content != nil {
		out.Content = append([]ContentItem(nil), m.Content...)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCallRequest, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	return out
}

func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
