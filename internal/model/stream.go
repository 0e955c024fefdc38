package model

// ToolCallFragment is one partial piece of a streamed tool call. Fragments
// sharing an Index belong to the same call and concatenate in arrival order.
type ToolCallFragment struct {
	Index          int
	IDDelta        string
	NameDelta      string
	ArgumentsDelta string
}

// StreamChunk is the incremental unit an adapter hands to the decoder.
type StreamChunk struct {
	Text     string
	ToolCall *ToolCallFragment
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// Add returns the field-wise sum. A zero TotalTokens on either side is
// derived from its prompt and completion counts.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.total() + o.total(),
	}
}

func (u Usage) total() int64 {
	if u.TotalTokens != 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}
