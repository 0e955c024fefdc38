package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
)

// ToolCallRequest is a normalized tool invocation. Arguments are always a
// decoded JSON object by the time a request leaves the extractor.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	// Textual marks calls parsed from inline tags, whose argument values
	// are all strings until coerced against the tool's schema.
	Textual bool `json:"-"`
}

func (r ToolCallRequest) Clone() ToolCallRequest {
	out := r
	if r.Arguments != nil {
		out.Arguments = maps.Clone(r.Arguments)
	}
	return out
}

// ArgumentsJSON renders the arguments as a JSON object, "{}" when empty.
func (r ToolCallRequest) ArgumentsJSON() string {
	if len(r.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(r.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

type ToolCallResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Text is what the model sees for this result.
func (r ToolCallResult) Text() string {
	if r.Success {
		return r.Content
	}
	if r.Content != "" {
		return "Error: " + r.Error + "\n" + r.Content
	}
	return "Error: " + r.Error
}

// RawToolCall is a complete tool call as a non-streaming backend returns it,
// before argument decoding.
type RawToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ShortenToolName maps name onto at most limit bytes. Names within the limit
// are returned unchanged; longer ones keep a prefix and end in "_" plus eight
// hex characters of the name's SHA-256, so the mapping is stable.
func ShortenToolName(name string, limit int) string {
	if limit <= 0 || len(name) <= limit {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:4])
	if limit <= len(suffix) {
		return suffix[len(suffix)-limit:]
	}
	return name[:limit-len(suffix)] + suffix
}
