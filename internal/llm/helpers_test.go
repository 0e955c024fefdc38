package llm

import (
	"github.com/tmc/langchaingo/llms"

	"relay/internal/model"
)

func weatherTool() []llms.Tool {
	return []llms.Tool{model.ToolDefinition("get_weather", "Current weather for a city", map[string]any{
		"type":       "object",
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
		"required":   []string{"city"},
	})}
}

// collect runs chunks through a slice so tests can assert on them.
func collect(out *[]model.StreamChunk) func(model.StreamChunk) error {
	return func(c model.StreamChunk) error {
		*out = append(*out, c)
		return nil
	}
}
