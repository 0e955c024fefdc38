package model

import "github.com/tmc/langchaingo/llms"

// Params are the per-request generation settings. Middlewares may replace
// them before a round is sent.
type Params struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Stop        []string

	// Tool definitions in LangChainGo form; adapters translate them to their
	// own wire shape.
	Tools []llms.Tool
}

func (p Params) Clone() Params {
	out := p
	if p.Stop != nil {
		out.Stop = append([]string(nil), p.Stop...)
	}
	if p.Tools != nil {
		out.Tools = append([]llms.Tool(nil), p.Tools...)
	}
	return out
}

// Request is one round sent to a backend.
type Request struct {
	Messages []Message
	Params   Params
}

// Response is what a backend returned for one round. When the round was
// streamed, Text and ToolCalls are empty and the content arrived through
// chunks; Usage and StopReason are always filled when known.
type Response struct {
	Text       string
	ToolCalls  []RawToolCall
	Usage      Usage
	StopReason string
}

// ToolDefinition builds a function tool in the shape Params.Tools expects.
func ToolDefinition(name, description string, parameters map[string]any) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}
