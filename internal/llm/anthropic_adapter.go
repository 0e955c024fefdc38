package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"relay/internal/chat"
	"relay/internal/model"
)

// defaultMaxTokens is sent when the request leaves MaxTokens unset; the
// Messages API requires one.
const defaultMaxTokens = 4096

type AnthropicAdapter struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

func NewAnthropicAdapter(opts Options) (chat.Adapter, error) {
	if opts.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if key := opts.apiKey("RELAY_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"); key != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(key))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &AnthropicAdapter{
		client: anthropic.NewClient(reqOpts...),
		model:  opts.Model,
		logger: opts.logger(),
	}, nil
}

func (a *AnthropicAdapter) Name() string { return string(ProviderAnthropic) }

func (a *AnthropicAdapter) Send(ctx context.Context, req model.Request, caps model.Capabilities, onChunk func(model.StreamChunk) error) (*model.Response, error) {
	req = Prepare(req, caps)
	params := a.newParams(req)

	if onChunk != nil && caps.SupportsStreaming {
		return a.stream(ctx, params, onChunk)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.classify(err)
	}
	out := &model.Response{
		StopReason: string(msg.StopReason),
		Usage: model.Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, model.RawToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	out.Text = strings.Join(text, "")
	return out, nil
}

func (a *AnthropicAdapter) stream(ctx context.Context, params anthropic.MessageNewParams, onChunk func(model.StreamChunk) error) (*model.Response, error) {
	s := a.client.Messages.NewStreaming(ctx, params)
	defer s.Close()

	out := &model.Response{}
	for s.Next() {
		switch ev := s.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			out.Usage.PromptTokens = ev.Message.Usage.InputTokens
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type != "tool_use" {
				continue
			}
			frag := &model.ToolCallFragment{
				Index:     int(ev.Index),
				IDDelta:   ev.ContentBlock.ID,
				NameDelta: ev.ContentBlock.Name,
			}
			if err := onChunk(model.StreamChunk{ToolCall: frag}); err != nil {
				return nil, err
			}
		case anthropic.ContentBlockDeltaEvent:
			var chunk model.StreamChunk
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				chunk.Text = d.Text
			case anthropic.InputJSONDelta:
				chunk.ToolCall = &model.ToolCallFragment{Index: int(ev.Index), ArgumentsDelta: d.PartialJSON}
			default:
				continue
			}
			if chunk.Text == "" && chunk.ToolCall == nil {
				continue
			}
			if err := onChunk(chunk); err != nil {
				return nil, err
			}
		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				out.StopReason = string(ev.Delta.StopReason)
			}
			out.Usage.CompletionTokens = ev.Usage.OutputTokens
		}
	}
	if err := s.Err(); err != nil {
		return nil, a.classify(err)
	}
	out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	a.logger.Debug("anthropic stream finished", zap.String("stop_reason", out.StopReason), zap.Int64("total_tokens", out.Usage.TotalTokens))
	return out, nil
}

func (a *AnthropicAdapter) newParams(req model.Request) anthropic.MessageNewParams {
	name := a.model
	if req.Params.Model != "" {
		name = req.Params.Model
	}
	maxTokens := int64(defaultMaxTokens)
	if req.Params.MaxTokens > 0 {
		maxTokens = int64(req.Params.MaxTokens)
	}
	system, messages := a.messages(req.Messages)
	p := anthropic.MessageNewParams{
		Model:         anthropic.Model(name),
		MaxTokens:     maxTokens,
		Messages:      messages,
		StopSequences: req.Params.Stop,
	}
	if system != "" {
		p.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Params.Temperature != 0 {
		p.Temperature = anthropic.Float(req.Params.Temperature)
	}
	if req.Params.TopP != 0 {
		p.TopP = anthropic.Float(req.Params.TopP)
	}
	for _, t := range req.Params.Tools {
		if t.Function == nil {
			continue
		}
		schema := toolSchema(t.Function.Parameters)
		tool := &anthropic.ToolParam{
			Name:        t.Function.Name,
			InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"], Required: requiredFields(schema)},
		}
		if t.Function.Description != "" {
			tool.Description = anthropic.String(t.Function.Description)
		}
		p.Tools = append(p.Tools, anthropic.ToolUnionParam{OfTool: tool})
	}
	return p
}

// messages splits out the system text and merges consecutive tool results
// into one user turn, which the Messages API requires.
func (a *AnthropicAdapter) messages(history []model.Message) (string, []anthropic.MessageParam) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(history))
	var results []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range history {
		if m.Role == model.RoleTool {
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Text(), m.IsError))
			continue
		}
		flush()
		switch m.Role {
		case model.RoleSystem:
			system = append(system, m.Text())
		case model.RoleUser:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
			for _, c := range m.Content {
				if c.IsImage() {
					blocks = append(blocks, imageBlock(c.ImageRef))
				} else if c.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(c.Text))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := m.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	flush()
	return strings.Join(system, "\n\n"), out
}

// imageBlock accepts http(s) URLs and base64 data URIs.
func imageBlock(ref string) anthropic.ContentBlockParamUnion {
	if rest, ok := strings.CutPrefix(ref, "data:"); ok {
		if meta, data, ok := strings.Cut(rest, ","); ok && strings.HasSuffix(meta, ";base64") {
			if _, err := base64.StdEncoding.DecodeString(data); err == nil {
				return anthropic.NewImageBlockBase64(strings.TrimSuffix(meta, ";base64"), data)
			}
		}
	}
	return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: ref})
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (a *AnthropicAdapter) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyError(a.Name(), apiErr.StatusCode, err)
	}
	return model.ClassifyError(a.Name(), 0, err)
}
