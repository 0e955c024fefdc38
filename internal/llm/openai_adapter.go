package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"relay/internal/chat"
	"relay/internal/model"
)

// OpenAIAdapter talks to the OpenAI chat completions API or any server that
// implements it.
type OpenAIAdapter struct {
	name   string
	client openai.Client
	model  string
	logger *zap.Logger
}

func NewOpenAIAdapter(provider Provider, opts Options) (chat.Adapter, error) {
	if opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	reqOpts := []option.RequestOption{
		// retries belong to the caller's policy
		option.WithMaxRetries(0),
	}
	if key := opts.apiKey("RELAY_OPENAI_API_KEY", "OPENAI_API_KEY"); key != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(key))
	} else if provider == ProviderOpenAICompatible {
		// local servers usually ignore the key but the header must be present
		reqOpts = append(reqOpts, option.WithAPIKey("relay"))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &OpenAIAdapter{
		name:   string(provider),
		client: openai.NewClient(reqOpts...),
		model:  opts.Model,
		logger: opts.logger(),
	}, nil
}

func (a *OpenAIAdapter) Name() string { return a.name }

func (a *OpenAIAdapter) Send(ctx context.Context, req model.Request, caps model.Capabilities, onChunk func(model.StreamChunk) error) (*model.Response, error) {
	req = Prepare(req, caps)
	params := a.newParams(req)

	if onChunk != nil && caps.SupportsStreaming {
		return a.stream(ctx, params, onChunk)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &model.ProviderError{Kind: model.KindMalformed, Provider: a.name, Message: "response has no choices"}
	}
	choice := resp.Choices[0]
	out := &model.Response{
		Text:       choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.RawToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (a *OpenAIAdapter) stream(ctx context.Context, params openai.ChatCompletionNewParams, onChunk func(model.StreamChunk) error) (*model.Response, error) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	s := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer s.Close()

	out := &model.Response{}
	// Some compatible servers repeat the id and name on every fragment.
	ids := map[int]string{}
	names := map[int]string{}
	for s.Next() {
		chunk := s.Current()
		if chunk.Usage.TotalTokens > 0 {
			out.Usage = model.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			if choice.Delta.Content != "" {
				if err := onChunk(model.StreamChunk{Text: choice.Delta.Content}); err != nil {
					return nil, err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := int(tc.Index)
				frag := &model.ToolCallFragment{Index: idx, ArgumentsDelta: tc.Function.Arguments}
				if tc.ID != "" && tc.ID != ids[idx] {
					frag.IDDelta = tc.ID
					ids[idx] += tc.ID
				}
				if tc.Function.Name != "" && tc.Function.Name != names[idx] {
					frag.NameDelta = tc.Function.Name
					names[idx] += tc.Function.Name
				}
				if err := onChunk(model.StreamChunk{ToolCall: frag}); err != nil {
					return nil, err
				}
			}
			if choice.FinishReason != "" {
				out.StopReason = choice.FinishReason
			}
		}
	}
	if err := s.Err(); err != nil {
		return nil, a.classify(err)
	}
	a.logger.Debug("openai stream finished", zap.String("stop_reason", out.StopReason), zap.Int64("total_tokens", out.Usage.TotalTokens))
	return out, nil
}

func (a *OpenAIAdapter) newParams(req model.Request) openai.ChatCompletionNewParams {
	name := a.model
	if req.Params.Model != "" {
		name = req.Params.Model
	}
	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(name),
		Messages: a.messages(req.Messages),
	}
	if req.Params.Temperature != 0 {
		p.Temperature = openai.Float(req.Params.Temperature)
	}
	if req.Params.TopP != 0 {
		p.TopP = openai.Float(req.Params.TopP)
	}
	if req.Params.MaxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(req.Params.MaxTokens))
	}
	if len(req.Params.Stop) > 0 {
		p.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Params.Stop}
	}
	for _, t := range req.Params.Tools {
		if t.Function == nil {
			continue
		}
		def := openai.FunctionDefinitionParam{
			Name:       t.Function.Name,
			Parameters: openai.FunctionParameters(toolSchema(t.Function.Parameters)),
		}
		if t.Function.Description != "" {
			def.Description = openai.String(t.Function.Description)
		}
		p.Tools = append(p.Tools, openai.ChatCompletionFunctionTool(def))
	}
	return p
}

func (a *OpenAIAdapter) messages(history []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case model.RoleUser:
			if !m.HasImages() {
				out = append(out, openai.UserMessage(m.Text()))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Content))
			for _, c := range m.Content {
				if c.IsImage() {
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: c.ImageRef}))
				} else if c.Text != "" {
					parts = append(parts, openai.TextContentPart(c.Text))
				}
			}
			out = append(out, openai.UserMessage(parts))
		case model.RoleAssistant:
			msg := openai.ChatCompletionAssistantMessageParam{}
			if text := m.Text(); text != "" {
				msg.Content.OfString = openai.String(text)
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.ArgumentsJSON(),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case model.RoleTool:
			out = append(out, openai.ToolMessage(m.Text(), m.ToolCallID))
		}
	}
	return out
}

func (a *OpenAIAdapter) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe := model.ClassifyError(a.name, apiErr.StatusCode, err)
		if apiErr.Message != "" {
			pe.Message = strings.TrimSpace(apiErr.Type + " " + apiErr.Message)
		}
		return pe
	}
	return model.ClassifyError(a.name, 0, err)
}
