package llm

import (
	"context"
	"errors"
	"strconv"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"relay/internal/model"
)

// langchainAdapter drives any LangChainGo model. LangChainGo only streams
// text, so tool calls are handed to the decoder as whole fragments once the
// call returns.
type langchainAdapter struct {
	name   string
	llm    llms.Model
	model  string
	logger *zap.Logger
	// mapErr turns a backend error into an *llms.Error. Nil uses the
	// generic langchaingo mapper.
	mapErr func(error) error
}

func (a *langchainAdapter) Name() string { return a.name }

func (a *langchainAdapter) Send(ctx context.Context, req model.Request, caps model.Capabilities, onChunk func(model.StreamChunk) error) (*model.Response, error) {
	req = Prepare(req, caps)
	opts := a.callOptions(req.Params)

	streaming := onChunk != nil && caps.SupportsStreaming
	var streamed bool
	var chunkErr error
	if streaming {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			if err := onChunk(model.StreamChunk{Text: string(chunk)}); err != nil {
				chunkErr = err
				return err
			}
			return nil
		}))
	}

	resp, err := a.llm.GenerateContent(ctx, toLangchainMessages(req.Messages), opts...)
	if chunkErr != nil {
		return nil, chunkErr
	}
	if err != nil {
		return nil, a.classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, &model.ProviderError{Kind: model.KindMalformed, Provider: a.name, Message: "response has no choices"}
	}
	choice := resp.Choices[0]
	out := &model.Response{
		StopReason: choice.StopReason,
		Usage:      usageFromInfo(choice.GenerationInfo),
	}

	calls := make([]model.RawToolCall, 0, len(choice.ToolCalls))
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		calls = append(calls, model.RawToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments})
	}

	if !streaming {
		out.Text = choice.Content
		out.ToolCalls = calls
		return out, nil
	}
	if !streamed && choice.Content != "" {
		if err := onChunk(model.StreamChunk{Text: choice.Content}); err != nil {
			return nil, err
		}
	}
	for i, tc := range calls {
		frag := &model.ToolCallFragment{Index: i, IDDelta: tc.ID, NameDelta: tc.Name, ArgumentsDelta: tc.Arguments}
		if err := onChunk(model.StreamChunk{ToolCall: frag}); err != nil {
			return nil, err
		}
	}
	if len(calls) > 0 {
		a.logger.Debug("model returned tool calls", zap.String("provider", a.name), zap.Int("count", len(calls)))
	}
	return out, nil
}

// classify maps a langchaingo error code onto an error kind. Errors the
// mapper cannot place keep the transport-level classification.
func (a *langchainAdapter) classify(err error) *model.ProviderError {
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.ClassifyError(a.name, 0, err)
	}

	var le *llms.Error
	if !errors.As(err, &le) {
		mapped := err
		if a.mapErr != nil {
			mapped = a.mapErr(err)
		} else {
			mapped = llms.NewErrorMapper(a.name).Map(err)
		}
		if !errors.As(mapped, &le) {
			return model.ClassifyError(a.name, 0, err)
		}
	}

	kind := kindForCode(le.Code)
	if kind == model.KindUnknown {
		return model.ClassifyError(a.name, 0, err)
	}
	msg := le.Message
	if msg == "" {
		msg = err.Error()
	}
	return &model.ProviderError{Kind: kind, Provider: a.name, Message: msg, Err: err}
}

func kindForCode(code llms.ErrorCode) model.ErrorKind {
	switch code {
	case llms.ErrCodeAuthentication:
		return model.KindAuth
	case llms.ErrCodeRateLimit, llms.ErrCodeQuotaExceeded:
		return model.KindRateLimit
	case llms.ErrCodeInvalidRequest, llms.ErrCodeResourceNotFound, llms.ErrCodeTokenLimit,
		llms.ErrCodeContentFilter, llms.ErrCodeNotImplemented:
		return model.KindInvalidRequest
	case llms.ErrCodeTimeout:
		return model.KindNetwork
	case llms.ErrCodeCanceled:
		return model.KindCanceled
	case llms.ErrCodeProviderUnavailable:
		return model.KindUnavailable
	}
	return model.KindUnknown
}

func (a *langchainAdapter) callOptions(p model.Params) []llms.CallOption {
	opts := make([]llms.CallOption, 0, 8)
	name := a.model
	if p.Model != "" {
		name = p.Model
	}
	if name != "" {
		opts = append(opts, llms.WithModel(name))
	}
	if p.Temperature != 0 {
		opts = append(opts, llms.WithTemperature(p.Temperature))
	}
	if p.TopP != 0 {
		opts = append(opts, llms.WithTopP(p.TopP))
	}
	if p.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.MaxTokens))
	}
	if len(p.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(p.Stop))
	}
	if len(p.Tools) > 0 {
		opts = append(opts, llms.WithTools(p.Tools))
	}
	return opts
}

func toLangchainMessages(history []model.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Text()))
		case model.RoleUser:
			parts := make([]llms.ContentPart, 0, len(m.Content))
			for _, c := range m.Content {
				if c.IsImage() {
					parts = append(parts, llms.ImageURLPart(c.ImageRef))
				} else if c.Text != "" {
					parts = append(parts, llms.TextPart(c.Text))
				}
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts})
		case model.RoleAssistant:
			var parts []llms.ContentPart
			if text := m.Text(); text != "" {
				parts = append(parts, llms.TextPart(text))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON(),
					},
				})
			}
			// some backends reject an assistant turn with no parts
			if len(parts) == 0 {
				parts = append(parts, llms.TextPart(" "))
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case model.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.ToolName,
					Content:    m.Text(),
				}},
			})
		}
	}
	return out
}

// usageFromInfo reads token counts from GenerationInfo. Backends disagree on
// the integer type.
func usageFromInfo(info map[string]any) model.Usage {
	u := model.Usage{
		PromptTokens:     infoInt(info, "PromptTokens"),
		CompletionTokens: infoInt(info, "CompletionTokens"),
		TotalTokens:      infoInt(info, "TotalTokens"),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func infoInt(info map[string]any, key string) int64 {
	switch v := info[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

var errNoModel = errors.New("model is required")
