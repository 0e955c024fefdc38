package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"relay/internal/middleware"
	"relay/internal/model"
	"relay/internal/stream"
	"relay/internal/toolcall"
	"relay/internal/usage"
)

const DefaultMaxIterations = 8

var (
	// ErrEmptyInput rejects a turn with no text and no images.
	ErrEmptyInput    = errors.New("empty input")
	ErrEmptyResponse = errors.New("empty response from model")
)

type Service struct {
	adapter  Adapter
	caps     model.Capabilities
	tools    ToolExecutor
	history  History
	listener Listener
	sink     usage.Sink
	mws      *middleware.Chain
	logger   *zap.Logger

	maxIterations int
	systemPrompt  string
	params        model.Params
	estimator     *usage.Estimator

	// one turn at a time per service
	mu sync.Mutex
}

type ServiceOption func(*Service)

func WithMiddlewareChain(chain *middleware.Chain) ServiceOption {
	return func(s *Service) {
		s.mws = chain
	}
}

func WithCapabilities(caps model.Capabilities) ServiceOption {
	return func(s *Service) {
		s.caps = caps
	}
}

func WithTools(tools ToolExecutor) ServiceOption {
	return func(s *Service) {
		s.tools = tools
	}
}

func WithHistory(h History) ServiceOption {
	return func(s *Service) {
		if h != nil {
			s.history = h
		}
	}
}

func WithListener(l Listener) ServiceOption {
	return func(s *Service) {
		s.listener = l
	}
}

func WithUsageSink(sink usage.Sink) ServiceOption {
	return func(s *Service) {
		s.sink = sink
	}
}

func WithMaxIterations(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSystemPrompt(prompt string) ServiceOption {
	return func(s *Service) {
		s.systemPrompt = strings.TrimSpace(prompt)
	}
}

func WithParams(p model.Params) ServiceOption {
	return func(s *Service) {
		s.params = p.Clone()
	}
}

func WithEstimator(e *usage.Estimator) ServiceOption {
	return func(s *Service) {
		if e != nil {
			s.estimator = e
		}
	}
}

func NewService(adapter Adapter, opts ...ServiceOption) *Service {
	s := &Service{
		adapter: adapter,
		caps: model.Capabilities{
			SupportsTools:          true,
			SupportsStreaming:      true,
			SupportsSystemMessages: true,
			ToolCallFormat:         model.ToolCallFormatNative,
		},
		history:       &sliceHistory{},
		logger:        zap.NewNop(),
		maxIterations: DefaultMaxIterations,
		estimator:     usage.NewEstimator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("provider", adapter.Name()))
	return s
}

func (s *Service) Capabilities() model.Capabilities { return s.caps }

// Send runs one turn and returns its final text.
func (s *Service) Send(ctx context.Context, input string) (string, error) {
	res, err := s.Run(ctx, Input{Text: input})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Clear(ctx)
}

// turn carries the per-turn collaborators Run threads through its helpers.
type turn struct {
	*TurnState
	in     Input
	params model.Params
	defs   []llms.Tool
	names  toolcall.NameMap
	emit   func(Event)
	log    *zap.Logger
}

// Run drives one turn through the state machine until it is Done or
// Errored. On failure the error is a *TurnError carrying the partial text.
func (s *Service) Run(ctx context.Context, in Input) (*Result, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Images) == 0 {
		return nil, ErrEmptyInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &turn{TurnState: newTurnState(), in: in, params: s.params.Clone()}
	t.log = s.logger.With(zap.String("turn_id", t.ID))
	t.emit = func(e Event) {
		e.TurnID = t.ID
		e.Round = t.Round
		if s.listener != nil {
			s.listener.OnEvent(e)
		}
		if in.OnEvent != nil {
			in.OnEvent(e)
		}
	}

	if s.mws != nil {
		e := &middleware.Event{
			Name:     middleware.EventBeforeLLMRequest,
			UserText: text,
			Params:   &t.params,
			Context:  in.Context,
		}
		results, err := s.mws.Dispatch(ctx, e)
		if err != nil {
			return nil, s.fail(t, err)
		}
		if e.Params != nil {
			t.params = e.Params.Clone()
		}
		if r, ok := middleware.Canceled(results); ok {
			return s.canceledByMiddleware(t, r.Decision)
		}
		text = strings.TrimSpace(e.UserText)
	}

	t.emit(Event{Kind: EventTurnStarted})

	prior, err := s.history.Load(ctx)
	if err != nil {
		return nil, s.fail(t, fmt.Errorf("load history: %w", err))
	}

	if s.tools != nil && s.caps.SupportsTools {
		t.defs = s.tools.Definitions()
	}
	names := make([]string, 0, len(t.defs))
	for _, d := range t.defs {
		if d.Function != nil {
			names = append(names, d.Function.Name)
		}
	}
	t.names = toolcall.NewNameMap(names, s.caps.MaxToolNameLength)
	t.format = model.ToolCallFormatNative
	if len(t.defs) > 0 && !s.caps.NativeTools() {
		t.format = model.ToolCallFormatInlineTagged
	}

	user := model.Message{Role: model.RoleUser}
	if text != "" {
		user.Content = append(user.Content, model.TextItem(text))
	}
	for _, img := range in.Images {
		user.Content = append(user.Content, model.ImageItem(img))
	}

	convo := make([]model.Message, 0, len(prior)+2)
	if sys := s.systemMessage(t); sys != "" {
		convo = append(convo, model.NewTextMessage(model.RoleSystem, sys))
	}
	convo = append(convo, prior...)
	convo = append(convo, user)
	t.messages = append(t.messages, user)

	stop := StopComplete
	var last string
	for {
		calls, prose, err := s.round(ctx, t, convo)
		if err != nil {
			return nil, s.fail(t, err)
		}
		t.addProse(prose)
		last = prose
		if len(calls) == 0 {
			if err := t.transition(StateFinalizing); err != nil {
				return nil, s.fail(t, err)
			}
			break
		}

		if err := t.transition(StateToolsPending); err != nil {
			return nil, s.fail(t, err)
		}
		if t.Iterations >= s.maxIterations {
			t.log.Warn("tool loop bound reached", zap.Int("iterations", t.Iterations), zap.Int("pending_calls", len(calls)))
			stop = StopLoopBound
			if err := t.transition(StateFinalizing); err != nil {
				return nil, s.fail(t, err)
			}
			break
		}

		assistant := model.Message{Role: model.RoleAssistant, ToolCalls: calls}
		content := prose
		if t.format == model.ToolCallFormatInlineTagged {
			content = t.decoder.Text()
		}
		if strings.TrimSpace(content) != "" {
			assistant.Content = []model.ContentItem{model.TextItem(content)}
		}
		convo = append(convo, assistant)
		t.messages = append(t.messages, assistant)

		results := s.execute(ctx, t, calls)
		if err := ctx.Err(); err != nil {
			return nil, s.fail(t, err)
		}
		t.results = append(t.results, results...)

		replies := s.resultMessages(t, calls, results)
		convo = append(convo, replies...)
		t.messages = append(t.messages, replies...)
		t.Iterations++
	}

	return s.finalize(ctx, t, text, last, stop)
}

// round sends the conversation once and decodes the reply. It returns the
// tool calls found and the prose that surrounds them.
func (s *Service) round(ctx context.Context, t *turn, convo []model.Message) ([]model.ToolCallRequest, string, error) {
	req := model.Request{Messages: SanitizeHistory(convo), Params: t.params.Clone()}
	req.Params.Tools = nil
	if t.format == model.ToolCallFormatNative && len(t.defs) > 0 {
		req.Params.Tools = t.defs
	}

	dec := stream.NewDecoder()
	t.decoder = dec
	if err := t.transition(StateSent); err != nil {
		return nil, "", err
	}
	t.Round++
	start := time.Now()
	t.log.Debug("round sent", zap.Int("round", t.Round), zap.Int("messages", len(req.Messages)), zap.Int("tools", len(req.Params.Tools)))

	var onChunk func(model.StreamChunk) error
	if s.caps.SupportsStreaming {
		onChunk = func(c model.StreamChunk) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if t.State == StateSent {
				if err := t.transition(StateStreaming); err != nil {
					return err
				}
			}
			dec.Apply(c)
			if c.Text != "" && t.format == model.ToolCallFormatNative && t.in.OnText != nil {
				t.in.OnText(c.Text)
			}
			return nil
		}
	}

	resp, err := s.adapter.Send(ctx, req, s.caps, onChunk)
	if err != nil {
		var de *model.DecodeError
		if errors.As(err, &de) {
			return nil, "", err
		}
		return nil, "", model.ClassifyError(s.adapter.Name(), 0, err)
	}
	if resp == nil {
		resp = &model.Response{}
	}
	if dec.Chunks() == 0 {
		for _, c := range stream.FromResponse(resp) {
			dec.Apply(c)
		}
		if t.format == model.ToolCallFormatNative && resp.Text != "" && t.in.OnText != nil {
			t.in.OnText(resp.Text)
		}
	}

	calls, err := dec.Resolve()
	if err != nil {
		return nil, "", err
	}
	ext, err := toolcall.Extract(t.format, dec.Text(), calls)
	if err != nil {
		return nil, "", err
	}
	t.names.Restore(ext.Calls)
	if t.format == model.ToolCallFormatInlineTagged && t.in.OnText != nil && strings.TrimSpace(ext.Text) != "" {
		t.in.OnText(ext.Text)
	}

	u := resp.Usage
	if u.IsZero() {
		u = s.estimator.Estimate(req.Messages, dec.Text(), ext.Calls)
	}
	t.Usage = t.Usage.Add(u)

	t.log.Debug("round finished",
		zap.Int("round", t.Round),
		zap.Duration("duration", time.Since(start)),
		zap.Int("chunks", dec.Chunks()),
		zap.Int("tool_calls", len(ext.Calls)),
		zap.String("stop_reason", resp.StopReason),
	)
	return ext.Calls, ext.Text, nil
}

func (s *Service) execute(ctx context.Context, t *turn, calls []model.ToolCallRequest) []model.ToolCallResult {
	names := make(map[string]string, len(calls))
	for _, c := range calls {
		names[c.ID] = c.Name
	}
	t.emit(Event{Kind: EventToolsDispatched, Count: len(calls)})
	t.log.Info("dispatching tools", zap.Int("round", t.Round), zap.Int("count", len(calls)))

	onDone := func(r model.ToolCallResult) {
		t.emit(Event{Kind: EventToolCompleted, ToolCallID: r.ID, ToolName: names[r.ID], Success: r.Success})
	}

	if s.tools == nil {
		out := make([]model.ToolCallResult, len(calls))
		for i, c := range calls {
			err := &model.ToolValidationError{Tool: c.Name, Message: "no tools are available"}
			out[i] = model.ToolCallResult{ID: c.ID, Error: err.Error()}
			onDone(out[i])
		}
		return out
	}
	return s.tools.ExecuteAll(ctx, calls, onDone)
}

// resultMessages pairs results with their calls in the shape the backend
// understands: tool-role messages for native calls, one tagged user message
// otherwise.
func (s *Service) resultMessages(t *turn, calls []model.ToolCallRequest, results []model.ToolCallResult) []model.Message {
	names := make(map[string]string, len(calls))
	for _, c := range calls {
		names[c.ID] = c.Name
	}

	if t.format == model.ToolCallFormatInlineTagged {
		return []model.Message{model.NewTextMessage(model.RoleUser, toolcall.RenderResults(results, names))}
	}
	out := make([]model.Message, 0, len(results))
	for _, r := range results {
		out = append(out, model.Message{
			Role:       model.RoleTool,
			Content:    []model.ContentItem{model.TextItem(r.Text())},
			ToolCallID: r.ID,
			ToolName:   names[r.ID],
			IsError:    !r.Success,
		})
	}
	return out
}

func (s *Service) finalize(ctx context.Context, t *turn, userText, last string, stop StopReason) (*Result, error) {
	reply := t.Text()
	stored := strings.TrimSpace(last)
	if stop == StopLoopBound {
		notice := fmt.Sprintf("[stopped after %d tool rounds: %v]", t.Iterations, model.ErrLoopBoundExceeded)
		reply = joinParagraphs(reply, notice)
		stored = joinParagraphs(stored, notice)
	}

	if s.mws != nil {
		e := &middleware.Event{
			Name:      middleware.EventAfterLLMResponse,
			UserText:  userText,
			LLMText:   reply,
			Params:    &t.params,
			Iteration: t.Iterations,
			Context:   t.in.Context,
		}
		results, err := s.mws.Dispatch(ctx, e)
		if err != nil {
			return nil, s.fail(t, err)
		}
		updated := strings.TrimSpace(e.LLMText)
		if r, ok := middleware.Canceled(results); ok && updated == "" {
			reason := strings.TrimSpace(r.Decision.Reason)
			if reason == "" {
				reason = "response canceled by middleware"
			}
			return nil, s.fail(t, errors.New(reason))
		}
		if updated != reply {
			reply = updated
			stored = updated
		}
	}

	if reply == "" && len(t.results) == 0 {
		return nil, s.fail(t, ErrEmptyResponse)
	}

	final := model.Message{Role: model.RoleAssistant}
	if stored != "" {
		final.Content = []model.ContentItem{model.TextItem(stored)}
	}
	t.messages = append(t.messages, final)
	if err := s.history.Append(ctx, t.messages...); err != nil {
		t.log.Warn("history append failed", zap.Error(err))
	}

	if err := t.transition(StateDone); err != nil {
		return nil, s.fail(t, err)
	}
	if s.sink != nil {
		s.sink.Record(t.Usage)
	}
	t.emit(Event{Kind: EventTurnFinished, Usage: t.Usage})
	t.log.Info("turn finished",
		zap.String("stop_reason", string(stop)),
		zap.Int("rounds", t.Round),
		zap.Int("iterations", t.Iterations),
		zap.Int64("total_tokens", t.Usage.TotalTokens),
	)

	return &Result{
		TurnID:      t.ID,
		Text:        reply,
		State:       t.State,
		StopReason:  stop,
		Rounds:      t.Round,
		Iterations:  t.Iterations,
		ToolResults: t.results,
		Usage:       t.Usage,
		Messages:    t.messages,
	}, nil
}

func (s *Service) canceledByMiddleware(t *turn, dec middleware.Decision) (*Result, error) {
	reply := ""
	if dec.ReplaceText != nil {
		reply = strings.TrimSpace(*dec.ReplaceText)
	}
	if reply == "" {
		reply = strings.TrimSpace(dec.Reason)
	}
	if reply == "" {
		return nil, s.fail(t, errors.New("request canceled by middleware"))
	}
	if err := t.transition(StateFinalizing); err != nil {
		return nil, s.fail(t, err)
	}
	if err := t.transition(StateDone); err != nil {
		return nil, s.fail(t, err)
	}
	t.emit(Event{Kind: EventTurnFinished})
	if t.in.OnText != nil {
		t.in.OnText(reply)
	}
	return &Result{TurnID: t.ID, Text: reply, State: t.State, StopReason: StopMiddleware}, nil
}

// fail moves the turn to Errored and wraps err with the partial text.
// Backend errors arrive already classified; a bare context error becomes a
// canceled provider error and anything else is kept as is.
func (s *Service) fail(t *turn, err error) error {
	var pe *model.ProviderError
	if !errors.As(err, &pe) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = model.ClassifyError(s.adapter.Name(), 0, err)
	}

	from := t.State
	_ = t.transition(StateErrored)
	te := &TurnError{TurnID: t.ID, State: from, Partial: t.Partial(), Err: err}
	t.emit(Event{Kind: EventTurnErrored, Err: err})
	t.log.Error("turn failed", zap.Stringer("state", from), zap.Int("round", t.Round), zap.Error(err))
	return te
}

func (s *Service) systemMessage(t *turn) string {
	parts := []string{}
	if s.systemPrompt != "" {
		parts = append(parts, s.systemPrompt)
	}
	if t.format == model.ToolCallFormatInlineTagged {
		parts = append(parts, toolcall.RenderInstructions(t.defs))
	}
	return strings.Join(parts, "\n\n")
}

func joinParagraphs(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
