package chat

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	"relay/internal/model"
)

// Adapter abstracts chat completion providers.
type Adapter interface {
	Name() string
	// Send runs one round. When onChunk is non-nil and the backend streams,
	// every decoded chunk is passed to it in arrival order and the returned
	// Response carries only usage and stop reason. An error from onChunk
	// aborts the round and is returned.
	Send(ctx context.Context, req model.Request, caps model.Capabilities, onChunk func(model.StreamChunk) error) (*model.Response, error)
}

// ToolExecutor is the tool boundary the orchestrator dispatches to.
type ToolExecutor interface {
	ExecuteAll(ctx context.Context, reqs []model.ToolCallRequest, onDone func(model.ToolCallResult)) []model.ToolCallResult
	Definitions() []llms.Tool
}

// History is the conversation store the orchestrator reads before a turn
// and appends to once the turn is done.
type History interface {
	Load(ctx context.Context) ([]model.Message, error)
	Append(ctx context.Context, msgs ...model.Message) error
	Clear(ctx context.Context) error
}

type EventKind string

const (
	EventTurnStarted     EventKind = "turn_started"
	EventToolsDispatched EventKind = "tools_dispatched"
	EventToolCompleted   EventKind = "tool_completed"
	EventTurnFinished    EventKind = "turn_finished"
	EventTurnErrored     EventKind = "turn_errored"
)

// Event is a lifecycle notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind   EventKind
	TurnID string
	Round  int

	Count      int    // tools_dispatched
	ToolCallID string // tool_completed
	ToolName   string
	Success    bool

	Usage model.Usage // turn_finished
	Err   error       // turn_errored
}

// Listener receives lifecycle events. Calls for one turn are never
// concurrent.
type Listener interface {
	OnEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Input is one user turn.
type Input struct {
	Text   string
	Images []string // image URIs or data URLs

	// Context is passed to middlewares unchanged.
	Context map[string]any

	// OnText receives assistant text as it becomes available.
	OnText func(string)
	// OnEvent receives this turn's lifecycle events in addition to the
	// service listener.
	OnEvent func(Event)
}

// sliceHistory is the default in-process history.
type sliceHistory struct {
	msgs []model.Message
}

func (h *sliceHistory) Load(context.Context) ([]model.Message, error) {
	return model.CloneMessages(h.msgs), nil
}

func (h *sliceHistory) Append(_ context.Context, msgs ...model.Message) error {
	h.msgs = append(h.msgs, model.CloneMessages(msgs)...)
	return nil
}

func (h *sliceHistory) Clear(context.Context) error {
	h.msgs = h.msgs[:0]
	return nil
}
