package middleware

import (
	"context"

	"relay/internal/model"
)

type EventName string

const (
	EventBeforeLLMRequest EventName = "before_llm_request"
	EventAfterLLMResponse EventName = "after_llm_response"
)

type Decision struct {
	Cancel      bool   // stop the pipeline and the turn
	Reason      string // for logs, and the reply when a turn is canceled
	ReplaceText *string

	// Optional: change request params and continue.
	OverrideParams *model.Params
}

type Event struct {
	Name      EventName
	UserText  string        // for before_llm_request
	LLMText   string        // for after_llm_response
	Params    *model.Params // mutable
	Iteration int           // tool rounds completed when the event fired
	Context   map[string]any
}

type Middleware interface {
	ID() string
	Priority() int
	OnEvent(ctx context.Context, e *Event) (Decision, error)
}

// ConditionalMiddleware is an optional extension that allows a middleware to be
// dynamically enabled/disabled per event.
//
// If a middleware implements this interface and returns false, it is skipped
// during dispatch but still recorded in results with Skipped set.
type ConditionalMiddleware interface {
	ShouldLoad(ctx context.Context, e *Event) bool
}

// Canceled reports the first canceling decision in results.
func Canceled(results []DecisionResult) (DecisionResult, bool) {
	for _, r := range results {
		if r.Decision.Cancel {
			return r, true
		}
	}
	return DecisionResult{}, false
}
