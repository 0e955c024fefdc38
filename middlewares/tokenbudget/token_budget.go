package tokenbudget

import (
	"context"

	mw "relay/internal/middleware"
	"relay/internal/model"
)

// BudgetLimiter caps MaxTokens for each LLM request. The cap is the
// configured budget, or Event.Context["token_budget"] (int) when present.
// It prefers the smaller of the existing MaxTokens and the budget.
type BudgetLimiter struct {
	Budget int
}

func New(budget int) BudgetLimiter { return BudgetLimiter{Budget: budget} }

func (BudgetLimiter) ID() string    { return "token_budget" }
func (BudgetLimiter) Priority() int { return 90 }

// ShouldLoad only loads for request events.
func (BudgetLimiter) ShouldLoad(_ context.Context, e *mw.Event) bool {
	return e != nil && e.Name == mw.EventBeforeLLMRequest
}

func (b BudgetLimiter) OnEvent(_ context.Context, e *mw.Event) (mw.Decision, error) {
	if e == nil || e.Name != mw.EventBeforeLLMRequest {
		return mw.Decision{}, nil
	}
	budget := b.Budget
	if v, ok := e.Context["token_budget"].(int); ok && v > 0 {
		budget = v
	}
	if budget <= 0 {
		return mw.Decision{}, nil
	}

	if e.Params != nil && e.Params.MaxTokens > 0 && e.Params.MaxTokens <= budget {
		return mw.Decision{}, nil
	}

	// Copy params so downstream can mutate safely.
	var next model.Params
	if e.Params != nil {
		next = e.Params.Clone()
	}
	next.MaxTokens = budget
	return mw.Decision{
		OverrideParams: &next,
		Reason:         "token_budget: capped MaxTokens",
	}, nil
}
