package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"relay/internal/model"
)

type testMW struct {
	id       string
	priority int
	cancel   bool
	seen     *[]string
}

func (m testMW) ID() string    { return m.id }
func (m testMW) Priority() int { return m.priority }
func (m testMW) OnEvent(_ context.Context, _ *Event) (Decision, error) {
	*m.seen = append(*m.seen, m.id)
	return Decision{Cancel: m.cancel}, nil
}

type conditionalTestMW struct {
	testMW
	enabled bool
}

func (m conditionalTestMW) ShouldLoad(_ context.Context, _ *Event) bool { return m.enabled }

func TestChainPriorityAndCancel(t *testing.T) {
	seen := []string{}
	c := NewChain(
		testMW{id: "low", priority: 1, seen: &seen},
		testMW{id: "high", priority: 10, cancel: true, seen: &seen},
		testMW{id: "mid", priority: 5, seen: &seen},
	)

	_, err := c.Dispatch(context.Background(), &Event{Name: EventBeforeLLMRequest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != "high" {
		t.Fatalf("expected only high to run (cancel), got %v", seen)
	}
}

func TestChainConditionalMiddlewareSkip(t *testing.T) {
	seen := []string{}
	c := NewChain(
		conditionalTestMW{testMW: testMW{id: "off", priority: 10, seen: &seen}, enabled: false},
		conditionalTestMW{testMW: testMW{id: "on", priority: 5, seen: &seen}, enabled: true},
	)

	results, err := c.Dispatch(context.Background(), &Event{Name: EventBeforeLLMRequest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := join(seen); got != "on" {
		t.Fatalf("expected only enabled middleware to run, got %s", got)
	}
	if len(results) != 2 {
		t.Fatalf("expected results for both middlewares, got %d", len(results))
	}
	if results[0].MiddlewareID != "off" || !results[0].Skipped || results[0].Decision.Reason == "" {
		t.Fatalf("expected first result to be skipped middleware with a reason, got %+v", results[0])
	}
}

func TestChainStableOrderOnEqualPriority(t *testing.T) {
	seen := []string{}
	c := NewChain(
		testMW{id: "a", priority: 5, seen: &seen},
		testMW{id: "b", priority: 5, seen: &seen},
		testMW{id: "c", priority: 5, seen: &seen},
	)

	_, err := c.Dispatch(context.Background(), &Event{Name: EventBeforeLLMRequest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := join(seen); got != "a,b,c" {
		t.Fatalf("expected stable registration order, got %s", got)
	}
}

func join(in []string) string {
	if len(in) == 0 {
		return ""
	}
	out := in[0]
	for i := 1; i < len(in); i++ {
		out += "," + in[i]
	}
	return out
}

func TestChainReplaceTextAndOverrideParams(t *testing.T) {
	replaced := "short"
	c := NewChain(
		funcMW{id: "rewrite", priority: 2, fn: func(e *Event) Decision {
			return Decision{ReplaceText: &replaced}
		}},
		funcMW{id: "cap", priority: 1, fn: func(e *Event) Decision {
			p := e.Params.Clone()
			p.MaxTokens = 10
			return Decision{OverrideParams: &p}
		}},
	)
	c.SetLogger(zaptest.NewLogger(t))

	e := &Event{Name: EventBeforeLLMRequest, UserText: "a much longer prompt", Params: &model.Params{MaxTokens: 100}}
	results, err := c.Dispatch(context.Background(), e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if e.UserText != "short" {
		t.Fatalf("expected replaced text, got %q", e.UserText)
	}
	if e.Params.MaxTokens != 10 {
		t.Fatalf("expected overridden params, got %+v", e.Params)
	}
	if _, ok := Canceled(results); ok {
		t.Fatal("no middleware canceled")
	}
}

func TestBuildSkipsDisabled(t *testing.T) {
	seen := []string{}
	c := Build([]Middleware{
		testMW{id: "a", priority: 1, seen: &seen},
		nil,
		testMW{id: "b", priority: 2, seen: &seen},
	}, []string{"b"}, nil)
	if c == nil || c.Len() != 1 {
		t.Fatalf("expected one middleware, got %v", c)
	}
	if Build(nil, nil, nil) != nil {
		t.Fatal("expected nil chain when empty")
	}
}

type funcMW struct {
	id       string
	priority int
	fn       func(e *Event) Decision
}

func (m funcMW) ID() string    { return m.id }
func (m funcMW) Priority() int { return m.priority }
func (m funcMW) OnEvent(_ context.Context, e *Event) (Decision, error) {
	return m.fn(e), nil
}

type failingMW struct{ err error }

func (failingMW) ID() string    { return "broken" }
func (failingMW) Priority() int { return 1 }
func (m failingMW) OnEvent(context.Context, *Event) (Decision, error) {
	return Decision{}, m.err
}

func TestChainWrapsMiddlewareErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewChain(failingMW{err: boom}).Dispatch(context.Background(), &Event{Name: EventBeforeLLMRequest})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected middleware id in error, got %v", err)
	}
}
