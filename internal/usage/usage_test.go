package usage

import (
	"strings"
	"sync"
	"testing"

	"relay/internal/model"
)

type spaceEncoder struct{}

func (spaceEncoder) Encode(text string, _, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

func TestAccumulatorSumsTurns(t *testing.T) {
	acc := NewAccumulator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc.Record(model.Usage{PromptTokens: 10, CompletionTokens: 5})
		}()
	}
	wg.Wait()
	acc.Record(model.Usage{})

	total, turns := acc.Snapshot()
	if turns != 50 {
		t.Fatalf("expected 50 turns, got %d", turns)
	}
	if total.PromptTokens != 500 || total.CompletionTokens != 250 || total.TotalTokens != 750 {
		t.Fatalf("unexpected total %+v", total)
	}

	acc.Reset()
	if total, turns := acc.Snapshot(); turns != 0 || !total.IsZero() {
		t.Fatalf("reset did not clear: %+v %d", total, turns)
	}
}

func TestMultiSkipsNil(t *testing.T) {
	var got []model.Usage
	s := Multi(nil, SinkFunc(func(u model.Usage) { got = append(got, u) }), nil)
	s.Record(model.Usage{TotalTokens: 7})
	if len(got) != 1 || got[0].TotalTokens != 7 {
		t.Fatalf("unexpected records %+v", got)
	}
}

func TestEstimatorUsesEncoder(t *testing.T) {
	e := NewEstimatorWith(spaceEncoder{})
	if n := e.CountText("one two three"); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	u := e.Estimate([]model.Message{model.NewTextMessage(model.RoleUser, "hi there")}, "hello back", nil)
	// 3 priming + 4 framing + 1 role + 2 content
	if u.PromptTokens != 10 {
		t.Fatalf("expected 10 prompt tokens, got %d", u.PromptTokens)
	}
	if u.CompletionTokens != 2 || u.TotalTokens != 12 {
		t.Fatalf("unexpected usage %+v", u)
	}
}

func TestEstimatorFallsBackToHeuristic(t *testing.T) {
	e := NewEstimatorWith(nil)
	if n := e.CountText("path/to/file.go is here"); n != HeuristicTokens("path/to/file.go is here") {
		t.Fatalf("expected heuristic count, got %d", n)
	}
	if HeuristicTokens("") != 0 {
		t.Fatal("empty text should be zero")
	}
	// 8 runes of punctuation: chunks=8, chars/4=2
	if n := HeuristicTokens("!!!!????"); n != 8 {
		t.Fatalf("expected 8, got %d", n)
	}
}
