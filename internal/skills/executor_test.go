package skills

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/internal/model"
)

type funcSkill struct {
	name   string
	params map[string]any
	fn     func(ctx context.Context, args map[string]any) (string, error)
}

func (f *funcSkill) Name() string               { return f.name }
func (f *funcSkill) Description() string        { return "test skill " + f.name }
func (f *funcSkill) Parameters() map[string]any { return f.params }
func (f *funcSkill) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.fn(ctx, args)
}

func echo(name string) *funcSkill {
	return &funcSkill{name: name, fn: func(_ context.Context, args map[string]any) (string, error) {
		v, _ := args["v"].(string)
		return name + ":" + v, nil
	}}
}

func byID(results []model.ToolCallResult) map[string]model.ToolCallResult {
	out := make(map[string]model.ToolCallResult, len(results))
	for _, r := range results {
		out[r.ID] = r
	}
	return out
}

func TestExecuteAllTimeoutDoesNotBlockOtherCalls(t *testing.T) {
	slow := &funcSkill{name: "slow", fn: func(ctx context.Context, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	reg := NewManager(slow, echo("fast"))
	ex := NewExecutor(reg, WithTimeout(50*time.Millisecond))

	results := ex.ExecuteAll(context.Background(), []model.ToolCallRequest{
		{ID: "1", Name: "slow", Arguments: map[string]any{}},
		{ID: "2", Name: "fast", Arguments: map[string]any{"v": "ok"}},
	}, nil)

	require.Len(t, results, 2)
	require.False(t, results[0].Success)
	require.Contains(t, results[0].Error, "timed out")
	require.True(t, results[1].Success)
	require.Equal(t, "fast:ok", results[1].Content)
}

func TestExecuteAllAbandonsSkillIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := &funcSkill{name: "stuck", fn: func(context.Context, map[string]any) (string, error) {
		<-release
		return "late", nil
	}}
	ex := NewExecutor(NewManager(stuck), WithTimeout(30*time.Millisecond))

	start := time.Now()
	results := ex.ExecuteAll(context.Background(), []model.ToolCallRequest{{ID: "s", Name: "stuck", Arguments: map[string]any{}}}, nil)
	require.Less(t, time.Since(start), 2*time.Second)
	require.False(t, results[0].Success)
	require.Contains(t, results[0].Error, "timed out")
}

func TestExecuteAllOneResultPerRequest(t *testing.T) {
	panicky := &funcSkill{name: "panicky", fn: func(context.Context, map[string]any) (string, error) {
		panic("boom")
	}}
	failing := &funcSkill{name: "failing", fn: func(context.Context, map[string]any) (string, error) {
		return "partial", errors.New("exit status 1")
	}}
	typed := &funcSkill{
		name: "typed",
		params: map[string]any{
			"type":       "object",
			"properties": map[string]any{"n": map[string]any{"type": "integer"}},
			"required":   []string{"n"},
		},
		fn: func(context.Context, map[string]any) (string, error) { return "ok", nil },
	}
	ex := NewExecutor(NewManager(panicky, failing, typed, echo("fine")))

	reqs := []model.ToolCallRequest{
		{ID: "a", Name: "panicky", Arguments: map[string]any{}},
		{ID: "b", Name: "failing", Arguments: map[string]any{}},
		{ID: "c", Name: "typed", Arguments: map[string]any{"n": "three"}},
		{ID: "d", Name: "missing", Arguments: map[string]any{}},
		{ID: "e", Name: "typed", Arguments: map[string]any{}},
		{ID: "f", Name: "fine", Arguments: map[string]any{"v": "x"}},
		{ID: "g", Name: "fine"},
	}
	results := ex.ExecuteAll(context.Background(), reqs, nil)
	require.Len(t, results, len(reqs))
	for i, r := range results {
		require.Equal(t, reqs[i].ID, r.ID)
	}

	got := byID(results)
	require.Contains(t, got["a"].Error, "panic: boom")
	require.Contains(t, got["b"].Error, "exit status 1")
	require.Equal(t, "partial", got["b"].Content)
	require.Contains(t, got["c"].Error, "expected integer")
	require.Contains(t, got["d"].Error, "unknown tool")
	require.Contains(t, got["e"].Error, "missing required field: n")
	require.True(t, got["f"].Success)
	require.Contains(t, got["g"].Error, "not an object")
}

func TestExecuteAllHonorsConcurrencyBound(t *testing.T) {
	var inFlight, peak int32
	busy := &funcSkill{name: "busy", fn: func(context.Context, map[string]any) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "done", nil
	}}
	ex := NewExecutor(NewManager(busy), WithMaxConcurrent(2))

	reqs := make([]model.ToolCallRequest, 10)
	for i := range reqs {
		reqs[i] = model.ToolCallRequest{ID: string(rune('a' + i)), Name: "busy", Arguments: map[string]any{}}
	}
	results := ex.ExecuteAll(context.Background(), reqs, nil)
	require.Len(t, results, 10)
	for _, r := range results {
		require.True(t, r.Success)
	}
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestExecuteAllRejectsWithoutTakingSlot(t *testing.T) {
	release := make(chan struct{})
	hold := &funcSkill{name: "hold", fn: func(context.Context, map[string]any) (string, error) {
		<-release
		return "held", nil
	}}
	ex := NewExecutor(NewManager(hold), WithMaxConcurrent(1))

	var mu sync.Mutex
	var order []string
	onDone := func(r model.ToolCallResult) {
		mu.Lock()
		order = append(order, r.ID)
		if r.ID == "bad" {
			close(release)
		}
		mu.Unlock()
	}

	results := ex.ExecuteAll(context.Background(), []model.ToolCallRequest{
		{ID: "bad", Name: "nope", Arguments: map[string]any{}},
		{ID: "good", Name: "hold", Arguments: map[string]any{}},
	}, onDone)

	require.Equal(t, []string{"bad", "good"}, order)
	require.False(t, results[0].Success)
	require.True(t, results[1].Success)
}

func TestExecuteAllCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	wait := &funcSkill{name: "wait", fn: func(ctx context.Context, _ map[string]any) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}}
	ex := NewExecutor(NewManager(wait), WithTimeout(time.Minute))

	go func() {
		<-started
		cancel()
	}()
	results := ex.ExecuteAll(ctx, []model.ToolCallRequest{{ID: "w", Name: "wait", Arguments: map[string]any{}}}, nil)
	require.False(t, results[0].Success)
	require.Contains(t, results[0].Error, "canceled")
	require.False(t, strings.Contains(results[0].Error, "timed out"))
}

func TestExecuteAllTruncatesLargeOutput(t *testing.T) {
	big := &funcSkill{name: "big", fn: func(context.Context, map[string]any) (string, error) {
		return strings.Repeat("x", maxResultBytes*2), nil
	}}
	results := NewExecutor(NewManager(big)).ExecuteAll(context.Background(),
		[]model.ToolCallRequest{{ID: "b", Name: "big", Arguments: map[string]any{}}}, nil)
	require.True(t, strings.HasSuffix(results[0].Content, "...(truncated)"))
	require.Less(t, len(results[0].Content), maxResultBytes*2)
}

func TestValidateEnumAndTypes(t *testing.T) {
	schema := (&FileSkill{}).Parameters()
	require.NoError(t, Validate(schema, map[string]any{"method": "read", "path": "/x"}))
	require.ErrorContains(t, Validate(schema, map[string]any{"method": "delete", "path": "/x"}), "not in enum")
	require.ErrorContains(t, Validate(schema, map[string]any{"method": "write", "path": "/x", "append": "yes"}), "expected boolean")
	require.ErrorContains(t, Validate(schema, map[string]any{"path": "/x"}), "missing required field: method")
	require.NoError(t, Validate(nil, nil))
}

func TestCoerceInlineStrings(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"flag":  map[string]any{"type": "boolean"},
			"count": map[string]any{"type": "integer"},
			"ratio": map[string]any{"type": "number"},
			"tags":  map[string]any{"type": "array"},
			"name":  map[string]any{"type": "string"},
		},
	}
	in := map[string]any{"flag": "true", "count": " 3\n", "ratio": "0.5", "tags": `["a"]`, "name": "42", "extra": "x"}
	out := Coerce(schema, in)
	require.Equal(t, true, out["flag"])
	require.Equal(t, float64(3), out["count"])
	require.Equal(t, 0.5, out["ratio"])
	require.Equal(t, []any{"a"}, out["tags"])
	require.Equal(t, "42", out["name"])
	require.Equal(t, "x", out["extra"])
	require.Equal(t, "true", in["flag"], "input map is left untouched")
	require.NoError(t, Validate(schema, out))

	bad := Coerce(schema, map[string]any{"flag": "yes", "count": "1.5"})
	require.Equal(t, "yes", bad["flag"])
	require.Equal(t, "1.5", bad["count"])
	require.ErrorContains(t, Validate(schema, bad), "expected")
}

func TestExecuteAllCoercesTextualCalls(t *testing.T) {
	dir := t.TempDir()
	ex := NewExecutor(NewManager(&FileSkill{Root: dir}))
	args := map[string]any{"method": "write", "path": "a.txt", "content": "x", "append": "true"}

	results := ex.ExecuteAll(context.Background(), []model.ToolCallRequest{
		{ID: "native", Name: "file", Arguments: args},
		{ID: "inline", Name: "file", Arguments: args, Textual: true},
	}, nil)
	require.False(t, results[0].Success)
	require.Contains(t, results[0].Error, "expected boolean")
	require.True(t, results[1].Success, results[1].Error)
}
