package skills

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"relay/internal/model"
)

const (
	DefaultMaxConcurrent = 4
	DefaultTimeout       = 30 * time.Second
	maxResultBytes       = 16 * 1024
)

// Registry is the lookup side of the tool boundary.
type Registry interface {
	Get(name string) (Skill, bool)
	Definitions() []llms.Tool
}

// Executor runs one round of tool calls with bounded concurrency, a timeout
// per call, and failure isolation between calls.
type Executor struct {
	registry Registry
	limit    int64
	timeout  time.Duration
	logger   *zap.Logger
}

type ExecutorOption func(*Executor)

func WithMaxConcurrent(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.limit = int64(n)
		}
	}
}

func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewExecutor(registry Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		limit:    DefaultMaxConcurrent,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Definitions() []llms.Tool {
	if e.registry == nil {
		return nil
	}
	return e.registry.Definitions()
}

// ExecuteAll returns exactly one result per request, in request order.
// Calls that fail validation get an immediate failed result and never take
// a concurrency slot. onDone, when set, sees each result as it completes;
// calls to it are serialized.
func (e *Executor) ExecuteAll(ctx context.Context, reqs []model.ToolCallRequest, onDone func(model.ToolCallResult)) []model.ToolCallResult {
	results := make([]model.ToolCallResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	var doneMu sync.Mutex
	finish := func(i int, r model.ToolCallResult) {
		results[i] = r
		if onDone != nil {
			doneMu.Lock()
			onDone(r)
			doneMu.Unlock()
		}
	}

	sem := semaphore.NewWeighted(e.limit)
	var wg sync.WaitGroup
	for i, req := range reqs {
		skill, err := e.validate(&req)
		if err != nil {
			e.logger.Warn("tool call rejected", zap.String("tool", req.Name), zap.String("tool_call_id", req.ID), zap.Error(err))
			finish(i, failed(req.ID, err))
			continue
		}

		wg.Add(1)
		go func(i int, req model.ToolCallRequest, skill Skill) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				finish(i, failed(req.ID, &model.ToolExecutionError{Tool: req.Name, Err: err}))
				return
			}
			defer sem.Release(1)
			finish(i, e.run(ctx, req, skill))
		}(i, req, skill)
	}
	wg.Wait()
	return results
}

func (e *Executor) validate(req *model.ToolCallRequest) (Skill, error) {
	if e.registry == nil {
		return nil, &model.ToolValidationError{Tool: req.Name, Message: "no tools are available"}
	}
	skill, ok := e.registry.Get(req.Name)
	if !ok {
		return nil, &model.ToolValidationError{Tool: req.Name, Message: "unknown tool"}
	}
	if req.Arguments == nil {
		return nil, &model.ToolValidationError{Tool: req.Name, Message: "arguments are not an object"}
	}
	if req.Textual {
		req.Arguments = Coerce(skill.Parameters(), req.Arguments)
	}
	if err := Validate(skill.Parameters(), req.Arguments); err != nil {
		return nil, &model.ToolValidationError{Tool: req.Name, Message: err.Error()}
	}
	return skill, nil
}

type outcome struct {
	content string
	err     error
}

// run executes one call under its own deadline. A skill that ignores its
// context is abandoned when the deadline passes; its goroutine finishes in
// the background and the late result is discarded.
func (e *Executor) run(ctx context.Context, req model.ToolCallRequest, skill Skill) model.ToolCallResult {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := skill.Execute(callCtx, req.Arguments)
		done <- outcome{content: out, err: err}
	}()

	var res model.ToolCallResult
	select {
	case o := <-done:
		switch {
		case o.err == nil:
			res = model.ToolCallResult{ID: req.ID, Success: true, Content: truncate(o.content)}
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			res = failed(req.ID, &model.ToolExecutionError{Tool: req.Name, Timeout: e.timeout, Err: o.err})
		default:
			res = failed(req.ID, &model.ToolExecutionError{Tool: req.Name, Err: o.err})
			res.Content = truncate(o.content)
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			res = failed(req.ID, &model.ToolExecutionError{Tool: req.Name, Err: ctx.Err()})
		} else {
			res = failed(req.ID, &model.ToolExecutionError{Tool: req.Name, Timeout: e.timeout, Err: callCtx.Err()})
		}
	}

	fields := []zap.Field{
		zap.String("tool", req.Name),
		zap.String("tool_call_id", req.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("success", res.Success),
	}
	if res.Success {
		e.logger.Info("tool call finished", fields...)
	} else {
		e.logger.Warn("tool call failed", append(fields, zap.String("error", res.Error))...)
	}
	return res
}

func failed(id string, err error) model.ToolCallResult {
	return model.ToolCallResult{ID: id, Success: false, Error: err.Error()}
}

func truncate(s string) string {
	if len(s) <= maxResultBytes {
		return s
	}
	return s[:maxResultBytes] + "\n...(truncated)"
}
