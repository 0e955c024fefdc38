package middleware

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Chain executes middlewares in descending Priority() order.
// If priorities are equal, registration order is preserved.
type Chain struct {
	mu  sync.RWMutex
	mws []Middleware

	logger *zap.Logger
}

type DecisionResult struct {
	MiddlewareID string
	Priority     int
	// Skipped is set when ShouldLoad declined the event.
	Skipped  bool
	Decision Decision
}

func NewChain(mws ...Middleware) *Chain {
	c := &Chain{logger: zap.NewNop()}
	for _, mw := range mws {
		c.Use(mw)
	}
	return c
}

// Build assembles a chain from mws, leaving out any whose ID is in disabled.
// It returns nil when nothing is left.
func Build(mws []Middleware, disabled []string, logger *zap.Logger) *Chain {
	off := make(map[string]struct{}, len(disabled))
	for _, id := range disabled {
		off[id] = struct{}{}
	}
	c := NewChain()
	c.SetLogger(logger)
	for _, mw := range mws {
		if mw == nil {
			continue
		}
		if _, skip := off[mw.ID()]; skip {
			continue
		}
		c.Use(mw)
	}
	if c.Len() == 0 {
		return nil
	}
	return c
}

// SetLogger enables debug logging for dispatch decisions.
func (c *Chain) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

func (c *Chain) Use(mw Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mws = append(c.mws, mw)
	c.sortLocked()
}

func (c *Chain) List() []Middleware {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Middleware, len(c.mws))
	copy(out, c.mws)
	return out
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mws)
}

// Dispatch runs the middlewares for e in priority order. Every middleware
// gets a result entry, including skipped ones. A Cancel decision stops the
// run; an error aborts it and names the failing middleware.
func (c *Chain) Dispatch(ctx context.Context, e *Event) ([]DecisionResult, error) {
	mws := c.List()
	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()

	results := make([]DecisionResult, 0, len(mws))
	for _, m := range mws {
		res := DecisionResult{MiddlewareID: m.ID(), Priority: m.Priority()}
		in := eventText(e)

		if cm, ok := m.(ConditionalMiddleware); ok && !cm.ShouldLoad(ctx, e) {
			res.Skipped = true
			res.Decision.Reason = "not loaded for " + string(e.Name)
			debugLog(logger, e, res, in, in)
			results = append(results, res)
			continue
		}

		dec, err := m.OnEvent(ctx, e)
		if err != nil {
			res.Decision = Decision{Reason: err.Error(), Cancel: true}
			debugLog(logger, e, res, in, eventText(e))
			return nil, fmt.Errorf("middleware %s: %w", m.ID(), err)
		}
		applyDecisionToEvent(e, dec)
		res.Decision = dec
		debugLog(logger, e, res, in, eventText(e))

		results = append(results, res)
		if dec.Cancel {
			break
		}
	}
	return results, nil
}

func (c *Chain) sortLocked() {
	sort.SliceStable(c.mws, func(i, j int) bool {
		return c.mws[i].Priority() > c.mws[j].Priority()
	})
}
