package usage

import (
	"sync"

	"relay/internal/model"
)

// Sink receives the token usage of each completed turn.
type Sink interface {
	Record(u model.Usage)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(model.Usage)

func (f SinkFunc) Record(u model.Usage) { f(u) }

// Accumulator keeps a running total across turns. It is safe for
// concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	total model.Usage
	turns int64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) Record(u model.Usage) {
	if u.IsZero() {
		return
	}
	a.mu.Lock()
	a.total = a.total.Add(u)
	a.turns++
	a.mu.Unlock()
}

// Snapshot returns the cumulative usage and the number of turns recorded.
func (a *Accumulator) Snapshot() (model.Usage, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total, a.turns
}

func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.total = model.Usage{}
	a.turns = 0
	a.mu.Unlock()
}

// Multi fans a record out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return multi(out)
}

type multi []Sink

func (m multi) Record(u model.Usage) {
	for _, s := range m {
		s.Record(u)
	}
}
