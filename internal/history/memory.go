package history

import (
	"context"
	"sort"
	"sync"

	"relay/internal/chat"
	"relay/internal/model"
)

// MemoryStore keeps every session in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]model.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]model.Message)}
}

func (s *MemoryStore) Session(id string) chat.History {
	return &memorySession{store: s, id: id}
}

// Sessions lists the ids that currently hold messages.
func (s *MemoryStore) Sessions(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id, msgs := range s.sessions {
		if len(msgs) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

type memorySession struct {
	store *MemoryStore
	id    string
}

func (m *memorySession) Load(context.Context) ([]model.Message, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	return model.CloneMessages(m.store.sessions[m.id]), nil
}

func (m *memorySession) Append(_ context.Context, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.sessions[m.id] = append(m.store.sessions[m.id], model.CloneMessages(msgs)...)
	return nil
}

func (m *memorySession) Clear(context.Context) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	delete(m.store.sessions, m.id)
	return nil
}
