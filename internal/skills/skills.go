package skills

import (
	"context"
	"sort"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"relay/internal/model"
)

// Skill defines a tool that the LLM can use.
type Skill interface {
	// Name returns the unique name of the skill (e.g. "shell", "file").
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON schema for the arguments as a map.
	Parameters() map[string]any
	// Execute runs the skill with the given arguments.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Manager holds the available skills.
type Manager struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

func NewManager(skills ...Skill) *Manager {
	m := &Manager{
		skills: make(map[string]Skill),
	}
	for _, s := range skills {
		m.Register(s)
	}
	return m
}

// Register adds s, replacing any skill with the same name.
func (m *Manager) Register(s Skill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills[s.Name()] = s
}

func (m *Manager) Get(name string) (Skill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[name]
	return s, ok
}

// List returns the skills sorted by name.
func (m *Manager) List() []Skill {
	m.mu.RLock()
	list := make([]Skill, 0, len(m.skills))
	for _, s := range m.skills {
		list = append(list, s)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.skills)
}

// Definitions describes every skill as a function tool.
func (m *Manager) Definitions() []llms.Tool {
	list := m.List()
	out := make([]llms.Tool, 0, len(list))
	for _, s := range list {
		out = append(out, model.ToolDefinition(s.Name(), s.Description(), s.Parameters()))
	}
	return out
}
