package skill

import (
	"context"
	"sort"
	"sync"

	"github.com/dbpilot/dbpilot/domain/tool"
)

// Registry holds the loaded skills. Safe for concurrent use; Replace swaps
// the whole set atomically, which is how hot reload works.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry creates an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Replace swaps the full skill set.
func (r *Registry) Replace(skills []Skill) {
	next := make(map[string]Skill, len(skills))
	for _, s := range skills {
		next[s.Name] = s
	}
	r.mu.Lock()
	r.skills = next
	r.mu.Unlock()
}

// Get retrieves a skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns all skills sorted by name.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of loaded skills.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}

// Tools builds registry tools for every model-invocable skill. Executing a
// skill tool returns its instruction text for the model to follow.
func (r *Registry) Tools() []tool.Tool {
	out := make([]tool.Tool, 0, r.Count())
	for _, s := range r.List() {
		if !s.ModelInvocable {
			continue
		}
		s := s
		t := tool.NewBuilder(s.ToolName()).
			WithDescription(s.Description).
			ReadOnly().
			WithHandler(func(_ context.Context, _ map[string]any) tool.Result {
				return tool.SuccessMessage("%s", s.Instructions)
			}).
			MustBuild()
		out = append(out, t)
	}
	return out
}
