package action

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry maps action names to actions. It is filled once at startup.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Register adds actions. A duplicate name or a misconfigured action is a
// programming error and panics.
func (r *Registry) Register(actions ...*Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range actions {
		if err := a.validate(); err != nil {
			panic(err)
		}
		if _, dup := r.actions[a.Name]; dup {
			panic(fmt.Sprintf("action %s registered twice", a.Name))
		}
		r.actions[a.Name] = a
	}
}

// Lookup returns the named action.
func (r *Registry) Lookup(name string) (*Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Names lists registered actions, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.actions))
}
