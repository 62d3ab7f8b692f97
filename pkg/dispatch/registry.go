// Package dispatch implements the command dispatch core: the module
// registry, the confidence scorer, and the dispatcher state machine that
// routes free-form natural-language input to capability modules.
package dispatch

import (
	"sort"
	"strings"
	"sync"

	"github.com/veslabs/maestro/pkg/module"
)

// ---------------------------------------------------------------------------
// Module registry
// ---------------------------------------------------------------------------

// Registry is the thread-safe store of registered capability modules,
// keyed by ID with a priority-sorted snapshot view. The mutex is never held
// while a module executes; callers take a snapshot via List first.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]module.Module // lowercased ID -> module
	sorted  []module.Module          // descending priority, rebuilt on mutation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]module.Module),
	}
}

// Register inserts or replaces (by ID) a module and re-sorts the live view.
// Registering an existing ID replaces it rather than duplicating.
func (r *Registry) Register(m module.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[strings.ToLower(m.ID())] = m
	r.rebuild()
}

// Unregister removes a module by ID. Absent IDs are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(id)
	if _, ok := r.modules[key]; !ok {
		return
	}
	delete(r.modules, key)
	r.rebuild()
}

// List returns a snapshot copy of registered modules in descending priority
// order. Callers never observe mutations during iteration.
func (r *Registry) List() []module.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]module.Module, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// FindByID looks a module up case-insensitively.
func (r *Registry) FindByID(id string) (module.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[strings.ToLower(id)]
	return m, ok
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// Descriptors returns snapshot descriptors in priority order.
func (r *Registry) Descriptors() []module.Descriptor {
	mods := r.List()
	out := make([]module.Descriptor, 0, len(mods))
	for _, m := range mods {
		out = append(out, module.Describe(m))
	}
	return out
}

// rebuild regenerates the sorted view. Caller holds the write lock.
func (r *Registry) rebuild() {
	r.sorted = r.sorted[:0]
	for _, m := range r.modules {
		r.sorted = append(r.sorted, m)
	}
	sort.SliceStable(r.sorted, func(i, j int) bool {
		if r.sorted[i].Priority() != r.sorted[j].Priority() {
			return r.sorted[i].Priority() > r.sorted[j].Priority()
		}
		return r.sorted[i].ID() < r.sorted[j].ID()
	})
}

// Registry satisfies module.Directory so modules can see live peers.
var _ module.Directory = (*Registry)(nil)
