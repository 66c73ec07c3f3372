package proc

import (
	"fmt"
	"sync"

	"github.com/myuser/xctstore/internal/thread"
)

// Registry maps procedure names to their implementations. Procedures are
// registered before the engine starts; lookups happen on every Impersonate.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]thread.Proc
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]thread.Proc)}
}

// Register adds a named procedure. Re-registering a name is a setup bug.
func (r *Registry) Register(name string, p thread.Proc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[name]; ok {
		return fmt.Errorf("proc %q already registered", name)
	}
	r.procs[name] = p
	return nil
}

// Lookup resolves a name. Shape matches what thread.Pool wants injected.
func (r *Registry) Lookup(name string) (thread.Proc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[name]
	return p, ok
}
