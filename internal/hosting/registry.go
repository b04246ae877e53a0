package hosting

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	items map[string]Deployment
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{items: make(map[string]Deployment)}
}

func (r *MemoryRegistry) Put(_ context.Context, d Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[d.Name] = d
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, name string) (*Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[name]
	if !ok {
		return nil, ErrDeploymentNotFound
	}
	return &d, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, name)
	return nil
}

// List returns deployments ordered by name.
func (r *MemoryRegistry) List(_ context.Context) ([]Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Deployment, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Probe always reports healthy.
func (r *MemoryRegistry) Probe(_ context.Context) ProbeResult {
	return ProbeResult{Name: "registry-memory", OK: true}
}
