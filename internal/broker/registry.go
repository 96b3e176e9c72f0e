package broker

import (
	"fmt"
	"strings"
	"sync"
)

// Registry maps broker names (and aliases) to adapters. It is constructed
// explicitly and passed to the orchestrator; no package-level singleton.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	names    []string
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// NormalizeName canonicalizes a broker name for lookup.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Register binds an adapter under its own name plus any aliases.
func (r *Registry) Register(adapter Adapter, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := NormalizeName(adapter.Name())
	if _, exists := r.adapters[name]; !exists {
		r.names = append(r.names, name)
	}
	r.adapters[name] = adapter
	for _, alias := range aliases {
		r.adapters[NormalizeName(alias)] = adapter
	}
}

// Get resolves an adapter by name or alias.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[NormalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("broker adapter %q is not registered", name)
	}
	return adapter, nil
}

// Names lists registered canonical adapter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
