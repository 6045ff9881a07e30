package dataflows

import (
	"fmt"
	"sync"

	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
)

// Registry maps provider names to their fetch implementations.
// Configuration (priority, enabled, markets) lives in storage; the
// registry only holds the code that talks to each provider.
type Registry struct {
	providers map[string]interfaces.DataProvider
	mu        sync.RWMutex
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]interfaces.DataProvider),
	}
}

// Register adds a provider implementation. Registering the same name
// twice replaces the previous implementation.
func (r *Registry) Register(provider interfaces.DataProvider) error {
	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	if provider.Name() == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
	return nil
}

// Get returns the provider implementation for a name, or nil
func (r *Registry) Get(name string) interfaces.DataProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// Names returns the registered provider names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
