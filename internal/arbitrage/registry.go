package arbitrage

import (
	"fmt"
	"sort"
	"sync"
)

// ImpactRegistry holds named impact models for selection by config.
type ImpactRegistry struct {
	models map[string]ImpactModel
	mu     sync.RWMutex
}

// NewImpactRegistry returns a registry preloaded with the linear model
// (using coefficient) and the constant-product model.
func NewImpactRegistry(coefficient float64) *ImpactRegistry {
	r := &ImpactRegistry{models: make(map[string]ImpactModel)}
	r.Register(NewLinearImpact(coefficient))
	r.Register(ConstantProductImpact{})
	return r
}

// Register adds or replaces a model under its own name.
func (r *ImpactRegistry) Register(m ImpactModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name()] = m
}

// Get returns the model by name, or an error if not found.
func (r *ImpactRegistry) Get(name string) (ImpactModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("impact model %q not found", name)
	}
	return m, nil
}

// List returns all registered model names, sorted.
func (r *ImpactRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for n := range r.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
