package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var ErrUnknownModel = errors.New("unknown_model")

// Factory returns a fresh plugin for one model instance.
type Factory func() Plugin

// Registry maps model names to plugin factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory. Registering a name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return errors.New("model name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("model %s is already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Lookup returns a new plugin for name.
func (r *Registry) Lookup(name string) (Plugin, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q, available models are %v", ErrUnknownModel, name, r.Names())
	}
	return f(), nil
}

// Names returns the registered model names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
