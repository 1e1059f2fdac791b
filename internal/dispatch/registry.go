package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Handler runs one task with its JSON payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Registry maps task names to handlers. It is built at startup and handed to
// the dispatcher and the workers explicitly.
type Registry struct {
	handlers map[string]Handler
	mutex    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a new task handler by name.
func (r *Registry) Register(name string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler '%s' is nil", name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler '%s' already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

func (r *Registry) Exists(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.handlers[name]
	return exists
}

func (r *Registry) Get(name string) (Handler, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	handler, exists := r.handlers[name]
	if !exists {
		return nil, fmt.Errorf("handler '%s' not found", name)
	}
	return handler, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
