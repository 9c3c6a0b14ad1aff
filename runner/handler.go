package runner

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes runs of one command type. Handlers decode their own
// payload from run.Payload; the runner infrastructure stays decoupled from
// what a command actually does.
type Handler interface {
	// Execute performs the run. Handlers must honor ctx cancellation and
	// return promptly when it fires.
	Execute(ctx context.Context, run *Run) error

	// Name returns the command type this handler serves, e.g. "webhook.post".
	Name() string
}

// HandlerRegistry routes runs to handlers by command type. Safe for
// concurrent registration and lookup.
type HandlerRegistry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler under its name. Panics on duplicate registration;
// two handlers claiming the same command type is a wiring bug.
func (r *HandlerRegistry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for command type: %s", name))
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for a command type, or nil.
func (r *HandlerRegistry) Get(commandType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[commandType]
}

// Has checks whether a handler is registered for a command type.
func (r *HandlerRegistry) Has(commandType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[commandType]
	return exists
}

// Names returns all registered command types.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
