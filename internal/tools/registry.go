package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/b0ase/kintsugi/internal/domain"
)

// ErrDuplicateTool is returned when a handler is registered twice.
var ErrDuplicateTool = errors.New("handler already registered")

// HandlerFunc executes one tool. It returns the result data, or a
// domain.ToolResult when it needs to control the success flag itself.
type HandlerFunc func(ctx context.Context, args json.RawMessage, tc domain.ToolContext) (any, error)

// Registry stores tool handlers keyed by tool name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty tool handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a handler for a tool name.
func (r *Registry) Register(toolName string, h HandlerFunc) error {
	if toolName == "" {
		return fmt.Errorf("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[toolName]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, toolName)
	}
	r.handlers[toolName] = h
	return nil
}

// MustRegister adds a handler or panics.
func (r *Registry) MustRegister(toolName string, h HandlerFunc) {
	if err := r.Register(toolName, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for a tool name.
func (r *Registry) Lookup(toolName string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[toolName]
	return h, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
