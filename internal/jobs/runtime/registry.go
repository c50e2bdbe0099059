package runtime

import (
	"fmt"
	"sync"
)

// Handler executes one stage's task. The returned map is persisted as the
// task result on success.
type Handler interface {
	Stage() string
	Run(ctx *Context) (map[string]any, error)
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	s := h.Stage()
	if s == "" {
		return fmt.Errorf("handler Stage() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[s]; exists {
		return fmt.Errorf("handler already registered for stage=%s", s)
	}
	r.handlers[s] = h
	return nil
}

func (r *Registry) Get(stage string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stage]
	return h, ok
}
