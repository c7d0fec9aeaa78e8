package batcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry binds handler names to configs and handlers at startup
type Registry struct {
	coordinator *Coordinator
	handles     map[string]*Handle
	mu          sync.RWMutex
}

// NewRegistry creates a registry submitting through coordinator.
// The coordinator is expected to run batches with TargetExecutor.
func NewRegistry(coordinator *Coordinator) *Registry {
	return &Registry{
		coordinator: coordinator,
		handles:     make(map[string]*Handle),
	}
}

// Register validates cfg and handler and returns the handle used to submit items
func (r *Registry) Register(name string, cfg Config, handler Handler) (*Handle, error) {
	if name == "" {
		return nil, fmt.Errorf("handler name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler %s: %w", name, ErrNilHandler)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("handler %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[name]; exists {
		return nil, fmt.Errorf("handler %s: %w", name, ErrDuplicateHandler)
	}

	h := &Handle{
		name:        name,
		key:         Key(name),
		cfg:         cfg,
		handler:     handler,
		coordinator: r.coordinator,
	}
	r.handles[name] = h
	return h, nil
}

// Get returns the handle registered under name
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return h, ok
}

// Submit submits item to the handler registered under name
func (r *Registry) Submit(ctx context.Context, name string, item any) error {
	h, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownHandler)
	}
	h.Submit(ctx, item)
	return nil
}

// Names returns the registered handler names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handles returns the registered handles sorted by name
func (r *Registry) Handles() []*Handle {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]*Handle, 0, len(names))
	for _, name := range names {
		handles = append(handles, r.handles[name])
	}
	return handles
}

// Handle submits items to one registered handler
type Handle struct {
	name        string
	key         Key
	cfg         Config
	handler     Handler
	coordinator *Coordinator
}

// Name returns the handler name
func (h *Handle) Name() string {
	return h.name
}

// Key returns the batch key of the handler
func (h *Handle) Key() Key {
	return h.key
}

// Config returns the thresholds of the handler
func (h *Handle) Config() Config {
	return h.cfg
}

// Submit adds item to the handler's pending batch. It never fails; a batch
// execution error is logged by the coordinator.
func (h *Handle) Submit(ctx context.Context, item any) {
	h.coordinator.Submit(ctx, h.key, item, h.cfg, h.handler)
}
