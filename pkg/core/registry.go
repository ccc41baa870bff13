package core

import (
	"context"
	"sync"
)

// Registry hands out shared Controllers per key.
// Controllers are created lazily on first Acquire and closed when the last
// holder releases them. The top-level assembly owns the registry.
type Registry struct {
	store Store
	opts  []ControllerOption

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	ctrl *Controller
	refs int
	// closing is set while the last release drains the controller; it is
	// closed once the entry has left the map.
	closing chan struct{}
}

// NewRegistry creates a registry of controllers backed by store.
func NewRegistry(store Store, opts ...ControllerOption) *Registry {
	return &Registry{
		store:   store,
		opts:    opts,
		entries: make(map[string]*registryEntry),
	}
}

// Acquire returns the controller for key, loading it from the store on first use.
// A controller still closing after its last release is waited for, so one key
// never has two live controllers.
// release must be called exactly once when the caller no longer needs it; extra
// calls are ignored.
func (r *Registry) Acquire(ctx context.Context, key string) (*Controller, func(), error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	for ok && e.closing != nil {
		closing := e.closing
		r.mu.Unlock()
		select {
		case <-closing:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		r.mu.Lock()
		e, ok = r.entries[key]
	}
	defer r.mu.Unlock()

	if !ok {
		ctrl := NewController(r.store, key, r.opts...)
		if err := ctrl.Load(ctx); err != nil {
			return nil, nil, err
		}
		e = &registryEntry{ctrl: ctrl}
		r.entries[key] = e
	}
	e.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(key, e) })
	}
	return e.ctrl, release, nil
}

func (r *Registry) release(key string, e *registryEntry) {
	r.mu.Lock()
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	e.closing = make(chan struct{})
	r.mu.Unlock()

	// Close waits for detached commits still in flight.
	if err := e.ctrl.Close(context.Background()); err != nil {
		e.ctrl.logger.Warn("failed to close controller", "key", key, "error", err)
	}

	r.mu.Lock()
	if r.entries[key] == e {
		delete(r.entries, key)
	}
	close(e.closing)
	r.mu.Unlock()
}

// Len returns the number of controllers, including ones still closing.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every live controller regardless of outstanding references.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.ctrl.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
