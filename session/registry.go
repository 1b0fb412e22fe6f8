package session

import (
	"errors"
	"fmt"
	"sync"
)

// endpoint is anything a transport hands out that must be closed on teardown.
type endpoint interface {
	ID() string
	Close() error
}

// registry keeps endpoints in creation order.
type registry struct {
	mu    sync.Mutex
	items []endpoint
}

// Add appends e.
func (r *registry) Add(e endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, e)
}

// Len returns the number of registered endpoints.
func (r *registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Drain removes and returns every endpoint in creation order.
func (r *registry) Drain() []endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items
	r.items = nil
	return items
}

// closeAll closes every endpoint once, in order, and joins the failures.
func closeAll(items []endpoint) error {
	var errs []error
	for _, e := range items {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.ID(), err))
		}
	}
	return errors.Join(errs...)
}
