// Package lease provides per-key mutual exclusion. A worker must hold the
// lease for an entity key before mutating that entity's state; release is
// guaranteed through the returned func, typically deferred.
package lease

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

func (r *Registry) checkout(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		r.entries[key] = e
	}
	e.refs++
	return e
}

func (r *Registry) checkin(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.entries, key)
	}
}

// Acquire blocks until the lease for key is held or ctx is done. The returned
// release func is safe to call exactly once.
func (r *Registry) Acquire(ctx context.Context, key string) (func(), error) {
	e := r.checkout(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		r.checkin(key)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			r.checkin(key)
		})
	}, nil
}

// TryAcquire grabs the lease without blocking. ok is false when another
// worker already holds it.
func (r *Registry) TryAcquire(key string) (release func(), ok bool) {
	e := r.checkout(key)
	if !e.sem.TryAcquire(1) {
		r.checkin(key)
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			r.checkin(key)
		})
	}, true
}
