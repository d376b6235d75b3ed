// Package lock provides capacity-limited asynchronous locks.
//
// An Atomic admits up to capacity concurrent operations per key. Requests
// beyond capacity wait until any one running operation for the key finishes
// and then retry from the top, so admission is fair-by-retry rather than FIFO.
// Atomic never fails on its own: the only error a waiter can observe is its
// own context ending.
package lock

import (
	"context"
	"sync"
)

// Atomic is a keyed lock admitting at most capacity concurrent operations
// per key. The zero value is not usable; call NewAtomic.
type Atomic[K comparable] struct {
	capacity int

	mu    sync.Mutex
	slots map[K]*slot
}

type slot struct {
	running int
	// vacated is closed and replaced every time an operation leaves the slot.
	vacated chan struct{}
}

// NewAtomic creates a keyed lock. Capacities below one are raised to one.
func NewAtomic[K comparable](capacity int) *Atomic[K] {
	if capacity < 1 {
		capacity = 1
	}
	return &Atomic[K]{
		capacity: capacity,
		slots:    make(map[K]*slot),
	}
}

// Capacity returns the per-key concurrency limit.
func (a *Atomic[K]) Capacity() int {
	return a.capacity
}

// WaitFor runs fn once a slot for key is free and returns fn's error.
// Operations holding the other slots are never affected by fn's outcome.
func (a *Atomic[K]) WaitFor(ctx context.Context, key K, fn func(context.Context) error) error {
	for {
		a.mu.Lock()
		s, ok := a.slots[key]
		if !ok {
			s = &slot{vacated: make(chan struct{})}
			a.slots[key] = s
		}
		if s.running < a.capacity {
			s.running++
			a.mu.Unlock()
			return a.run(ctx, key, s, fn)
		}
		wait := s.vacated
		a.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Atomic[K]) run(ctx context.Context, key K, s *slot, fn func(context.Context) error) error {
	defer func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		s.running--
		close(s.vacated)
		s.vacated = make(chan struct{})
		if s.running == 0 {
			delete(a.slots, key)
		}
	}()
	return fn(ctx)
}

// Running reports how many operations currently hold key.
func (a *Atomic[K]) Running(key K) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[key]; ok {
		return s.running
	}
	return 0
}

// SingletonAtomic is an Atomic that always uses one internal key, giving
// global mutual exclusion (capacity 1) or a global concurrency bound.
type SingletonAtomic struct {
	inner *Atomic[struct{}]
}

// NewSingletonAtomic creates a global lock with the given capacity.
func NewSingletonAtomic(capacity int) *SingletonAtomic {
	return &SingletonAtomic{inner: NewAtomic[struct{}](capacity)}
}

// Do runs fn once a global slot is free.
func (s *SingletonAtomic) Do(ctx context.Context, fn func(context.Context) error) error {
	return s.inner.WaitFor(ctx, struct{}{}, fn)
}

// Running reports how many operations currently hold a global slot.
func (s *SingletonAtomic) Running() int {
	return s.inner.Running(struct{}{})
}
