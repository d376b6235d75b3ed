package lock

import (
	"context"
	"sync"
)

// LooseAtomic tracks at most one operation per key. A request for a busy
// key waits on that exact operation and then retries, which makes it a
// cheap way to coalesce repeated work (callers re-check whether the work
// still needs doing once they get the key).
type LooseAtomic[K comparable] struct {
	mu      sync.Mutex
	running map[K]chan struct{}
}

// NewLooseAtomic creates an empty LooseAtomic.
func NewLooseAtomic[K comparable]() *LooseAtomic[K] {
	return &LooseAtomic[K]{running: make(map[K]chan struct{})}
}

// WaitFor runs fn once no other operation holds key.
func (l *LooseAtomic[K]) WaitFor(ctx context.Context, key K, fn func(context.Context) error) error {
	for {
		l.mu.Lock()
		if done, busy := l.running[key]; busy {
			l.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		done := make(chan struct{})
		l.running[key] = done
		l.mu.Unlock()

		return l.run(ctx, key, done, fn)
	}
}

func (l *LooseAtomic[K]) run(ctx context.Context, key K, done chan struct{}, fn func(context.Context) error) error {
	defer func() {
		l.mu.Lock()
		delete(l.running, key)
		l.mu.Unlock()
		close(done)
	}()
	return fn(ctx)
}

// Busy reports whether an operation currently holds key.
func (l *LooseAtomic[K]) Busy(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.running[key]
	return busy
}
