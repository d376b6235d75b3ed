package router

import (
	"context"
	"sync"
)

// Counter is a countdown latch over n parties. It fires once every party
// has counted, in any order.
type Counter struct {
	mu          sync.Mutex
	remaining   int
	done        chan struct{}
	controllers []*CounterController
}

// NewCounter creates a latch for n parties. With n == 0 it is already done.
func NewCounter(n int) *Counter {
	c := &Counter{
		remaining:   n,
		done:        make(chan struct{}),
		controllers: make([]*CounterController, n),
	}
	for i := range c.controllers {
		c.controllers[i] = &CounterController{counter: c}
	}
	if n <= 0 {
		close(c.done)
	}
	return c
}

// Controller returns the personal controller of party i.
func (c *Counter) Controller(i int) *CounterController {
	return c.controllers[i]
}

// Remaining returns how many parties have not counted yet.
func (c *Counter) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Done is closed once every party has counted.
func (c *Counter) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until every party has counted or ctx ends.
func (c *Counter) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Counter) count() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining--
	if c.remaining == 0 {
		close(c.done)
	}
}

// CounterController reports one party in. Repeated calls are ignored.
type CounterController struct {
	once    sync.Once
	counter *Counter
}

// Count reports this party in.
func (cc *CounterController) Count() {
	cc.once.Do(cc.counter.count)
}
