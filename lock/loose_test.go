package lock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooseAtomicCoalesces(t *testing.T) {
	t.Parallel()

	l := NewLooseAtomic[string]()
	var mu sync.Mutex
	loaded := false
	loads := 0

	load := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if loaded {
			return nil
		}
		loads++
		loaded = true
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.WaitFor(context.Background(), "app", load))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, loads)
	assert.False(t, l.Busy("app"))
}

func TestLooseAtomicWaitsOnTheRunningOperation(t *testing.T) {
	t.Parallel()

	l := NewLooseAtomic[string]()
	holding := make(chan struct{})
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.WaitFor(context.Background(), "k", func(context.Context) error {
			close(holding)
			<-release
			record("first")
			return nil
		})
	}()
	<-holding
	assert.True(t, l.Busy("k"))

	second := make(chan struct{})
	go func() {
		defer close(second)
		_ = l.WaitFor(context.Background(), "k", func(context.Context) error {
			record("second")
			return nil
		})
	}()

	close(release)
	<-done
	<-second
	assert.Equal(t, []string{"first", "second"}, order)
}
