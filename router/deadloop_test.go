package router

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time           { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestDeadLoopDetectorSameValue(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	d := NewDeadLoopDetector(DeadLoopConfig{}, clock.Now)

	for i := 1; i < 20; i++ {
		assert.False(t, d.Add("/loop"), "feed %d", i)
		clock.Advance(time.Millisecond)
	}
	assert.True(t, d.Add("/loop"), "20th identical feed within the window")
}

func TestDeadLoopDetectorSpreadBeyondWindow(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	d := NewDeadLoopDetector(DefaultDeadLoopConfig(), clock.Now)

	for i := 0; i < 100; i++ {
		assert.False(t, d.Add("/slow"), "feed %d", i)
		clock.Advance(60 * time.Millisecond)
	}
}

func TestDeadLoopDetectorTotalThreshold(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	d := NewDeadLoopDetector(DefaultDeadLoopConfig(), clock.Now)

	for i := 1; i < 50; i++ {
		assert.False(t, d.Add(fmt.Sprintf("/page/%d", i)), "feed %d", i)
	}
	assert.True(t, d.Add("/page/50"))
}

func TestDeadLoopDetectorMaxEntries(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	d := NewDeadLoopDetector(DeadLoopConfig{
		SameValueThreshold: 2,
		TotalThreshold:     1000,
		Window:             time.Hour,
		MaxEntries:         2,
	}, clock.Now)

	assert.False(t, d.Add("/a"))
	assert.False(t, d.Add("/b"))
	assert.False(t, d.Add("/c"))
	// The first /a fell out of the capped window.
	assert.False(t, d.Add("/a"))
	assert.True(t, d.Add("/a"))

	d.Reset()
	assert.False(t, d.Add("/a"))
}
