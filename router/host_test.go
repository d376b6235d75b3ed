package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryHostHistory(t *testing.T) {
	t.Parallel()

	h := NewMemoryHost("/")
	var got []Event
	unsubscribe := h.Subscribe(func(ev Event) { got = append(got, ev) })

	h.PushState("s1", "/a")
	h.PushState(nil, "/b")
	assert.Empty(t, got, "push never notifies")

	assert.True(t, h.Back())
	assert.Equal(t, "/a", h.URL())
	assert.Equal(t, "s1", h.State())
	assert.Equal(t, []Event{{Type: EventPopState, URL: "/a", State: "s1"}}, got)

	h.PushState(nil, "/c")
	assert.Equal(t, 3, h.Len(), "push discards forward entries")
	assert.False(t, h.Forward())

	h.ReplaceState(nil, "/d")
	assert.Equal(t, "/d", h.URL())
	assert.Equal(t, 3, h.Len())

	unsubscribe()
	assert.True(t, h.Go(-2))
	assert.Len(t, got, 1)
	assert.False(t, h.Back())
}

func TestMemoryHostHashChange(t *testing.T) {
	t.Parallel()

	h := NewMemoryHost("/page#one")
	var types []EventType
	h.Subscribe(func(ev Event) { types = append(types, ev.Type) })

	h.PushState(nil, "/page#two")
	h.PushState(nil, "/other")
	assert.True(t, h.Back())
	assert.True(t, h.Back())

	assert.Equal(t, []EventType{EventPopState, EventPopState, EventHashChange}, types)
}
