package router

import (
	"net/url"
	"slices"
	"sync"
)

// Host is the location/history surface the router owns. PushState and
// ReplaceState are the unpatched primitives: they never emit events.
// Subscribe delivers native notifications (history traversal, fragment
// changes) and returns a function that cancels the subscription.
type Host interface {
	URL() string
	State() any
	PushState(state any, url string)
	ReplaceState(state any, url string)
	Subscribe(fn func(Event)) (unsubscribe func())
}

type historyEntry struct {
	url   string
	state any
}

// MemoryHost is an in-memory Host with a browser-like session history.
// Back, Forward and Go emit popstate (and hashchange when only the fragment
// differs) to subscribers, outside the host's lock.
type MemoryHost struct {
	mu      sync.Mutex
	entries []historyEntry
	index   int
	subs    map[int]func(Event)
	nextSub int
}

// NewMemoryHost creates a host positioned at initialURL.
func NewMemoryHost(initialURL string) *MemoryHost {
	return &MemoryHost{
		entries: []historyEntry{{url: initialURL}},
		subs:    make(map[int]func(Event)),
	}
}

// URL returns the current location.
func (h *MemoryHost) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index].url
}

// State returns the state attached to the current entry.
func (h *MemoryHost) State() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index].state
}

// Len returns the number of history entries.
func (h *MemoryHost) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// PushState discards forward entries and appends a new one.
func (h *MemoryHost) PushState(state any, url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries[:h.index+1], historyEntry{url: url, state: state})
	h.index = len(h.entries) - 1
}

// ReplaceState overwrites the current entry.
func (h *MemoryHost) ReplaceState(state any, url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.index] = historyEntry{url: url, state: state}
}

// Subscribe registers fn for native notifications.
func (h *MemoryHost) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Back moves one entry back. It reports false at the start of history.
func (h *MemoryHost) Back() bool { return h.Go(-1) }

// Forward moves one entry forward. It reports false at the end of history.
func (h *MemoryHost) Forward() bool { return h.Go(1) }

// Go moves delta entries through history and notifies subscribers.
func (h *MemoryHost) Go(delta int) bool {
	h.mu.Lock()
	target := h.index + delta
	if delta == 0 || target < 0 || target >= len(h.entries) {
		h.mu.Unlock()
		return false
	}
	from := h.entries[h.index]
	h.index = target
	to := h.entries[target]

	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, h.subs[id])
	}
	h.mu.Unlock()

	evs := []Event{{Type: EventPopState, URL: to.url, State: to.state}}
	if onlyFragmentDiffers(from.url, to.url) {
		evs = append(evs, Event{Type: EventHashChange, URL: to.url, State: to.state})
	}
	for _, ev := range evs {
		for _, fn := range subs {
			fn(ev)
		}
	}
	return true
}

func onlyFragmentDiffers(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil || ua.Fragment == ub.Fragment {
		return false
	}
	ua.Fragment, ub.Fragment = "", ""
	return ua.String() == ub.String()
}
