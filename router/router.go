// Package router arbitrates navigation between independent consumers.
//
// The Router owns the only channel through which URL mutations and native
// navigation notifications reach application code. Every navigation is
// queued speculatively in a MinesweeperQueue and put to a OneVoteVeto among
// the registered consumers: one veto reverts the host location, otherwise
// the navigation is confirmed (optionally redirecting). Native events queued
// behind a navigation are replayed to listeners only once every consumer has
// reported ready, and only when the navigation was confirmed.
package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/microapp/events"
	"github.com/GoCodeAlone/microapp/internal/logging"
)

// Router errors
var (
	ErrDeadLoop     = errors.New("navigation discarded: dead loop detected")
	ErrRouterClosed = errors.New("router is closed")
)

// ArbitrationConflictError reports a navigation whose consumers requested
// more than one redirect. It is logged, never returned.
type ArbitrationConflictError struct {
	URL       string
	Redirects []string
}

func (e *ArbitrationConflictError) Error() string {
	return fmt.Sprintf("conflicting redirects for %q: %v", e.URL, e.Redirects)
}

// Consumer takes part in every arbitration. Accept is called synchronously,
// in navigation order, while the router holds its lock: it must not block
// and must not call back into the router. Asynchronous work reports through
// the descriptor. A consumer that never votes or counts stalls arbitration
// until the router is closed.
type Consumer interface {
	Accept(ctx context.Context, d *Descriptor)
}

// Descriptor is one consumer's view of an arbitration.
type Descriptor struct {
	Navigation *Navigation
	// Ballot votes on the navigation; Pass may carry one redirect URL.
	Ballot *Ballot[string]
	// Counter reports the consumer ready (its DOM settled for this navigation).
	Counter *CounterController
}

// Listener receives replayed native events.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

type backlogEntry struct {
	elem  *Element[*Navigation]
	event Event
	ready bool
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Router) { r.logger = logging.OrDiscard(logger) }
}

// WithSubject publishes router events on subject.
func WithSubject(subject events.Subject) Option {
	return func(r *Router) { r.subject = subject }
}

// WithDeadLoopConfig tunes the dead-loop guard.
func WithDeadLoopConfig(cfg DeadLoopConfig) Option {
	return func(r *Router) { r.deadLoop = cfg }
}

// WithClock replaces time.Now for the dead-loop guard.
func WithClock(clock func() time.Time) Option {
	return func(r *Router) { r.clock = clock }
}

// Router patches a Host and arbitrates its navigations. Construct one per
// host with New and share it with every RouterContainer.
type Router struct {
	host     Host
	logger   logging.Logger
	subject  events.Subject
	emitter  *events.Emitter
	deadLoop DeadLoopConfig
	clock    func() time.Time
	detector *DeadLoopDetector

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	queue       *MinesweeperQueue[*Navigation]
	consumers   []Consumer
	backlog     []*backlogEntry
	listeners   map[EventType][]listenerEntry
	nextID      int
	inflight    int
	idle        chan struct{}
	unsubscribe func()

	// flushMu keeps replayed events in order across concurrent arbitrations.
	flushMu sync.Mutex
}

// New patches host and returns its router.
func New(host Host, opts ...Option) *Router {
	r := &Router{
		host:      host,
		logger:    logging.Discard(),
		deadLoop:  DefaultDeadLoopConfig(),
		listeners: make(map[EventType][]listenerEntry),
		idle:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.detector = NewDeadLoopDetector(r.deadLoop, r.clock)
	r.emitter = &events.Emitter{Subject: r.subject, Source: "router", Logger: r.logger}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.queue = NewMinesweeperQueue(&Navigation{
		ID:       events.NewID(),
		NewURL:   host.URL(),
		NewState: host.State(),
	})
	r.unsubscribe = host.Subscribe(r.handleNative)
	return r
}

// Host returns the patched host.
func (r *Router) Host() Host {
	return r.host
}

// Location returns the URL of the router's current belief of truth.
func (r *Router) Location() string {
	return r.queue.Top().Value.NewURL
}

// RegisterConsumer adds c to every future arbitration.
func (r *Router) RegisterConsumer(c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.consumers, c) {
		r.consumers = append(r.consumers, c)
	}
}

// UnregisterConsumer removes c. Arbitrations already started still count it.
func (r *Router) UnregisterConsumer(c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers = slices.DeleteFunc(r.consumers, func(x Consumer) bool { return x == c })
}

// AddEventListener captures a listener for native events of type typ. The
// listener runs only when the router replays a confirmed navigation's event.
func (r *Router) AddEventListener(typ EventType, fn Listener) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[typ] = append(r.listeners[typ], listenerEntry{id: id, fn: fn})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.listeners[typ] = slices.DeleteFunc(r.listeners[typ], func(l listenerEntry) bool { return l.id == id })
	}
}

// PushState is the patched history push.
func (r *Router) PushState(state any, url string) error {
	return r.mutate("push", state, url, r.host.PushState)
}

// ReplaceState is the patched history replace.
func (r *Router) ReplaceState(state any, url string) error {
	return r.mutate("replace", state, url, r.host.ReplaceState)
}

// NavigateToURL pushes url with no state.
func (r *Router) NavigateToURL(url string) error {
	return r.PushState(nil, url)
}

func (r *Router) mutate(kind string, state any, url string, apply func(any, string)) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	if r.detector.Add(url) {
		r.mu.Unlock()
		r.logger.Warn("Dead loop detected, navigation discarded", "url", url, "kind", kind)
		r.emitter.Emit(r.ctx, events.TypeDeadLoopDetect, map[string]any{"url": url, "kind": kind}, nil)
		return fmt.Errorf("%s %q: %w", kind, url, ErrDeadLoop)
	}

	old := r.queue.Top().Value
	apply(state, url)
	elem := r.queue.Push(&Navigation{
		ID:       events.NewID(),
		NewURL:   url,
		NewState: state,
		OldURL:   old.NewURL,
		OldState: old.NewState,
	})
	r.arbitrateLocked(elem)
	r.mu.Unlock()
	return nil
}

func (r *Router) handleNative(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	old := r.queue.Top().Value
	evCopy := ev
	elem := r.queue.Push(&Navigation{
		ID:       events.NewID(),
		NewURL:   ev.URL,
		NewState: ev.State,
		OldURL:   old.NewURL,
		OldState: old.NewState,
		Event:    &evCopy,
	})
	r.backlog = append(r.backlog, &backlogEntry{elem: elem, event: ev})
	r.arbitrateLocked(elem)
}

// Reroute re-validates the current top of the queue with every consumer.
func (r *Router) Reroute() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.arbitrateLocked(r.queue.Top())
}

func (r *Router) arbitrateLocked(elem *Element[*Navigation]) {
	n := len(r.consumers)
	veto := NewOneVoteVeto[string](n)
	counter := NewCounter(n)

	for i, c := range r.consumers {
		c.Accept(r.ctx, &Descriptor{
			Navigation: elem.Value,
			Ballot:     veto.Ballot(i),
			Counter:    counter.Controller(i),
		})
	}

	r.inflight++
	go r.settle(elem, veto, counter)
}

func (r *Router) settle(elem *Element[*Navigation], veto *OneVoteVeto[string], counter *Counter) {
	defer r.done()

	nav := elem.Value
	verdict, err := veto.Wait(r.ctx)
	if err != nil {
		return
	}

	if verdict.Vetoed {
		r.mu.Lock()
		wasTop := r.queue.Cancel(elem)
		if wasTop && !r.closed {
			// Replace, not back: going back would make the vetoed entry reachable via forward.
			top := r.queue.Top().Value
			r.host.ReplaceState(top.NewState, top.NewURL)
			r.arbitrateLocked(r.queue.Top())
		}
		r.mu.Unlock()

		r.logger.Debug("Navigation canceled", "url", nav.NewURL, "reverted", wasTop)
		r.emitter.Emit(r.ctx, events.TypeNavigationCanceled, navigationData(nav), nil)
	} else {
		r.mu.Lock()
		r.queue.Confirm(elem)
		r.mu.Unlock()

		r.logger.Debug("Navigation confirmed", "url", nav.NewURL)
		r.emitter.Emit(r.ctx, events.TypeNavigationConfirmed, navigationData(nav), nil)

		switch len(verdict.Values) {
		case 0:
		case 1:
			if err := r.ReplaceState(nil, verdict.Values[0]); err != nil {
				r.logger.Warn("Redirect failed", "from", nav.NewURL, "to", verdict.Values[0], "error", err)
			}
		default:
			conflict := &ArbitrationConflictError{URL: nav.NewURL, Redirects: verdict.Values}
			r.logger.Warn("Redirect conflict, no redirect applied", "error", conflict)
			r.emitter.Emit(r.ctx, events.TypeRedirectConflict, map[string]any{
				"url":       nav.NewURL,
				"redirects": verdict.Values,
			}, nil)
		}
	}

	if err := counter.Wait(r.ctx); err != nil {
		return
	}
	r.flush(elem)
}

// flush marks elem's queued events ready and replays, in order, every
// leading backlog entry whose navigation is resolved.
func (r *Router) flush(elem *Element[*Navigation]) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	for _, b := range r.backlog {
		if b.elem == elem {
			b.ready = true
		}
	}
	type delivery struct {
		event     Event
		listeners []listenerEntry
	}
	var deliveries []delivery
	i := 0
	for ; i < len(r.backlog); i++ {
		b := r.backlog[i]
		status := b.elem.Status()
		if status == StatusCanceled {
			continue
		}
		if status == StatusPending || !b.ready {
			break
		}
		deliveries = append(deliveries, delivery{event: b.event, listeners: slices.Clone(r.listeners[b.event.Type])})
	}
	r.backlog = slices.Clone(r.backlog[i:])
	r.mu.Unlock()

	for _, d := range deliveries {
		for _, l := range d.listeners {
			r.invoke(l.fn, d.event)
		}
	}
}

func (r *Router) invoke(fn Listener, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Navigation listener panicked", "event", ev.Type, "url", ev.URL, "panic", rec)
		}
	}()
	fn(ev)
}

func (r *Router) done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight--
	if r.inflight == 0 {
		close(r.idle)
		r.idle = make(chan struct{})
	}
}

// Settle blocks until no arbitration is in flight, including the reverts
// and redirects they trigger.
func (r *Router) Settle(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.inflight == 0 {
			r.mu.Unlock()
			return nil
		}
		idle := r.idle
		r.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close detaches the router from its host and abandons pending arbitrations.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	r.mu.Unlock()

	unsubscribe()
	r.cancel()
	_ = r.Settle(context.Background())
}

func navigationData(nav *Navigation) map[string]any {
	return map[string]any{
		"id":     nav.ID,
		"newUrl": nav.NewURL,
		"oldUrl": nav.OldURL,
	}
}
