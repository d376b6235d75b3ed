package microapp

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/GoCodeAlone/microapp/internal/logging"
)

// Transition names the lifecycle work a hook observes.
type Transition string

const (
	TransitionLoad      Transition = "load"
	TransitionBootstrap Transition = "bootstrap"
	TransitionMount     Transition = "mount"
	TransitionUnmount   Transition = "unmount"
	TransitionUpdate    Transition = "update"
	TransitionUnload    Transition = "unload"
	TransitionStart     Transition = "start"
	TransitionStop      Transition = "stop"
)

// Phase is the point within a transition at which a hook fires.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
	PhaseError  Phase = "error"
)

// HookEvent is passed to every hook.
type HookEvent struct {
	App        *Application
	Transition Transition
	Phase      Phase
	Props      Props
	Err        error
}

// HookFunc observes a transition. Returned errors and panics are logged and
// otherwise ignored.
type HookFunc func(ctx context.Context, ev HookEvent) error

// LoadErrorPolicy decides whether a failed load is retryable (LOAD_ERROR)
// rather than permanent (SKIP_BECAUSE_BROKEN). retryCount is the value the
// caller passed through WithRetryCount.
type LoadErrorPolicy func(ctx context.Context, app *Application, err error, retryCount int) bool

// UnmountErrorPolicy decides whether a failed unmount should be ignored,
// leaving the application NOT_MOUNTED instead of broken.
type UnmountErrorPolicy func(ctx context.Context, app *Application, err error) bool

type hookKey struct {
	transition Transition
	phase      Phase
}

type hookEntry struct {
	id uint64
	fn HookFunc
}

// Hooks holds the typed hook slots of an application.
type Hooks struct {
	mu              sync.RWMutex
	nextID          uint64
	handlers        map[hookKey][]hookEntry
	loadPolicies    []LoadErrorPolicy
	unmountPolicies []UnmountErrorPolicy
	logger          Logger
}

// NewHooks creates an empty hook bundle.
func NewHooks(logger Logger) *Hooks {
	return &Hooks{
		handlers: make(map[hookKey][]hookEntry),
		logger:   logging.OrDiscard(logger),
	}
}

// On registers fn for the given transition and phase. Hooks in one slot run
// in registration order. The returned function removes the registration.
func (h *Hooks) On(t Transition, p Phase, fn HookFunc) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	key := hookKey{t, p}
	h.handlers[key] = append(h.handlers[key], hookEntry{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.handlers[key] = slices.DeleteFunc(h.handlers[key], func(e hookEntry) bool { return e.id == id })
	}
}

// OnLoadError adds a load failure policy. A failed load is retryable when
// any policy answers true.
func (h *Hooks) OnLoadError(policy LoadErrorPolicy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loadPolicies = append(h.loadPolicies, policy)
}

// OnUnmountError adds an unmount failure policy. A failed unmount is ignored
// when any policy answers true.
func (h *Hooks) OnUnmountError(policy UnmountErrorPolicy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unmountPolicies = append(h.unmountPolicies, policy)
}

func (h *Hooks) fire(ctx context.Context, ev HookEvent) {
	h.mu.RLock()
	entries := slices.Clone(h.handlers[hookKey{ev.Transition, ev.Phase}])
	h.mu.RUnlock()

	for _, e := range entries {
		if err := h.call(ctx, e.fn, ev); err != nil {
			h.logger.Warn("Hook failed", "app", appName(ev.App), "transition", ev.Transition, "phase", ev.Phase, "error", err)
		}
	}
}

func (h *Hooks) call(ctx context.Context, fn HookFunc, ev HookEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return fn(ctx, ev)
}

func (h *Hooks) retryLoad(ctx context.Context, app *Application, cause error, retryCount int) bool {
	h.mu.RLock()
	policies := slices.Clone(h.loadPolicies)
	h.mu.RUnlock()
	for _, p := range policies {
		if h.decide(func() bool { return p(ctx, app, cause, retryCount) }) {
			return true
		}
	}
	return false
}

func (h *Hooks) ignoreUnmount(ctx context.Context, app *Application, cause error) bool {
	h.mu.RLock()
	policies := slices.Clone(h.unmountPolicies)
	h.mu.RUnlock()
	for _, p := range policies {
		if h.decide(func() bool { return p(ctx, app, cause) }) {
			return true
		}
	}
	return false
}

// decide runs a policy, treating a panic as "no".
func (h *Hooks) decide(fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("Hook policy panicked", "panic", r)
			ok = false
		}
	}()
	return fn()
}

func appName(a *Application) string {
	if a == nil {
		return ""
	}
	return a.name
}
