// Package microapp orchestrates independently loaded applications that share
// one host page. An Application walks the load, bootstrap, mount, update,
// unmount and unload lifecycle under a directive-driven state machine that
// tolerates start, stop, update and unload requests issued concurrently and
// out of order. A Container owns a set of applications, and a
// RouterContainer activates the one matching the current location.
package microapp

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/microapp/events"
	"github.com/GoCodeAlone/microapp/lock"
)

// AppConfig describes an application to register with a Container.
type AppConfig struct {
	Name string `yaml:"name" toml:"name" json:"name"`

	// ActiveRule is a path prefix. "/foo" is active for "/foo", "/foo/x"
	// and "/foo?q", but not for "/foobar".
	ActiveRule string `yaml:"activeRule" toml:"activeRule" json:"activeRule"`

	// ActiveWhen overrides ActiveRule when set.
	ActiveWhen func(url string) bool `yaml:"-" toml:"-" json:"-"`

	// Target identifies the mount point. Mounts and unmounts on one target
	// never overlap.
	Target string `yaml:"target" toml:"target" json:"target"`

	Props  Props  `yaml:"props" toml:"props" json:"props"`
	Loader Loader `yaml:"-" toml:"-" json:"-"`
}

// Active reports whether the application should be active at url.
func (c AppConfig) Active(url string) bool {
	if c.ActiveWhen != nil {
		return c.ActiveWhen(url)
	}
	return matchActiveRule(c.ActiveRule, url)
}

// StartOption configures a single Start or Load call.
type StartOption func(*startOptions)

type startOptions struct {
	retryCount int
}

// WithRetryCount tells load failure policies how many times the caller has
// already retried.
func WithRetryCount(n int) StartOption {
	return func(o *startOptions) {
		o.retryCount = n
	}
}

type opKind int

const (
	opStart opKind = iota
	opStop
	opUpdate
	opUnload
)

func (k opKind) String() string {
	switch k {
	case opStart:
		return "start"
	case opStop:
		return "stop"
	case opUpdate:
		return "update"
	default:
		return "unload"
	}
}

// tolerates reports whether an operation of kind k may keep running once d
// is the latest directive.
func (k opKind) tolerates(d Directive) bool {
	switch k {
	case opStart, opUpdate:
		return d == DirectiveStart || d == DirectiveUpdate
	case opStop:
		return d == DirectiveStop
	default:
		return d == DirectiveUnload
	}
}

// operation is one in-flight start, stop, update or unload.
type operation struct {
	kind   opKind
	token  context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	err    error

	// abandoned is set when the operation ended because it was interrupted
	// or its caller gave up. Waiters re-issue such operations.
	abandoned bool
}

// check returns the interruption recorded on the operation's token, if any.
func (op *operation) check() error {
	if op.token.Err() != nil {
		return context.Cause(op.token)
	}
	return nil
}

func await(ctx context.Context, op *operation) error {
	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Application is a single orchestrated application. All methods are safe for
// concurrent use.
type Application struct {
	name     string
	config   AppConfig
	hooks    *Hooks
	logger   Logger
	emitter  *events.Emitter
	timeouts StageTimeouts

	loadLimiter *lock.SingletonAtomic
	loads       *lock.LooseAtomic[string]
	targets     *lock.Atomic[string]

	mu        sync.Mutex
	state     State
	directive Directive
	ops       map[opKind]*operation
	lifecycle *Lifecycle
	resources Resources
	props     Props
	unloaded  bool
}

// Name returns the application name.
func (a *Application) Name() string {
	return a.name
}

// Config returns the configuration the application was registered with.
func (a *Application) Config() AppConfig {
	return a.config
}

// Hooks returns the application's hook slots.
func (a *Application) Hooks() *Hooks {
	return a.hooks
}

// State returns the current lifecycle state.
func (a *Application) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Directive returns the most recently requested directive.
func (a *Application) Directive() Directive {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.directive
}

// Lifecycle returns the loaded lifecycle, or nil before a successful load.
func (a *Application) Lifecycle() *Lifecycle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lifecycle
}

// Resources returns what the loader reported alongside the lifecycle.
func (a *Application) Resources() Resources {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resources
}

// Props returns the props lifecycle functions currently receive.
func (a *Application) Props() Props {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.props.Clone()
}

// wantsMounted reports whether the application is mounted or heading there.
func (a *Application) wantsMounted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.directive {
	case DirectiveStart, DirectiveUpdate:
		return true
	}
	return a.state.attachesStop()
}

// Load fetches the application's source without starting it. Concurrent
// loads of one application share a single fetch.
func (a *Application) Load(ctx context.Context, opts ...StartOption) error {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}
	if a.Directive() == DirectiveUnload {
		return a.unloadedError()
	}
	return a.load(ctx, o.retryCount)
}

// Start loads, bootstraps and mounts the application as needed. It returns
// an error satisfying errors.Is(err, ErrInterrupted) when a newer stop or
// unload supersedes it.
func (a *Application) Start(ctx context.Context, opts ...StartOption) error {
	if err := a.direct(DirectiveStart); err != nil {
		return err
	}
	return a.Resume(ctx, opts...)
}

// Resume carries out a start whose directive has already been issued, for
// example by a container activation. Unlike Start it never overrides a newer
// directive: when the latest one is not start or update it returns an
// interruption straight away.
func (a *Application) Resume(ctx context.Context, opts ...StartOption) error {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}

	for {
		a.mu.Lock()
		if !opStart.tolerates(a.directive) {
			err := a.interruptedLocked(opStart)
			a.mu.Unlock()
			return err
		}
		if op := a.ops[opUpdate]; op != nil {
			a.mu.Unlock()
			if err := await(ctx, op); err != nil {
				return err
			}
			continue
		}
		if op := a.ops[opStart]; op != nil {
			a.mu.Unlock()
			if err := await(ctx, op); err != nil {
				return err
			}
			if op.abandoned {
				continue
			}
			return a.settled(opStart, op.err)
		}
		if op := a.ops[opStop]; op != nil {
			a.mu.Unlock()
			if err := await(ctx, op); err != nil {
				return err
			}
			continue
		}
		op := a.beginLocked(ctx, opStart)
		a.mu.Unlock()

		err := a.runStart(ctx, op, o)
		a.finish(op, err)
		return err
	}
}

// Stop unmounts the application if it is mounted.
func (a *Application) Stop(ctx context.Context) error {
	if err := a.direct(DirectiveStop); err != nil {
		return err
	}
	return a.stop(ctx)
}

// stop carries out a stop whose directive has already been issued.
func (a *Application) stop(ctx context.Context) error {
	for {
		a.mu.Lock()
		if !opStop.tolerates(a.directive) {
			err := a.interruptedLocked(opStop)
			a.mu.Unlock()
			return err
		}
		if op := a.ops[opStop]; op != nil {
			a.mu.Unlock()
			if err := await(ctx, op); err != nil {
				return err
			}
			if op.abandoned {
				continue
			}
			return a.settled(opStop, op.err)
		}
		if op := a.ops[opUpdate]; op != nil {
			a.mu.Unlock()
			if err := await(ctx, op); err != nil {
				return err
			}
			continue
		}
		if op := a.ops[opStart]; op != nil && a.state.attachesStop() {
			a.mu.Unlock()
			if err := await(ctx, op); err != nil {
				return err
			}
			continue
		}
		op := a.beginLocked(ctx, opStop)
		a.mu.Unlock()

		err := a.runStop(ctx, op)
		a.finish(op, err)
		return err
	}
}

// Update runs the lifecycle's update functions with props merged over the
// current props. The application must be mounted. Each call runs its own
// update with its own props: a caller finding another update in flight waits
// for it and then runs, rather than sharing its result.
func (a *Application) Update(ctx context.Context, props Props) error {
	if err := a.direct(DirectiveUpdate); err != nil {
		return err
	}

	for {
		a.mu.Lock()
		if !opUpdate.tolerates(a.directive) {
			err := a.interruptedLocked(opUpdate)
			a.mu.Unlock()
			return err
		}
		var pending *operation
		for _, kind := range []opKind{opUpdate, opStart, opStop} {
			if op := a.ops[kind]; op != nil {
				pending = op
				break
			}
		}
		if pending != nil {
			a.mu.Unlock()
			if err := await(ctx, pending); err != nil {
				return err
			}
			continue
		}
		op := a.beginLocked(ctx, opUpdate)
		a.mu.Unlock()

		err := a.runUpdate(ctx, op, props)
		a.finish(op, err)
		return err
	}
}

// Unload tears the application down for good. A mounted application is
// unmounted first. Once Unload has been called every other operation
// returns ErrUnloaded. Concurrent callers share one unload.
func (a *Application) Unload(ctx context.Context) error {
	a.mu.Lock()
	if op := a.ops[opUnload]; op != nil {
		a.mu.Unlock()
		if err := await(ctx, op); err != nil {
			return err
		}
		return op.err
	}
	if a.unloaded {
		a.mu.Unlock()
		return nil
	}
	a.directLocked(DirectiveUnload)
	op := a.beginLocked(ctx, opUnload)
	a.mu.Unlock()

	err := a.runUnload(ctx, op)
	a.finish(op, err)
	return err
}

// direct records d as the latest directive unless the application has been
// unloaded.
func (a *Application) direct(d Directive) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.directive == DirectiveUnload {
		return a.unloadedError()
	}
	a.directLocked(d)
	return nil
}

// directLocked records d and interrupts every operation that no longer fits.
func (a *Application) directLocked(d Directive) {
	a.directive = d
	for _, op := range a.ops {
		if !op.kind.tolerates(d) {
			op.cancel(&InterruptedError{App: a.name, Operation: op.kind.String(), Directive: d})
		}
	}
}

func (a *Application) beginLocked(ctx context.Context, kind opKind) *operation {
	token, cancel := context.WithCancelCause(ctx)
	op := &operation{
		kind:   kind,
		token:  token,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.ops[kind] = op
	return op
}

func (a *Application) finish(op *operation, err error) {
	a.mu.Lock()
	op.err = err
	op.abandoned = err != nil && (IsInterruption(err) || op.token.Err() != nil)
	if a.ops[op.kind] == op {
		delete(a.ops, op.kind)
	}
	a.mu.Unlock()
	op.cancel(nil)
	close(op.done)
}

// settled turns the result of an operation another caller ran into this
// caller's result, given the directive now in force.
func (a *Application) settled(kind opKind, err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !kind.tolerates(a.directive) {
		return a.interruptedLocked(kind)
	}
	return err
}

func (a *Application) interruptedLocked(kind opKind) error {
	if a.directive == DirectiveUnload {
		return a.unloadedError()
	}
	return &InterruptedError{App: a.name, Operation: kind.String(), Directive: a.directive}
}

func (a *Application) unloadedError() error {
	return fmt.Errorf("application %q: %w", a.name, ErrUnloaded)
}

// enter moves the application to state to unless op has been interrupted.
// The check and the move are atomic, so a directive landing concurrently is
// either seen here or at the next boundary.
func (a *Application) enter(ctx context.Context, op *operation, to State) error {
	a.mu.Lock()
	if op != nil {
		if err := op.check(); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	from := a.state
	a.state = to
	a.mu.Unlock()
	a.stateChanged(ctx, from, to)
	return nil
}

func (a *Application) setState(ctx context.Context, to State) {
	_ = a.enter(ctx, nil, to)
}

func (a *Application) stateChanged(ctx context.Context, from, to State) {
	if from == to {
		return
	}
	a.logger.Debug("Application state changed", "app", a.name, "from", from.String(), "to", to.String())
	a.emit(ctx, events.TypeStateChange, map[string]any{
		"from": from.String(),
		"to":   to.String(),
	})
}

func (a *Application) emit(ctx context.Context, eventType string, data map[string]any) {
	payload := map[string]any{"app": a.name}
	for k, v := range data {
		payload[k] = v
	}
	a.emitter.Emit(ctx, eventType, payload, nil)
}

func errorData(err error, interrupted bool) map[string]any {
	return map[string]any{
		"error":       err.Error(),
		"interrupted": interrupted,
	}
}
