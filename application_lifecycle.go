package microapp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/GoCodeAlone/microapp/events"
)

func (a *Application) fire(ctx context.Context, t Transition, p Phase, props Props, err error) {
	a.hooks.fire(ctx, HookEvent{App: a, Transition: t, Phase: p, Props: props, Err: err})
}

func (a *Application) runStart(ctx context.Context, op *operation, o startOptions) error {
	a.fire(ctx, TransitionStart, PhaseBefore, a.Props(), nil)
	a.emit(ctx, events.TypeBeforeStart, nil)

	err := a.startStages(ctx, op, o)
	if err != nil {
		interrupted := abandoned(ctx, op, err)
		if interrupted {
			a.logger.Debug("Start interrupted", "app", a.name, "error", err)
		} else {
			a.logger.Error("Failed to start application", "app", a.name, "error", err)
		}
		a.fire(ctx, TransitionStart, PhaseError, a.Props(), err)
		a.emit(ctx, events.TypeStartError, errorData(err, interrupted))
		return err
	}

	a.logger.Info("Application started", "app", a.name)
	a.fire(ctx, TransitionStart, PhaseAfter, a.Props(), nil)
	a.emit(ctx, events.TypeAfterStart, nil)
	return nil
}

func (a *Application) startStages(ctx context.Context, op *operation, o startOptions) error {
	for {
		if err := op.check(); err != nil {
			return err
		}
		switch st := a.State(); st {
		case StateNotLoaded, StateLoadError, StateLoadingSourceCode:
			if err := a.load(ctx, o.retryCount); err != nil {
				return err
			}
		case StateNotBootstrapped:
			if err := a.bootstrap(ctx, op); err != nil {
				return err
			}
		case StateNotMounted:
			return a.mount(ctx, op)
		case StateMounted:
			return nil
		case StateSkipBecauseBroken:
			return fmt.Errorf("application %q: %w", a.name, ErrAppBroken)
		default:
			return fmt.Errorf("application %q: cannot start from %s: %w", a.name, st, ErrInvalidState)
		}
	}
}

func (a *Application) runStop(ctx context.Context, op *operation) error {
	a.fire(ctx, TransitionStop, PhaseBefore, a.Props(), nil)
	a.emit(ctx, events.TypeBeforeStop, nil)

	unmounted, err := a.unmount(ctx, op)
	if err != nil {
		interrupted := abandoned(ctx, op, err)
		if !interrupted {
			a.logger.Error("Failed to stop application", "app", a.name, "error", err)
		}
		a.fire(ctx, TransitionStop, PhaseError, a.Props(), err)
		a.emit(ctx, events.TypeStopError, errorData(err, interrupted))
		return err
	}

	if unmounted {
		a.logger.Info("Application stopped", "app", a.name)
	}
	a.fire(ctx, TransitionStop, PhaseAfter, a.Props(), nil)
	a.emit(ctx, events.TypeAfterStop, map[string]any{"unmounted": unmounted})
	return nil
}

func (a *Application) runUpdate(ctx context.Context, op *operation, props Props) error {
	a.fire(ctx, TransitionUpdate, PhaseBefore, props, nil)
	a.emit(ctx, events.TypeBeforeUpdate, nil)

	err := a.updateStages(ctx, op, props)
	if err != nil {
		interrupted := abandoned(ctx, op, err)
		if !interrupted {
			a.logger.Error("Failed to update application", "app", a.name, "error", err)
		}
		a.fire(ctx, TransitionUpdate, PhaseError, props, err)
		a.emit(ctx, events.TypeUpdateError, errorData(err, interrupted))
		return err
	}

	a.fire(ctx, TransitionUpdate, PhaseAfter, props, nil)
	a.emit(ctx, events.TypeAfterUpdate, nil)
	return nil
}

func (a *Application) updateStages(ctx context.Context, op *operation, props Props) error {
	a.mu.Lock()
	if err := op.check(); err != nil {
		a.mu.Unlock()
		return err
	}
	if a.state != StateMounted {
		st := a.state
		a.mu.Unlock()
		return fmt.Errorf("application %q in state %s: %w", a.name, st, ErrNotMounted)
	}
	lc := a.lifecycle
	if len(lc.Update) == 0 {
		a.mu.Unlock()
		return fmt.Errorf("application %q: %w", a.name, ErrUpdateNotSupported)
	}
	merged := a.props.Merge(props)
	a.state = StateUpdating
	a.mu.Unlock()
	a.stateChanged(ctx, StateMounted, StateUpdating)

	err := a.runStage(ctx, StageUpdate, func(ctx context.Context) error {
		return runFuncs(ctx, lc.Update, merged, op)
	})
	if err != nil {
		if abandoned(ctx, op, err) {
			a.setState(ctx, StateMounted)
			return err
		}
		a.setState(ctx, StateSkipBecauseBroken)
		return &StageFailureError{App: a.name, Stage: StageUpdate, Props: props, Err: err}
	}

	a.mu.Lock()
	a.props = merged
	a.mu.Unlock()
	a.setState(ctx, StateMounted)
	return nil
}

func (a *Application) runUnload(ctx context.Context, op *operation) error {
	// Every other operation has been interrupted; let them settle.
	for {
		a.mu.Lock()
		var pending *operation
		for kind, o := range a.ops {
			if kind != opUnload {
				pending = o
				break
			}
		}
		a.mu.Unlock()
		if pending == nil {
			break
		}
		if err := await(ctx, pending); err != nil {
			return err
		}
	}

	// Holding the load key keeps a concurrent Load from racing the teardown.
	return a.loads.WaitFor(ctx, a.name, func(ctx context.Context) error {
		props := a.Props()
		a.fire(ctx, TransitionUnload, PhaseBefore, props, nil)
		a.emit(ctx, events.TypeBeforeUnload, nil)

		var errs []error
		if _, err := a.unmount(ctx, nil); err != nil {
			errs = append(errs, err)
		}
		if lc := a.Lifecycle(); lc != nil {
			a.setState(ctx, StateUnloading)
			err := a.runStage(ctx, StageUnload, func(ctx context.Context) error {
				return runFuncs(ctx, lc.Unload, props, nil)
			})
			if err != nil {
				errs = append(errs, a.stageError(ctx, nil, StageUnload, props, err))
			}
		}

		a.mu.Lock()
		from := a.state
		a.state = StateNotLoaded
		a.lifecycle = nil
		a.resources = Resources{}
		a.unloaded = true
		a.mu.Unlock()
		a.stateChanged(ctx, from, StateNotLoaded)

		err := errors.Join(errs...)
		if err != nil {
			a.logger.Error("Application unloaded with errors", "app", a.name, "error", err)
			a.fire(ctx, TransitionUnload, PhaseError, props, err)
			a.emit(ctx, events.TypeAfterUnload, errorData(err, false))
			return err
		}
		a.logger.Info("Application unloaded", "app", a.name)
		a.fire(ctx, TransitionUnload, PhaseAfter, props, nil)
		a.emit(ctx, events.TypeAfterUnload, nil)
		return nil
	})
}

// load fetches the source once. Callers arriving while a fetch runs wait for
// it and then observe its outcome through the state.
func (a *Application) load(ctx context.Context, retryCount int) error {
	return a.loads.WaitFor(ctx, a.name, func(ctx context.Context) error {
		a.mu.Lock()
		if a.directive == DirectiveUnload {
			a.mu.Unlock()
			return a.unloadedError()
		}
		from := a.state
		switch from {
		case StateNotLoaded, StateLoadError:
		case StateSkipBecauseBroken:
			a.mu.Unlock()
			return fmt.Errorf("application %q: %w", a.name, ErrAppBroken)
		default:
			a.mu.Unlock()
			return nil
		}
		a.state = StateLoadingSourceCode
		a.mu.Unlock()
		a.stateChanged(ctx, from, StateLoadingSourceCode)

		props := a.Props()
		a.fire(ctx, TransitionLoad, PhaseBefore, props, nil)
		a.emit(ctx, events.TypeBeforeLoad, nil)

		src, err := a.fetch(ctx)
		if err != nil {
			interrupted := abandoned(ctx, nil, err)
			next := StateSkipBecauseBroken
			switch {
			case interrupted:
				next = StateNotLoaded
			case a.hooks.retryLoad(ctx, a, err, retryCount):
				next = StateLoadError
			}
			a.setState(ctx, next)
			a.logger.Error("Failed to load application", "app", a.name, "state", next.String(), "error", err)
			a.fire(ctx, TransitionLoad, PhaseError, props, err)
			data := errorData(err, interrupted)
			data["state"] = next.String()
			a.emit(ctx, events.TypeLoadError, data)
			return err
		}

		a.mu.Lock()
		a.lifecycle = &src.Lifecycle
		a.resources = src.Resources
		a.mu.Unlock()
		a.setState(ctx, StateNotBootstrapped)

		a.logger.Debug("Application loaded", "app", a.name, "scripts", len(src.Resources.Scripts), "styles", len(src.Resources.Styles))
		a.fire(ctx, TransitionLoad, PhaseAfter, props, nil)
		a.emit(ctx, events.TypeAfterLoad, map[string]any{
			"scripts": src.Resources.Scripts,
			"styles":  src.Resources.Styles,
		})
		return nil
	})
}

func (a *Application) fetch(ctx context.Context) (*Source, error) {
	var result atomic.Pointer[Source]
	err := a.loadLimiter.Do(ctx, func(ctx context.Context) error {
		return a.runStage(ctx, StageLoad, func(ctx context.Context) error {
			src, err := a.config.Loader.Load(ctx, a.name)
			if err != nil {
				return err
			}
			if src == nil {
				return ErrSourceNil
			}
			if err := src.Lifecycle.validate(); err != nil {
				return err
			}
			result.Store(src)
			return nil
		})
	})
	if err != nil {
		return nil, a.stageError(ctx, nil, StageLoad, nil, err)
	}
	return result.Load(), nil
}

func (a *Application) bootstrap(ctx context.Context, op *operation) error {
	if err := a.enter(ctx, op, StateBootstrapping); err != nil {
		return err
	}
	props := a.Props()
	lc := a.Lifecycle()
	a.fire(ctx, TransitionBootstrap, PhaseBefore, props, nil)

	err := a.runStage(ctx, StageBootstrap, func(ctx context.Context) error {
		return runFuncs(ctx, lc.Bootstrap, props, op)
	})
	if err != nil {
		next := StateSkipBecauseBroken
		if abandoned(ctx, op, err) {
			// Bootstrap runs again from the first function next time.
			next = StateNotBootstrapped
		}
		a.setState(ctx, next)
		err = a.stageError(ctx, op, StageBootstrap, props, err)
		a.fire(ctx, TransitionBootstrap, PhaseError, props, err)
		return err
	}

	a.setState(ctx, StateNotMounted)
	a.fire(ctx, TransitionBootstrap, PhaseAfter, props, nil)
	return nil
}

func (a *Application) mount(ctx context.Context, op *operation) error {
	if err := a.enter(ctx, op, StateMounting); err != nil {
		return err
	}
	props := a.Props()
	lc := a.Lifecycle()
	a.fire(ctx, TransitionMount, PhaseBefore, props, nil)

	ran := false
	err := a.targets.WaitFor(ctx, a.config.Target, func(ctx context.Context) error {
		ran = true
		return a.runStage(ctx, StageMount, func(ctx context.Context) error {
			return runFuncs(ctx, lc.Mount, props, nil)
		})
	})
	if err != nil {
		next := StateSkipBecauseBroken
		if !ran {
			next = StateNotMounted
		}
		a.setState(ctx, next)
		err = a.stageError(ctx, nil, StageMount, props, err)
		a.fire(ctx, TransitionMount, PhaseError, props, err)
		return err
	}

	a.setState(ctx, StateMounted)
	a.fire(ctx, TransitionMount, PhaseAfter, props, nil)

	a.mu.Lock()
	cause := op.check()
	a.mu.Unlock()
	if cause != nil {
		a.logger.Debug("Start interrupted during mount, unmounting", "app", a.name, "error", cause)
		if _, err := a.unmount(context.WithoutCancel(ctx), nil); err != nil {
			return err
		}
		return cause
	}
	return nil
}

// unmount takes a mounted application down. It reports false without doing
// anything when the application is not mounted.
func (a *Application) unmount(ctx context.Context, op *operation) (bool, error) {
	a.mu.Lock()
	if op != nil {
		if err := op.check(); err != nil {
			a.mu.Unlock()
			return false, err
		}
	}
	if a.state != StateMounted {
		a.mu.Unlock()
		return false, nil
	}
	a.state = StateUnmounting
	lc := a.lifecycle
	props := a.props.Clone()
	a.mu.Unlock()
	a.stateChanged(ctx, StateMounted, StateUnmounting)
	a.fire(ctx, TransitionUnmount, PhaseBefore, props, nil)

	err := a.targets.WaitFor(ctx, a.config.Target, func(ctx context.Context) error {
		return a.runStage(ctx, StageUnmount, func(ctx context.Context) error {
			return runFuncs(ctx, lc.Unmount, props, nil)
		})
	})
	if err != nil {
		if a.hooks.ignoreUnmount(ctx, a, err) {
			a.logger.Warn("Ignoring unmount failure", "app", a.name, "error", err)
			a.setState(ctx, StateNotMounted)
			a.fire(ctx, TransitionUnmount, PhaseAfter, props, nil)
			return true, nil
		}
		a.setState(ctx, StateSkipBecauseBroken)
		err = a.stageError(ctx, nil, StageUnmount, props, err)
		a.fire(ctx, TransitionUnmount, PhaseError, props, err)
		return false, err
	}

	a.setState(ctx, StateNotMounted)
	a.fire(ctx, TransitionUnmount, PhaseAfter, props, nil)
	return true, nil
}

// runStage races fn against the stage's timeout. On timeout fn keeps running
// in the background with a cancelled context; its result is discarded.
func (a *Application) runStage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	timeout := a.timeouts.For(stage)
	if timeout <= 0 {
		return protect(ctx, fn)
	}

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- protect(stageCtx, fn)
	}()

	select {
	case err := <-result:
		if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return &StageTimeoutError{App: a.name, Stage: stage, Timeout: timeout}
		}
		return err
	case <-stageCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return &StageTimeoutError{App: a.name, Stage: stage, Timeout: timeout}
	}
}

// stageError wraps collaborator failures. Timeouts and abandoned work pass
// through unchanged.
func (a *Application) stageError(ctx context.Context, op *operation, stage Stage, props Props, err error) error {
	var timeout *StageTimeoutError
	if errors.As(err, &timeout) || abandoned(ctx, op, err) {
		return err
	}
	var failure *StageFailureError
	if errors.As(err, &failure) {
		return err
	}
	return &StageFailureError{App: a.name, Stage: stage, Props: props, Err: err}
}

func protect(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// runFuncs calls fns in order. With a non-nil op the token is checked
// between functions.
func runFuncs(ctx context.Context, fns []LifecycleFunc, props Props, op *operation) error {
	for i, fn := range fns {
		if i > 0 && op != nil {
			if err := op.check(); err != nil {
				return err
			}
		}
		if err := fn(ctx, props); err != nil {
			return err
		}
	}
	return nil
}
