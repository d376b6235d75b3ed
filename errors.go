package microapp

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Application errors
var (
	// Lifecycle errors
	ErrInterrupted        = errors.New("transition interrupted by a newer directive")
	ErrStageTimeout       = errors.New("lifecycle stage timed out")
	ErrUnloaded           = errors.New("application has been unloaded")
	ErrAppBroken          = errors.New("application is broken and skipped")
	ErrNotMounted         = errors.New("application is not mounted")
	ErrUpdateNotSupported = errors.New("application lifecycle has no update function")
	ErrInvalidLifecycle   = errors.New("lifecycle must provide mount and unmount")
	ErrInvalidState       = errors.New("operation not allowed in current state")
	ErrLoaderNil          = errors.New("application loader is nil")
	ErrSourceNil          = errors.New("loader returned no source")

	// Container errors
	ErrAppNameEmpty  = errors.New("application name is empty")
	ErrDuplicateApp  = errors.New("application already registered")
	ErrAppNotFound   = errors.New("application not found")
	ErrRouterNil     = errors.New("router is nil")
	ErrActivateStale = errors.New("activation superseded by a newer navigation")
	ErrInvalidOption = errors.New("invalid option")
)

// InterruptedError reports a transition abandoned because a newer directive
// superseded it. It is an expected outcome, not a failure.
type InterruptedError struct {
	App       string
	Operation string
	Directive Directive
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("application %q: %s interrupted by directive %s", e.App, e.Operation, e.Directive)
}

// Is matches ErrInterrupted.
func (e *InterruptedError) Is(target error) bool {
	return target == ErrInterrupted
}

// StageTimeoutError reports a lifecycle stage that exceeded its budget.
type StageTimeoutError struct {
	App     string
	Stage   Stage
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("application %q: %s timed out after %s", e.App, e.Stage, e.Timeout)
}

// Is matches ErrStageTimeout.
func (e *StageTimeoutError) Is(target error) bool {
	return target == ErrStageTimeout
}

// StageFailureError wraps an error returned by collaborator code during a
// lifecycle stage. For update failures Props holds the offending props.
type StageFailureError struct {
	App   string
	Stage Stage
	Props Props
	Err   error
}

func (e *StageFailureError) Error() string {
	return fmt.Sprintf("application %q: %s failed: %v", e.App, e.Stage, e.Err)
}

func (e *StageFailureError) Unwrap() error {
	return e.Err
}

// IsInterruption reports whether err means a newer directive superseded the
// work. Errors returned by collaborator code never count, even when they wrap
// a context error of their own.
func IsInterruption(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// abandoned reports whether a stage that ended with err was given up rather
// than failed: op was interrupted by a newer directive or the caller's ctx
// ended. The value of err only matters when it is our own InterruptedError.
func abandoned(ctx context.Context, op *operation, err error) bool {
	if err == nil {
		return false
	}
	var interrupted *InterruptedError
	if errors.As(err, &interrupted) {
		return true
	}
	if ctx.Err() != nil {
		return true
	}
	return op != nil && op.token.Err() != nil
}
