package microapp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/GoCodeAlone/microapp/router"
)

// RouterContainer is a Container that follows a Router: every navigation
// activates the application whose active rule matches the new location.
type RouterContainer struct {
	*Container

	router         *router.Router
	fallbackURL    string
	cancelActivate CancelActivateFunc

	seq    atomic.Uint64
	checks sync.WaitGroup
}

// Router returns the router the container follows.
func (rc *RouterContainer) Router() *router.Router {
	return rc.router
}

// Accept implements router.Consumer. The match and the fallback redirect are
// resolved synchronously, in navigation order; the vote and the activation
// run in the background.
func (rc *RouterContainer) Accept(ctx context.Context, d *router.Descriptor) {
	nav := *d.Navigation
	app := rc.Match(nav.NewURL)

	var redirect string
	if app == nil && rc.fallbackURL != "" && pathOf(nav.NewURL) != pathOf(rc.fallbackURL) {
		redirect = rc.fallbackURL
	}

	seq := rc.seq.Add(1)
	rc.checks.Add(1)
	go rc.check(ctx, d, nav, seq, app, redirect)
}

func (rc *RouterContainer) check(ctx context.Context, d *router.Descriptor, nav router.Navigation, seq uint64, app *Application, redirect string) {
	defer rc.checks.Done()
	defer d.Counter.Count()

	var name string
	if app != nil {
		name = app.Name()
	}

	vetoed := false
	if rc.cancelActivate != nil {
		v, err := rc.cancelActivate(ctx, name, nav)
		if err != nil {
			rc.logger.Warn("Activation veto check failed", "app", name, "url", nav.NewURL, "error", err)
		} else {
			vetoed = v
		}
	}
	if redirect != "" {
		d.Ballot.Vote(vetoed, redirect)
	} else {
		d.Ballot.Vote(vetoed)
	}

	verdict, err := d.Ballot.Wait(ctx)
	if err != nil || verdict.Vetoed {
		return
	}
	// A single redirect becomes a navigation of its own.
	if len(verdict.Values) == 1 {
		return
	}
	if rc.stale(seq) {
		return
	}

	err = rc.activate(ctx, name, map[string]any{"url": nav.NewURL}, func() bool { return rc.stale(seq) })
	switch {
	case err == nil, errors.Is(err, ErrActivateStale), IsInterruption(err), ctx.Err() != nil:
	default:
		rc.logger.Error("Failed to activate application", "app", name, "url", nav.NewURL, "error", err)
	}
}

func (rc *RouterContainer) stale(seq uint64) bool {
	return rc.seq.Load() != seq
}

// Close stops following the router, waits for outstanding activations and
// unloads every application.
func (rc *RouterContainer) Close(ctx context.Context) error {
	rc.router.UnregisterConsumer(rc)
	done := make(chan struct{})
	go func() {
		rc.checks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return rc.Container.Close(ctx)
}
