package microapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/GoCodeAlone/microapp/events"
	"github.com/GoCodeAlone/microapp/router"
)

// Static error variables for BDD tests
var (
	errContainerNotCreated = errors.New("router container was not created")
	errUnexpectedLocation  = errors.New("unexpected location")
	errUnexpectedMount     = errors.New("unexpected mount state")
	errUnexpectedSignal    = errors.New("unexpected activation signal")
	errStageNotEntered     = errors.New("stage was not entered in time")
)

// RouterContainerBDDContext holds the state of one scenario
type RouterContainerBDDContext struct {
	host      *router.MemoryHost
	router    *router.Router
	container *RouterContainer
	recorder  *eventRecorder
	fakes     map[string]*fakeApp
	apps      []*Application

	mu     sync.Mutex
	vetoed map[string]bool
}

func (b *RouterContainerBDDContext) reset() {
	b.host = nil
	b.router = nil
	b.container = nil
	b.recorder = &eventRecorder{}
	b.fakes = make(map[string]*fakeApp)
	b.apps = nil
	b.vetoed = make(map[string]bool)
}

func (b *RouterContainerBDDContext) close() {
	if b.container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.container.Close(ctx)
	}
	if b.router != nil {
		b.router.Close()
	}
}

func (b *RouterContainerBDDContext) cancelActivate(ctx context.Context, app string, nav router.Navigation) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vetoed[app], nil
}

func (b *RouterContainerBDDContext) aRouterContainerWithFallback(fallback string) error {
	b.host = router.NewMemoryHost("/")
	b.router = router.New(b.host)
	rc, err := NewRouterContainer(b.router,
		WithName("bdd"),
		WithObserver(b.recorder.observe),
		WithFallbackURL(fallback),
		WithCancelActivateApp(b.cancelActivate),
	)
	if err != nil {
		return err
	}
	b.container = rc
	return nil
}

func (b *RouterContainerBDDContext) applicationsRegisteredOnTheirOwnPaths(names ...string) error {
	if b.container == nil {
		return errContainerNotCreated
	}
	for _, name := range names {
		f := newFakeApp()
		app, err := b.container.Register(AppConfig{Name: name, ActiveRule: "/" + name, Loader: f.loader()})
		if err != nil {
			return err
		}
		b.fakes[name] = f
		b.apps = append(b.apps, app)
	}
	return nil
}

func (b *RouterContainerBDDContext) threeApplications(a, c, d string) error {
	return b.applicationsRegisteredOnTheirOwnPaths(a, c, d)
}

func (b *RouterContainerBDDContext) theRouterValidatesTheCurrentLocation() error {
	b.router.Reroute()
	return nil
}

func (b *RouterContainerBDDContext) theRouterHasSettledOn(location string) error {
	b.router.Reroute()
	return b.theLocationShouldBe(location)
}

func (b *RouterContainerBDDContext) unmountsSlowly(name string) error {
	b.fakes[name].unmountGate = make(chan struct{})
	return nil
}

func (b *RouterContainerBDDContext) iNavigateTo(location string) error {
	return b.router.NavigateToURL(location)
}

func (b *RouterContainerBDDContext) startsUnmounting(name string) error {
	f := b.fakes[name]
	timeout := time.After(2 * time.Second)
	for {
		select {
		case stage := <-f.entered:
			if stage == "unmount" {
				return nil
			}
		case <-timeout:
			return fmt.Errorf("%s unmount: %w", name, errStageNotEntered)
		}
	}
}

func (b *RouterContainerBDDContext) finishesUnmounting(name string) error {
	close(b.fakes[name].unmountGate)
	return nil
}

func (b *RouterContainerBDDContext) activationIsVetoed(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vetoed[name] = true
	return nil
}

func (b *RouterContainerBDDContext) theLocationShouldBe(location string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.router.Settle(ctx); err != nil {
		return err
	}
	if got := b.host.URL(); got != location {
		return fmt.Errorf("%w: got %q, want %q", errUnexpectedLocation, got, location)
	}
	return nil
}

func (b *RouterContainerBDDContext) onlyShouldBeMounted(name string) error {
	for _, app := range b.apps {
		mounted := app.State() == StateMounted
		if mounted != (app.Name() == name) {
			return fmt.Errorf("%w: %s is %s", errUnexpectedMount, app.Name(), app.State())
		}
	}
	return nil
}

func (b *RouterContainerBDDContext) shouldNeverHaveBeenMounted(name string) error {
	if n := b.fakes[name].mounts.Load(); n != 0 {
		return fmt.Errorf("%w: %s mounted %d times", errUnexpectedMount, name, n)
	}
	return nil
}

func (b *RouterContainerBDDContext) noActivationSignalShouldMention(name string) error {
	signals := []string{events.TypeAppActivating, events.TypeAppActivated, events.TypeAppActivateError}
	for _, eventType := range signals {
		for _, data := range b.recorder.data(eventType) {
			if data["app"] == name {
				return fmt.Errorf("%w: %s for %s", errUnexpectedSignal, eventType, name)
			}
		}
	}
	return nil
}

// InitializeRouterContainerScenario wires the step definitions
func InitializeRouterContainerScenario(ctx *godog.ScenarioContext) {
	b := &RouterContainerBDDContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		b.reset()
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		b.close()
		return ctx, nil
	})

	// Setup steps
	ctx.Step(`^a router container with fallback "([^"]*)"$`, b.aRouterContainerWithFallback)
	ctx.Step(`^applications "([^"]*)", "([^"]*)" and "([^"]*)" registered on their own paths$`, b.threeApplications)
	ctx.Step(`^the router has settled on "([^"]*)"$`, b.theRouterHasSettledOn)
	ctx.Step(`^"([^"]*)" unmounts slowly$`, b.unmountsSlowly)
	ctx.Step(`^activation of "([^"]*)" is vetoed$`, b.activationIsVetoed)

	// Navigation steps
	ctx.Step(`^the router validates the current location$`, b.theRouterValidatesTheCurrentLocation)
	ctx.Step(`^I navigate to "([^"]*)"$`, b.iNavigateTo)
	ctx.Step(`^"([^"]*)" starts unmounting$`, b.startsUnmounting)
	ctx.Step(`^"([^"]*)" finishes unmounting$`, b.finishesUnmounting)

	// Assertions
	ctx.Step(`^the location should be "([^"]*)"$`, b.theLocationShouldBe)
	ctx.Step(`^only "([^"]*)" should be mounted$`, b.onlyShouldBeMounted)
	ctx.Step(`^"([^"]*)" should never have been mounted$`, b.shouldNeverHaveBeenMounted)
	ctx.Step(`^no activation signal should mention "([^"]*)"$`, b.noActivationSignalShouldMention)
}

// TestRouterContainerFeatures runs the BDD tests for route-driven activation
func TestRouterContainerFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeRouterContainerScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/router_container.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
