package microapp

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/microapp/events"
	"github.com/GoCodeAlone/microapp/internal/logging"
	"github.com/GoCodeAlone/microapp/lock"
	"github.com/GoCodeAlone/microapp/router"
)

// DefaultLoadConcurrency bounds how many applications of one container fetch
// their source at the same time unless WithLoadConcurrency says otherwise.
const DefaultLoadConcurrency = 6

// Option represents a functional option for configuring containers
type Option func(*Builder) error

// ObserverFunc is a functional observer registered on the container's subject
type ObserverFunc = events.Handler

// AppSetup runs against every application when it is registered. Plugins
// use it to install hooks.
type AppSetup func(app *Application)

// Starter carries out the start of an activated application. The start
// directive has already been issued, so a Starter should call
// Application.Resume rather than Start, which would override a newer stop.
type Starter func(ctx context.Context, app *Application) error

func resume(ctx context.Context, app *Application) error {
	return app.Resume(ctx)
}

// CancelActivateFunc lets a RouterContainer veto a navigation before the
// matching application is activated. app is empty when nothing matched.
type CancelActivateFunc func(ctx context.Context, app string, nav router.Navigation) (bool, error)

// Builder collects container settings.
type Builder struct {
	name            string
	logger          Logger
	subject         events.Subject
	observers       []ObserverFunc
	timeouts        StageTimeouts
	loadConcurrency int
	targets         *lock.Atomic[string]
	setups          []AppSetup
	starter         Starter
	fallbackURL     string
	cancelActivate  CancelActivateFunc
	err             error
}

// NewBuilder creates a builder with default settings.
func NewBuilder() *Builder {
	return &Builder{
		name:            "default",
		loadConcurrency: DefaultLoadConcurrency,
		starter:         resume,
	}
}

// WithOption applies an option. The first failing option's error is reported
// by Build.
func (b *Builder) WithOption(opt Option) *Builder {
	if b.err != nil {
		return b
	}
	if err := opt(b); err != nil {
		b.err = err
	}
	return b
}

// Build constructs a Container.
func (b *Builder) Build() (*Container, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.container()
}

// BuildRouterContainer constructs a RouterContainer and registers it as a
// consumer of r.
func (b *Builder) BuildRouterContainer(r *router.Router) (*RouterContainer, error) {
	if b.err != nil {
		return nil, b.err
	}
	if r == nil {
		return nil, ErrRouterNil
	}
	c, err := b.container()
	if err != nil {
		return nil, err
	}
	rc := &RouterContainer{
		Container:      c,
		router:         r,
		fallbackURL:    b.fallbackURL,
		cancelActivate: b.cancelActivate,
	}
	r.RegisterConsumer(rc)
	return rc, nil
}

func (b *Builder) container() (*Container, error) {
	logger := logging.OrDiscard(b.logger)

	subject := b.subject
	if subject == nil && len(b.observers) > 0 {
		subject = events.NewBus(logger)
	}
	for i, fn := range b.observers {
		id := fmt.Sprintf("%s-observer-%d", b.name, i)
		if err := subject.RegisterObserver(events.NewObserver(id, fn)); err != nil {
			return nil, fmt.Errorf("failed to register observer %s: %w", id, err)
		}
	}

	targets := b.targets
	if targets == nil {
		targets = lock.NewAtomic[string](1)
	}

	emitter := &events.Emitter{Subject: subject, Source: "microapp.container/" + b.name, Logger: logger}
	return &Container{
		name:        b.name,
		logger:      logger,
		subject:     subject,
		emitter:     emitter,
		timeouts:    b.timeouts,
		loadLimiter: lock.NewSingletonAtomic(b.loadConcurrency),
		loads:       lock.NewLooseAtomic[string](),
		targets:     targets,
		setups:      b.setups,
		starter:     b.starter,
		registry:    newRegistry(emitter),
	}, nil
}

// NewContainer creates a Container with the provided options.
func NewContainer(opts ...Option) (*Container, error) {
	b := NewBuilder()
	for _, opt := range opts {
		b.WithOption(opt)
	}
	return b.Build()
}

// NewRouterContainer creates a RouterContainer driven by r.
func NewRouterContainer(r *router.Router, opts ...Option) (*RouterContainer, error) {
	b := NewBuilder()
	for _, opt := range opts {
		b.WithOption(opt)
	}
	return b.BuildRouterContainer(r)
}

// WithName sets the container name used in event sources and logs
func WithName(name string) Option {
	return func(b *Builder) error {
		if name == "" {
			return fmt.Errorf("container name: %w", ErrAppNameEmpty)
		}
		b.name = name
		return nil
	}
}

// WithLogger sets the logger for the container and its applications
func WithLogger(logger Logger) Option {
	return func(b *Builder) error {
		b.logger = logger
		return nil
	}
}

// WithSubject publishes every signal on subject
func WithSubject(subject events.Subject) Option {
	return func(b *Builder) error {
		b.subject = subject
		return nil
	}
}

// WithObserver adds observer functions, creating an event bus when no
// subject was configured
func WithObserver(observers ...ObserverFunc) Option {
	return func(b *Builder) error {
		b.observers = append(b.observers, observers...)
		return nil
	}
}

// WithStageTimeouts bounds each lifecycle stage
func WithStageTimeouts(timeouts StageTimeouts) Option {
	return func(b *Builder) error {
		b.timeouts = timeouts
		return nil
	}
}

// WithLoadConcurrency bounds concurrent source fetches
func WithLoadConcurrency(n int) Option {
	return func(b *Builder) error {
		if n < 1 {
			return fmt.Errorf("load concurrency %d: %w", n, ErrInvalidOption)
		}
		b.loadConcurrency = n
		return nil
	}
}

// WithTargetLocks shares mount target locks between containers that render
// into the same host
func WithTargetLocks(targets *lock.Atomic[string]) Option {
	return func(b *Builder) error {
		b.targets = targets
		return nil
	}
}

// WithAppSetup runs setup against every registered application
func WithAppSetup(setups ...AppSetup) Option {
	return func(b *Builder) error {
		b.setups = append(b.setups, setups...)
		return nil
	}
}

// WithStarter replaces how activations start the matched application, for
// instance with a retrying starter
func WithStarter(starter Starter) Option {
	return func(b *Builder) error {
		if starter == nil {
			return fmt.Errorf("starter is nil: %w", ErrInvalidOption)
		}
		b.starter = starter
		return nil
	}
}

// WithFallbackURL redirects navigations that match no application
func WithFallbackURL(url string) Option {
	return func(b *Builder) error {
		b.fallbackURL = url
		return nil
	}
}

// WithCancelActivateApp installs a veto consulted before every activation
func WithCancelActivateApp(fn CancelActivateFunc) Option {
	return func(b *Builder) error {
		b.cancelActivate = fn
		return nil
	}
}
