package microapp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/microapp/events"
	"github.com/GoCodeAlone/microapp/lock"
)

// Container owns a set of applications sharing one host, along with the
// locks that serialize their mounts and bound their loads.
type Container struct {
	name     string
	logger   Logger
	subject  events.Subject
	emitter  *events.Emitter
	timeouts StageTimeouts

	loadLimiter *lock.SingletonAtomic
	loads       *lock.LooseAtomic[string]
	targets     *lock.Atomic[string]

	setups   []AppSetup
	starter  Starter
	registry *Registry

	// activation serializes the directives activations issue, so a newer
	// activation always sees the start an older one asked for.
	activation sync.Mutex
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// Subject returns the subject signals are published on, or nil.
func (c *Container) Subject() events.Subject {
	return c.subject
}

// Registry returns the container's application registry.
func (c *Container) Registry() *Registry {
	return c.registry
}

// Register creates an application from cfg and adds it to the container.
func (c *Container) Register(cfg AppConfig) (*Application, error) {
	ctx := context.Background()
	if err := c.validate(cfg); err != nil {
		c.logger.Warn("Rejected application registration", "app", cfg.Name, "error", err)
		c.emitter.Emit(ctx, events.TypeAppRegisterError, map[string]any{
			"app":   cfg.Name,
			"error": err.Error(),
		}, nil)
		return nil, err
	}

	app := &Application{
		name:     cfg.Name,
		config:   cfg,
		hooks:    NewHooks(c.logger),
		logger:   c.logger,
		timeouts: c.timeouts,
		emitter: &events.Emitter{
			Subject: c.subject,
			Source:  "microapp.application/" + cfg.Name,
			Logger:  c.logger,
		},
		loadLimiter: c.loadLimiter,
		loads:       c.loads,
		targets:     c.targets,
		ops:         make(map[opKind]*operation),
		props:       cfg.Props.Merge(Props{"name": cfg.Name}),
	}
	for _, setup := range c.setups {
		setup(app)
	}

	if err := c.registry.Add(ctx, app); err != nil {
		c.logger.Warn("Rejected application registration", "app", cfg.Name, "error", err)
		c.emitter.Emit(ctx, events.TypeAppRegisterError, map[string]any{
			"app":   cfg.Name,
			"error": err.Error(),
		}, nil)
		return nil, err
	}
	c.logger.Debug("Registered application", "container", c.name, "app", cfg.Name, "activeRule", cfg.ActiveRule)
	return app, nil
}

func (c *Container) validate(cfg AppConfig) error {
	if cfg.Name == "" {
		return ErrAppNameEmpty
	}
	if cfg.Loader == nil {
		return fmt.Errorf("application %q: %w", cfg.Name, ErrLoaderNil)
	}
	return nil
}

// Unregister unloads the named application and removes it.
func (c *Container) Unregister(ctx context.Context, name string) error {
	app, err := c.App(name)
	if err != nil {
		return err
	}
	unloadErr := app.Unload(ctx)
	c.registry.Remove(ctx, name)
	return unloadErr
}

// App returns the named application. The not-found error names the closest
// registered application when there is a plausible one.
func (c *Container) App(name string) (*Application, error) {
	if app, ok := c.registry.Get(name); ok {
		return app, nil
	}
	if s := c.registry.Suggest(name); s != "" {
		return nil, fmt.Errorf("application %q (did you mean %q?): %w", name, s, ErrAppNotFound)
	}
	return nil, fmt.Errorf("application %q: %w", name, ErrAppNotFound)
}

// Apps returns the applications in registration order.
func (c *Container) Apps() []*Application {
	return c.registry.List()
}

// Match returns the first application, in registration order, active at
// url, or nil.
func (c *Container) Match(url string) *Application {
	for _, app := range c.registry.List() {
		if app.config.Active(url) {
			return app
		}
	}
	return nil
}

// Activate stops every other application and then starts name through the
// container's Starter. An empty name stops everything.
func (c *Container) Activate(ctx context.Context, name string) error {
	return c.activate(ctx, name, nil, nil)
}

// activate is Activate with a staleness guard. Once stale reports true no
// further signals are emitted and the match is not started.
func (c *Container) activate(ctx context.Context, name string, data map[string]any, stale func() bool) error {
	if stale == nil {
		stale = func() bool { return false }
	}
	var target *Application
	if name != "" {
		app, err := c.App(name)
		if err != nil {
			return err
		}
		target = app
	}

	others, err := c.direct(target, stale)
	if err != nil {
		return err
	}
	c.stopAll(ctx, others)
	if stale() {
		return ErrActivateStale
	}

	payload := map[string]any{"container": c.name}
	for k, v := range data {
		payload[k] = v
	}
	if target == nil {
		c.logger.Debug("No application activated", "container", c.name)
		c.emitter.Emit(ctx, events.TypeNoAppActivated, payload, nil)
		return nil
	}

	payload["app"] = name
	c.emitter.Emit(ctx, events.TypeAppActivating, payload, nil)
	err = c.starter(ctx, target)
	if stale() {
		return ErrActivateStale
	}
	if err != nil {
		payload["error"] = err.Error()
		c.emitter.Emit(ctx, events.TypeAppActivateError, payload, nil)
		return err
	}
	c.emitter.Emit(ctx, events.TypeAppActivated, payload, nil)
	return nil
}

// direct issues the directives of one activation: start for target and stop
// for every other application that is mounted or heading there. It returns
// the applications told to stop. A stale activation issues nothing.
func (c *Container) direct(target *Application, stale func() bool) ([]*Application, error) {
	c.activation.Lock()
	defer c.activation.Unlock()

	if stale() {
		return nil, ErrActivateStale
	}
	if target != nil {
		if err := target.direct(DirectiveStart); err != nil {
			return nil, err
		}
	}
	var others []*Application
	for _, app := range c.registry.List() {
		if app == target || !app.wantsMounted() {
			continue
		}
		if err := app.direct(DirectiveStop); err != nil {
			continue
		}
		others = append(others, app)
	}
	return others, nil
}

func (c *Container) stopAll(ctx context.Context, apps []*Application) {
	var wg sync.WaitGroup
	for _, app := range apps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := app.stop(ctx)
			if err != nil && ctx.Err() == nil && !IsInterruption(err) && !errors.Is(err, ErrUnloaded) {
				c.logger.Warn("Failed to stop application", "app", app.Name(), "error", err)
			}
		}()
	}
	wg.Wait()
}

// Close unloads every application.
func (c *Container) Close(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, app := range c.registry.List() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.Unload(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
