package cmd

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"github.com/GoCodeAlone/microapp"
	"github.com/GoCodeAlone/microapp/config"
	"github.com/GoCodeAlone/microapp/events"
	"github.com/GoCodeAlone/microapp/inspect"
	"github.com/GoCodeAlone/microapp/plugins/preload"
	"github.com/GoCodeAlone/microapp/plugins/retry"
	"github.com/GoCodeAlone/microapp/router"
)

// runtime is one configured router container with its plugins.
type runtime struct {
	logger    microapp.Logger
	bus       *events.Bus
	journal   *inspect.Journal
	host      *router.MemoryHost
	router    *router.Router
	container *microapp.RouterContainer
	preloader *preload.Preloader
	retrier   *retry.Retrier
	inspect   *inspect.Handler

	mu  sync.Mutex
	cfg *config.Config
	wg  sync.WaitGroup
}

func newRuntime(cfg *config.Config, logger microapp.Logger) (*runtime, error) {
	rt := &runtime{
		logger:  logger,
		bus:     events.NewBus(logger),
		journal: inspect.NewJournal(0),
		host:    router.NewMemoryHost(cfg.InitialURL),
		cfg:     cfg,
	}
	if err := rt.bus.RegisterObserver(rt.journal); err != nil {
		return nil, err
	}
	rt.router = router.New(rt.host,
		router.WithLogger(logger),
		router.WithSubject(rt.bus),
		router.WithDeadLoopConfig(cfg.DeadLoop),
	)
	rt.preloader = preload.New(cfg.Preload, preload.WithLogger(logger))
	rt.retrier = retry.New(cfg.Retry, retry.WithLogger(logger))

	container, err := microapp.NewRouterContainer(rt.router,
		microapp.WithName(cfg.Name),
		microapp.WithLogger(logger),
		microapp.WithSubject(rt.bus),
		microapp.WithFallbackURL(cfg.FallbackURL),
		microapp.WithStageTimeouts(cfg.Timeouts),
		microapp.WithLoadConcurrency(cfg.LoadConcurrency),
		microapp.WithAppSetup(rt.retrier.Setup),
		microapp.WithStarter(rt.retrier.Resume),
	)
	if err != nil {
		rt.router.Close()
		return nil, err
	}
	rt.container = container

	for _, a := range cfg.Apps {
		if err := rt.register(a); err != nil {
			_ = rt.close(context.Background())
			return nil, err
		}
	}

	rt.inspect = inspect.New(inspect.WithLogger(logger), inspect.WithJournal(rt.journal))
	rt.inspect.Add(container)
	return rt, nil
}

func (rt *runtime) register(a config.App) error {
	loader := rt.preloader.Wrap(a.Name, configLoader(a, rt.logger))
	_, err := rt.container.Register(a.AppConfig(loader))
	return err
}

func (rt *runtime) unregister(ctx context.Context, name string) error {
	rt.preloader.Invalidate(name)
	return rt.container.Unregister(ctx, name)
}

// start begins scheduled preloading, loads the preloaded applications in
// the background and activates the application for the initial location.
func (rt *runtime) start(ctx context.Context) error {
	if err := rt.preloader.Start(ctx); err != nil {
		return err
	}
	apps := rt.preloadApps()
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		for _, app := range apps {
			if err := rt.retrier.Load(ctx, app); err != nil {
				rt.logger.Warn("Failed to preload application", "app", app.Name(), "error", err)
			}
		}
	}()
	rt.router.Reroute()
	return nil
}

// preloadApps returns the applications listed for preloading. Nothing is
// loaded ahead of time unless the preload section is configured.
func (rt *runtime) preloadApps() []*microapp.Application {
	rt.mu.Lock()
	names, schedule := rt.cfg.Preload.Apps, rt.cfg.Preload.Schedule
	rt.mu.Unlock()

	apps := rt.container.Apps()
	switch {
	case len(names) > 0:
		return slices.DeleteFunc(apps, func(a *microapp.Application) bool {
			return !slices.Contains(names, a.Name())
		})
	case schedule != "":
		return apps
	}
	return nil
}

// apply brings the registered applications in line with next. Settings
// other than the application list only take effect after a restart.
func (rt *runtime) apply(ctx context.Context, next *config.Config) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !sameSettings(rt.cfg, next) {
		rt.logger.Warn("Configuration changes outside the application list need a restart")
	}
	changes := config.DiffApps(rt.cfg, next)
	if changes.Empty() {
		return
	}

	for _, name := range changes.Removed {
		if err := rt.unregister(ctx, name); err != nil {
			rt.logger.Warn("Failed to unload removed application", "app", name, "error", err)
		}
	}
	for _, a := range changes.Changed {
		if err := rt.unregister(ctx, a.Name); err != nil {
			rt.logger.Warn("Failed to unload changed application", "app", a.Name, "error", err)
		}
		if err := rt.register(a); err != nil {
			rt.logger.Error("Failed to register changed application", "app", a.Name, "error", err)
		}
	}
	for _, a := range changes.Added {
		if err := rt.register(a); err != nil {
			rt.logger.Error("Failed to register added application", "app", a.Name, "error", err)
		}
	}

	updated := *rt.cfg
	updated.Apps = next.Apps
	rt.cfg = &updated
	rt.logger.Info("Applied application changes", "added", len(changes.Added), "changed", len(changes.Changed), "removed", len(changes.Removed))
	rt.router.Reroute()
}

func sameSettings(a, b *config.Config) bool {
	x, y := *a, *b
	x.Apps, y.Apps = nil, nil
	return reflect.DeepEqual(x, y)
}

func (rt *runtime) close(ctx context.Context) error {
	rt.preloader.Stop()
	rt.wg.Wait()
	err := rt.container.Close(ctx)
	rt.router.Close()
	return err
}
