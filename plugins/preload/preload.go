// Package preload fetches application sources ahead of activation.
//
// A Preloader sits between an application and its real loader. Warm fetches
// a source into a TTL cache; the wrapped loader serves cached sources and
// falls through to the real loader on a miss. Warming can run on a cron
// schedule so that sources stay fresh while their applications are idle.
package preload

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/microapp"
	"github.com/GoCodeAlone/microapp/internal/logging"
)

// Preload errors
var (
	ErrUnknownApp       = errors.New("application was never wrapped for preloading")
	ErrAlreadyScheduled = errors.New("preload schedule already running")
)

// Config controls what is preloaded and how long a preloaded source stays valid.
type Config struct {
	// Schedule is a standard five-field cron spec or a descriptor such as
	// "@every 5m". Empty disables scheduled warming.
	Schedule string        `yaml:"schedule" toml:"schedule" json:"schedule" env:"SCHEDULE"`
	TTL      time.Duration `yaml:"ttl" toml:"ttl" json:"ttl" env:"TTL"`
	// Apps limits scheduled warming to these applications. Empty warms all.
	Apps []string `yaml:"apps" toml:"apps" json:"apps" env:"APPS"`
}

// DefaultTTL bounds how long a preloaded source is served.
const DefaultTTL = 10 * time.Minute

// Preloader caches application sources.
type Preloader struct {
	cfg    Config
	logger logging.Logger
	cache  *ttlcache.Cache[string, *microapp.Source]

	mu      sync.Mutex
	loaders map[string]microapp.Loader
	order   []string
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// Option configures a Preloader.
type Option func(*Preloader)

// WithLogger sets the preloader logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Preloader) { p.logger = logging.OrDiscard(logger) }
}

// New creates a Preloader. A zero TTL uses DefaultTTL.
func New(cfg Config, opts ...Option) *Preloader {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	p := &Preloader{
		cfg:    cfg,
		logger: logging.Discard(),
		cache: ttlcache.New[string, *microapp.Source](
			ttlcache.WithTTL[string, *microapp.Source](cfg.TTL),
			ttlcache.WithDisableTouchOnHit[string, *microapp.Source](),
		),
		loaders: make(map[string]microapp.Loader),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wrap returns a loader for app that serves preloaded sources and otherwise
// delegates to next. Sources fetched on a miss are cached too.
func (p *Preloader) Wrap(app string, next microapp.Loader) microapp.Loader {
	p.mu.Lock()
	if _, ok := p.loaders[app]; !ok {
		p.order = append(p.order, app)
	}
	p.loaders[app] = next
	p.mu.Unlock()

	return microapp.LoaderFunc(func(ctx context.Context, name string) (*microapp.Source, error) {
		if item := p.cache.Get(name); item != nil {
			p.logger.Debug("Serving preloaded source", "app", name, "expiresAt", item.ExpiresAt())
			return item.Value(), nil
		}
		return p.fetch(ctx, name, next)
	})
}

// Cached reports whether a fresh source for app is cached.
func (p *Preloader) Cached(app string) bool {
	return p.cache.Has(app)
}

// Invalidate drops the cached source for app.
func (p *Preloader) Invalidate(app string) {
	p.cache.Delete(app)
}

// Warm fetches app's source into the cache, replacing any cached copy.
func (p *Preloader) Warm(ctx context.Context, app string) error {
	p.mu.Lock()
	next, ok := p.loaders[app]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%q: %w", app, ErrUnknownApp)
	}
	_, err := p.fetch(ctx, app, next)
	return err
}

// WarmAll warms the configured applications, or every wrapped application
// when none are configured. Failures are logged and joined.
func (p *Preloader) WarmAll(ctx context.Context) error {
	p.mu.Lock()
	apps := slices.Clone(p.order)
	p.mu.Unlock()
	if len(p.cfg.Apps) > 0 {
		apps = slices.DeleteFunc(apps, func(app string) bool {
			return !slices.Contains(p.cfg.Apps, app)
		})
	}

	var errs []error
	for _, app := range apps {
		if err := p.Warm(ctx, app); err != nil {
			p.logger.Warn("Failed to preload application", "app", app, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Preloader) fetch(ctx context.Context, app string, next microapp.Loader) (*microapp.Source, error) {
	src, err := next.Load(ctx, app)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, nil
	}
	p.cache.Set(app, src, ttlcache.DefaultTTL)
	return src, nil
}

// Start begins expiring cached sources and, when a schedule is configured,
// warming on that schedule until ctx ends or Stop is called.
func (p *Preloader) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyScheduled
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.cache.Start()

	if p.cfg.Schedule != "" {
		p.cron = cron.New()
		if _, err := p.cron.AddFunc(p.cfg.Schedule, func() {
			_ = p.WarmAll(ctx)
		}); err != nil {
			cancel()
			p.cancel = nil
			p.cache.Stop()
			return fmt.Errorf("preload schedule %q: %w", p.cfg.Schedule, err)
		}
		p.cron.Start()
		p.logger.Info("Started preload schedule", "schedule", p.cfg.Schedule, "ttl", p.cfg.TTL)
	}

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop halts scheduled warming and waits for a running warm to finish.
func (p *Preloader) Stop() {
	p.mu.Lock()
	cancel, c := p.cancel, p.cron
	p.cancel, p.cron = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if c != nil {
		<-c.Stop().Done()
	}
	p.cache.Stop()
}
