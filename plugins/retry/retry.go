// Package retry makes failed application loads retryable and drives the
// retries with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/GoCodeAlone/microapp"
	"github.com/GoCodeAlone/microapp/internal/logging"
)

// Config bounds the retries of a single Start or Load call.
type Config struct {
	// MaxAttempts counts every attempt, the first one included.
	MaxAttempts int           `yaml:"maxAttempts" toml:"max_attempts" json:"maxAttempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"baseDelay" toml:"base_delay" json:"baseDelay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"maxDelay" toml:"max_delay" json:"maxDelay" env:"MAX_DELAY"`
}

// DefaultConfig allows three attempts, waiting 200ms then 400ms, never more
// than 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

// Backoff returns base * 2^(attempt-1), capped at limit. Attempt 0 waits
// nothing.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// Retrier installs a load error policy on applications and retries their
// loads while that policy keeps them retryable.
type Retrier struct {
	cfg    Config
	logger logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithLogger sets the logger retries are reported to.
func WithLogger(logger logging.Logger) Option {
	return func(r *Retrier) { r.logger = logging.OrDiscard(logger) }
}

// WithSleep replaces the function used to wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) { r.sleep = sleep }
}

// New creates a Retrier. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Retrier {
	r := &Retrier{
		cfg:    cfg.withDefaults(),
		logger: logging.Discard(),
		sleep:  sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Retrier) Config() Config {
	return r.cfg
}

// Policy keeps a failed load retryable while attempts remain.
func (r *Retrier) Policy(ctx context.Context, app *microapp.Application, err error, retryCount int) bool {
	return retryCount+1 < r.cfg.MaxAttempts
}

// Setup installs Policy on app. It is meant for microapp.WithAppSetup.
func (r *Retrier) Setup(app *microapp.Application) {
	app.Hooks().OnLoadError(r.Policy)
}

// Start starts app, retrying failed loads.
func (r *Retrier) Start(ctx context.Context, app *microapp.Application) error {
	return r.do(ctx, app, app.Start)
}

// Resume carries out a start already requested of app, retrying failed
// loads. It is meant for microapp.WithStarter.
func (r *Retrier) Resume(ctx context.Context, app *microapp.Application) error {
	return r.do(ctx, app, app.Resume)
}

// Load loads app, retrying failures.
func (r *Retrier) Load(ctx context.Context, app *microapp.Application) error {
	return r.do(ctx, app, app.Load)
}

func (r *Retrier) do(ctx context.Context, app *microapp.Application, fn func(context.Context, ...microapp.StartOption) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx, microapp.WithRetryCount(attempt))
		if err == nil || microapp.IsInterruption(err) || app.State() != microapp.StateLoadError {
			return err
		}
		delay := Backoff(r.cfg.BaseDelay, r.cfg.MaxDelay, attempt+1)
		r.logger.Warn("Retrying application load", "app", app.Name(), "attempt", attempt+1, "delay", delay, "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
