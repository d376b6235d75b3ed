// Package config loads microapp settings from YAML or TOML files and the
// environment, validates them, and watches the file for changes.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/microapp"
	"github.com/GoCodeAlone/microapp/plugins/preload"
	"github.com/GoCodeAlone/microapp/plugins/retry"
	"github.com/GoCodeAlone/microapp/router"
)

// Config describes one router container and the applications it hosts.
type Config struct {
	Name            string `yaml:"name" toml:"name" json:"name" env:"NAME"`
	InitialURL      string `yaml:"initialUrl" toml:"initial_url" json:"initialUrl" env:"INITIAL_URL"`
	FallbackURL     string `yaml:"fallbackUrl" toml:"fallback_url" json:"fallbackUrl" env:"FALLBACK_URL"`
	LoadConcurrency int    `yaml:"loadConcurrency" toml:"load_concurrency" json:"loadConcurrency" env:"LOAD_CONCURRENCY"`

	Timeouts microapp.StageTimeouts `yaml:"timeouts" toml:"timeouts" json:"timeouts" env:"TIMEOUT"`
	DeadLoop router.DeadLoopConfig  `yaml:"deadLoop" toml:"dead_loop" json:"deadLoop" env:"DEAD_LOOP"`
	Retry    retry.Config           `yaml:"retry" toml:"retry" json:"retry" env:"RETRY"`
	Preload  preload.Config         `yaml:"preload" toml:"preload" json:"preload" env:"PRELOAD"`
	Log      LogConfig              `yaml:"log" toml:"log" json:"log" env:"LOG"`
	Inspect  InspectConfig          `yaml:"inspect" toml:"inspect" json:"inspect" env:"INSPECT"`

	Apps []App `yaml:"apps" toml:"apps" json:"apps"`
}

// LogConfig selects the log level and an optional log file.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level" env:"LEVEL"`
	File   string `yaml:"file" toml:"file" json:"file" env:"FILE"`
	Prefix string `yaml:"prefix" toml:"prefix" json:"prefix" env:"PREFIX"`
}

// SlogLevel parses Level. An empty level is info.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("%w %q", ErrInvalidLogLevel, c.Level)
	}
	return level, nil
}

// InspectConfig enables the debugging HTTP endpoint.
type InspectConfig struct {
	Addr string `yaml:"addr" toml:"addr" json:"addr" env:"ADDR"`
}

// App declares one application.
type App struct {
	Name       string         `yaml:"name" toml:"name" json:"name"`
	ActiveRule string         `yaml:"activeRule" toml:"active_rule" json:"activeRule"`
	Target     string         `yaml:"target" toml:"target" json:"target"`
	Props      map[string]any `yaml:"props" toml:"props" json:"props"`

	Scripts []string          `yaml:"scripts" toml:"scripts" json:"scripts"`
	Styles  []string          `yaml:"styles" toml:"styles" json:"styles"`
	Env     map[string]string `yaml:"env" toml:"env" json:"env"`
}

// Resources returns the resources the application declares.
func (a App) Resources() microapp.Resources {
	return microapp.Resources{Scripts: a.Scripts, Styles: a.Styles, Env: a.Env}
}

// AppConfig converts a to a microapp.AppConfig using loader.
func (a App) AppConfig(loader microapp.Loader) microapp.AppConfig {
	return microapp.AppConfig{
		Name:       a.Name,
		ActiveRule: a.ActiveRule,
		Target:     a.Target,
		Props:      microapp.Props(a.Props),
		Loader:     loader,
	}
}

// Default returns a configuration with every default applied and no apps.
func Default() *Config {
	return &Config{
		Name:            "default",
		InitialURL:      "/",
		LoadConcurrency: microapp.DefaultLoadConcurrency,
		DeadLoop:        router.DefaultDeadLoopConfig(),
		Retry:           retry.DefaultConfig(),
		Preload:         preload.Config{TTL: preload.DefaultTTL},
		Log:             LogConfig{Level: "info"},
	}
}

// App returns the named application definition.
func (c *Config) App(name string) (App, bool) {
	for _, a := range c.Apps {
		if a.Name == name {
			return a, true
		}
	}
	return App{}, false
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return wrapFieldError("name", ErrNameEmpty)
	}
	if c.LoadConcurrency < 1 {
		return wrapFieldError("loadConcurrency", fmt.Errorf("%w, got %d", ErrLoadConcurrency, c.LoadConcurrency))
	}
	if c.FallbackURL != "" && !strings.HasPrefix(c.FallbackURL, "/") {
		return wrapFieldError("fallbackUrl", fmt.Errorf("%w, got %q", ErrInvalidFallbackURL, c.FallbackURL))
	}
	if err := c.validateDurations(); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 0 {
		return wrapFieldError("retry.maxAttempts", fmt.Errorf("%w: negative attempts", ErrInvalidRetry))
	}
	if c.Preload.Schedule != "" {
		if _, err := cron.ParseStandard(c.Preload.Schedule); err != nil {
			return wrapFieldError("preload.schedule", fmt.Errorf("%w %q: %w", ErrInvalidSchedule, c.Preload.Schedule, err))
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return wrapFieldError("log.level", err)
	}
	return c.validateApps()
}

func (c *Config) validateDurations() error {
	durations := []struct {
		field string
		d     time.Duration
	}{
		{"timeouts.load", c.Timeouts.Load},
		{"timeouts.bootstrap", c.Timeouts.Bootstrap},
		{"timeouts.mount", c.Timeouts.Mount},
		{"timeouts.unmount", c.Timeouts.Unmount},
		{"timeouts.update", c.Timeouts.Update},
		{"timeouts.unload", c.Timeouts.Unload},
		{"deadLoop.window", c.DeadLoop.Window},
		{"retry.baseDelay", c.Retry.BaseDelay},
		{"retry.maxDelay", c.Retry.MaxDelay},
		{"preload.ttl", c.Preload.TTL},
	}
	for _, f := range durations {
		if f.d < 0 {
			return wrapFieldError(f.field, fmt.Errorf("%w, got %s", ErrNegativeDuration, f.d))
		}
	}
	return nil
}

func (c *Config) validateApps() error {
	seen := make(map[string]bool, len(c.Apps))
	for i, a := range c.Apps {
		field := fmt.Sprintf("apps[%d]", i)
		if strings.TrimSpace(a.Name) == "" {
			return wrapFieldError(field, ErrAppNameEmpty)
		}
		if seen[a.Name] {
			return wrapFieldError(field, fmt.Errorf("%w: %q", ErrDuplicateApp, a.Name))
		}
		seen[a.Name] = true
		if a.ActiveRule != "" && !strings.HasPrefix(a.ActiveRule, "/") {
			return wrapFieldError(field, fmt.Errorf("%w, got %q", ErrInvalidActiveRule, a.ActiveRule))
		}
	}
	return nil
}
