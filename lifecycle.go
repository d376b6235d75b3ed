package microapp

import (
	"context"
	"maps"
	"time"
)

// Props are the properties handed to lifecycle functions.
type Props map[string]any

// Clone returns a shallow copy of p.
func (p Props) Clone() Props {
	out := make(Props, len(p))
	maps.Copy(out, p)
	return out
}

// Merge returns a copy of p overlaid with every entry of other.
func (p Props) Merge(other Props) Props {
	out := p.Clone()
	maps.Copy(out, other)
	return out
}

// LifecycleFunc is one step of a lifecycle stage. It should honour ctx,
// which is cancelled when the stage times out or the caller gives up.
type LifecycleFunc func(ctx context.Context, props Props) error

// Lifecycle is the collaborator code produced by loading an application.
// Mount and Unmount are mandatory. Each stage runs its functions in order.
type Lifecycle struct {
	Bootstrap []LifecycleFunc
	Mount     []LifecycleFunc
	Unmount   []LifecycleFunc
	Update    []LifecycleFunc
	Unload    []LifecycleFunc
}

func (l *Lifecycle) validate() error {
	if l == nil || len(l.Mount) == 0 || len(l.Unmount) == 0 {
		return ErrInvalidLifecycle
	}
	return nil
}

// Resources describe what a loaded application pulled in besides its
// lifecycle.
type Resources struct {
	Scripts []string          `json:"scripts,omitempty" yaml:"scripts,omitempty"`
	Styles  []string          `json:"styles,omitempty" yaml:"styles,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Source is what a Loader returns for an application.
type Source struct {
	Lifecycle Lifecycle
	Resources Resources
}

// Loader fetches an application's source. It is invoked at most once per
// successful load.
type Loader interface {
	Load(ctx context.Context, app string) (*Source, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, app string) (*Source, error)

func (f LoaderFunc) Load(ctx context.Context, app string) (*Source, error) {
	return f(ctx, app)
}

// StageTimeouts bounds each lifecycle stage. Zero disables the bound.
type StageTimeouts struct {
	Load      time.Duration `yaml:"load" toml:"load" json:"load" env:"LOAD"`
	Bootstrap time.Duration `yaml:"bootstrap" toml:"bootstrap" json:"bootstrap" env:"BOOTSTRAP"`
	Mount     time.Duration `yaml:"mount" toml:"mount" json:"mount" env:"MOUNT"`
	Unmount   time.Duration `yaml:"unmount" toml:"unmount" json:"unmount" env:"UNMOUNT"`
	Update    time.Duration `yaml:"update" toml:"update" json:"update" env:"UPDATE"`
	Unload    time.Duration `yaml:"unload" toml:"unload" json:"unload" env:"UNLOAD"`
}

// For returns the bound for stage.
func (t StageTimeouts) For(stage Stage) time.Duration {
	switch stage {
	case StageLoad:
		return t.Load
	case StageBootstrap:
		return t.Bootstrap
	case StageMount:
		return t.Mount
	case StageUnmount:
		return t.Unmount
	case StageUpdate:
		return t.Update
	case StageUnload:
		return t.Unload
	}
	return 0
}
