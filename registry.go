package microapp

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/GoCodeAlone/microapp/events"
)

// Registry is the ordered set of applications of one container. Every
// change emits an appregisteredchange signal.
type Registry struct {
	mu      sync.RWMutex
	apps    []*Application
	emitter *events.Emitter
}

func newRegistry(emitter *events.Emitter) *Registry {
	return &Registry{emitter: emitter}
}

// Add appends app. Names are unique.
func (r *Registry) Add(ctx context.Context, app *Application) error {
	r.mu.Lock()
	if r.indexLocked(app.Name()) >= 0 {
		r.mu.Unlock()
		return fmt.Errorf("application %q: %w", app.Name(), ErrDuplicateApp)
	}
	r.apps = append(r.apps, app)
	names := r.namesLocked()
	r.mu.Unlock()

	r.changed(ctx, "add", app.Name(), names)
	return nil
}

// Remove drops the named application.
func (r *Registry) Remove(ctx context.Context, name string) (*Application, bool) {
	r.mu.Lock()
	i := r.indexLocked(name)
	if i < 0 {
		r.mu.Unlock()
		return nil, false
	}
	app := r.apps[i]
	r.apps = slices.Delete(r.apps, i, i+1)
	names := r.namesLocked()
	r.mu.Unlock()

	r.changed(ctx, "remove", name, names)
	return app, true
}

// Get returns the named application.
func (r *Registry) Get(name string) (*Application, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(name); i >= 0 {
		return r.apps[i], true
	}
	return nil, false
}

// List returns the applications in registration order.
func (r *Registry) List() []*Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.apps)
}

// Names returns the application names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// Suggest returns the registered name closest to name, or "" when nothing
// is close enough to be a plausible typo.
func (r *Registry) Suggest(name string) string {
	best, bestDist := "", -1
	for _, candidate := range r.Names() {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(candidate))
		if bestDist < 0 || d < bestDist {
			best, bestDist = candidate, d
		}
	}
	if bestDist < 0 || bestDist > max(2, len(name)/3) {
		return ""
	}
	return best
}

func (r *Registry) indexLocked(name string) int {
	return slices.IndexFunc(r.apps, func(a *Application) bool { return a.Name() == name })
}

func (r *Registry) namesLocked() []string {
	names := make([]string, len(r.apps))
	for i, a := range r.apps {
		names[i] = a.Name()
	}
	return names
}

func (r *Registry) changed(ctx context.Context, action, name string, names []string) {
	r.emitter.Emit(ctx, events.TypeAppRegisteredChange, map[string]any{
		"action": action,
		"app":    name,
		"apps":   names,
	}, nil)
}
