package microapp

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/require"
)

// Static errors for tests
var (
	errLoadFailed    = errors.New("load failed")
	errMountFailed   = errors.New("mount failed")
	errUnmountFailed = errors.New("unmount failed")
	errUpdateFailed  = errors.New("update failed")
)

// fakeApp is a scriptable application. Gates, when set, hold the matching
// stage until closed; entered receives the stage name as each stage begins.
type fakeApp struct {
	loads, bootstraps, mounts, unmounts, updates, unloads atomic.Int32

	loadGate, bootstrapGate, mountGate, unmountGate chan struct{}
	entered                                         chan string

	loadErr    func(n int32) error
	mountErr   error
	unmountErr error
	updateErr  error
	noUpdate   bool
	jitter     func() time.Duration

	mu          sync.Mutex
	lastProps   Props
	mounted     atomic.Int32
	maxMounted  atomic.Int32
	activeLoads atomic.Int32
	maxLoads    atomic.Int32
}

func newFakeApp() *fakeApp {
	return &fakeApp{entered: make(chan string, 64)}
}

func (f *fakeApp) enter(ctx context.Context, stage string, gate chan struct{}) error {
	select {
	case f.entered <- stage:
	default:
	}
	if f.jitter != nil {
		time.Sleep(f.jitter())
	}
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeApp) loader() Loader {
	return LoaderFunc(func(ctx context.Context, app string) (*Source, error) {
		n := f.loads.Add(1)
		raiseMax(&f.maxLoads, f.activeLoads.Add(1))
		defer f.activeLoads.Add(-1)
		if err := f.enter(ctx, "load", f.loadGate); err != nil {
			return nil, err
		}
		if f.loadErr != nil {
			if err := f.loadErr(n); err != nil {
				return nil, err
			}
		}
		return &Source{
			Lifecycle: f.lifecycle(),
			Resources: Resources{Scripts: []string{"/" + app + "/main.js"}},
		}, nil
	})
}

func (f *fakeApp) lifecycle() Lifecycle {
	lc := Lifecycle{
		Bootstrap: []LifecycleFunc{func(ctx context.Context, props Props) error {
			f.bootstraps.Add(1)
			return f.enter(ctx, "bootstrap", f.bootstrapGate)
		}},
		Mount: []LifecycleFunc{func(ctx context.Context, props Props) error {
			f.mounts.Add(1)
			raiseMax(&f.maxMounted, f.mounted.Add(1))
			defer f.mounted.Add(-1)
			if err := f.enter(ctx, "mount", f.mountGate); err != nil {
				return err
			}
			return f.mountErr
		}},
		Unmount: []LifecycleFunc{func(ctx context.Context, props Props) error {
			f.unmounts.Add(1)
			if err := f.enter(ctx, "unmount", f.unmountGate); err != nil {
				return err
			}
			return f.unmountErr
		}},
		Unload: []LifecycleFunc{func(ctx context.Context, props Props) error {
			f.unloads.Add(1)
			return nil
		}},
	}
	if !f.noUpdate {
		lc.Update = []LifecycleFunc{func(ctx context.Context, props Props) error {
			f.updates.Add(1)
			f.mu.Lock()
			f.lastProps = props.Clone()
			f.mu.Unlock()
			return f.updateErr
		}}
	}
	return lc
}

func (f *fakeApp) props() Props {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastProps
}

// waitEntered blocks until the fake reports entering stage.
func (f *fakeApp) waitEntered(t *testing.T, stage string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-f.entered:
			if got == stage {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", stage)
		}
	}
}

func raiseMax(m *atomic.Int32, v int32) {
	for {
		cur := m.Load()
		if v <= cur || m.CompareAndSwap(cur, v) {
			return
		}
	}
}

// eventRecorder collects event types in delivery order.
type eventRecorder struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (r *eventRecorder) observe(ctx context.Context, event cloudevents.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

func (r *eventRecorder) count(eventType string) int {
	n := 0
	for _, t := range r.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

func (r *eventRecorder) data(eventType string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, e := range r.events {
		if e.Type() != eventType {
			continue
		}
		var m map[string]any
		if err := e.DataAs(&m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// stateChanges returns the "to" states of statechange events for app.
func (r *eventRecorder) stateChanges(app string) []string {
	var out []string
	for _, d := range r.data("com.microapp.application.statechange") {
		if d["app"] == app {
			out = append(out, d["to"].(string))
		}
	}
	return out
}

func (r *eventRecorder) has(eventType string) bool {
	return slices.Contains(r.types(), eventType)
}

func newTestContainer(t *testing.T, opts ...Option) (*Container, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	c, err := NewContainer(append([]Option{WithObserver(rec.observe)}, opts...)...)
	require.NoError(t, err)
	return c, rec
}

func registerFake(t *testing.T, c *Container, name, rule string) (*Application, *fakeApp) {
	t.Helper()
	f := newFakeApp()
	app, err := c.Register(AppConfig{Name: name, ActiveRule: rule, Loader: f.loader()})
	require.NoError(t, err)
	return app, f
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
