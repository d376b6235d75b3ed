package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/microapp"
)

var errFetch = errors.New("fetch failed")

// flakyLoader fails the first failures loads.
type flakyLoader struct {
	failures int32
	calls    atomic.Int32
}

func (l *flakyLoader) Load(ctx context.Context, app string) (*microapp.Source, error) {
	if l.calls.Add(1) <= l.failures {
		return nil, errFetch
	}
	noop := func(context.Context, microapp.Props) error { return nil }
	return &microapp.Source{Lifecycle: microapp.Lifecycle{
		Mount:   []microapp.LifecycleFunc{noop},
		Unmount: []microapp.LifecycleFunc{noop},
	}}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newApp(t *testing.T, r *Retrier, loader microapp.Loader) *microapp.Application {
	t.Helper()
	c, err := microapp.NewContainer(microapp.WithAppSetup(r.Setup))
	require.NoError(t, err)
	app, err := c.Register(microapp.AppConfig{Name: "foo", ActiveRule: "/foo", Loader: loader})
	require.NoError(t, err)
	return app
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 0},
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 400 * time.Millisecond},
		{attempt: 5, want: time.Second},
		{attempt: 64, want: time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(100*time.Millisecond, time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultConfig(), New(Config{}).Config())

	cfg := New(Config{BaseDelay: time.Second, MaxDelay: time.Millisecond}).Config()
	assert.Equal(t, time.Second, cfg.MaxDelay)
}

func TestRetrierStart(t *testing.T) {
	t.Parallel()

	t.Run("recovers_after_transient_failures", func(t *testing.T) {
		t.Parallel()
		rec := &sleepRecorder{}
		r := New(Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}, WithSleep(rec.sleep))
		loader := &flakyLoader{failures: 2}
		app := newApp(t, r, loader)

		require.NoError(t, r.Start(context.Background(), app))
		assert.Equal(t, microapp.StateMounted, app.State())
		assert.EqualValues(t, 3, loader.calls.Load())
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, rec.delays)
	})

	t.Run("breaks_once_attempts_run_out", func(t *testing.T) {
		t.Parallel()
		rec := &sleepRecorder{}
		r := New(Config{MaxAttempts: 2}, WithSleep(rec.sleep))
		loader := &flakyLoader{failures: 5}
		app := newApp(t, r, loader)

		err := r.Start(context.Background(), app)
		require.ErrorIs(t, err, errFetch)
		assert.Equal(t, microapp.StateSkipBecauseBroken, app.State())
		assert.EqualValues(t, 2, loader.calls.Load())
		assert.Len(t, rec.delays, 1)
	})

	t.Run("stops_when_context_is_canceled", func(t *testing.T) {
		t.Parallel()
		r := New(Config{MaxAttempts: 5})
		loader := &flakyLoader{failures: 5}
		app := newApp(t, r, loader)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := r.Load(ctx, app)
		require.Error(t, err)
		assert.LessOrEqual(t, loader.calls.Load(), int32(1))
	})
}

func TestRetrierLoad(t *testing.T) {
	t.Parallel()
	r := New(Config{MaxAttempts: 2}, WithSleep(func(context.Context, time.Duration) error { return nil }))
	loader := &flakyLoader{failures: 1}
	app := newApp(t, r, loader)

	require.NoError(t, r.Load(context.Background(), app))
	assert.Equal(t, microapp.StateNotBootstrapped, app.State())
}

func TestRetrierAsStarter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		failures  int32
		wantErr   bool
		wantState microapp.State
		wantCalls int32
	}{
		{name: "activation_recovers", failures: 2, wantState: microapp.StateMounted, wantCalls: 3},
		{name: "activation_breaks", failures: 9, wantErr: true, wantState: microapp.StateSkipBecauseBroken, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &sleepRecorder{}
			r := New(Config{MaxAttempts: 3}, WithSleep(rec.sleep))
			c, err := microapp.NewContainer(microapp.WithAppSetup(r.Setup), microapp.WithStarter(r.Resume))
			require.NoError(t, err)
			loader := &flakyLoader{failures: tt.failures}
			app, err := c.Register(microapp.AppConfig{Name: "foo", ActiveRule: "/foo", Loader: loader})
			require.NoError(t, err)

			err = c.Activate(context.Background(), "foo")
			if tt.wantErr {
				require.ErrorIs(t, err, errFetch)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantState, app.State())
			assert.Equal(t, tt.wantCalls, loader.calls.Load())
			assert.Len(t, rec.delays, 2)
		})
	}
}

func TestRetrierGivesUpWhenStopped(t *testing.T) {
	t.Parallel()
	r := New(Config{MaxAttempts: 5}, WithSleep(func(context.Context, time.Duration) error { return nil }))
	loader := &flakyLoader{failures: 9}
	app := newApp(t, r, loader)
	require.NoError(t, app.Stop(context.Background()))

	err := r.Resume(context.Background(), app)
	assert.True(t, microapp.IsInterruption(err))
	assert.Zero(t, loader.calls.Load())
}
