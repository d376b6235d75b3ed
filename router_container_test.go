package microapp

import (
	"context"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/microapp/events"
	"github.com/GoCodeAlone/microapp/router"
)

func newRouterFixture(t *testing.T, opts ...Option) (*router.MemoryHost, *router.Router, *RouterContainer, *eventRecorder) {
	t.Helper()
	host := router.NewMemoryHost("/")
	r := router.New(host)
	rec := &eventRecorder{}
	rc, err := NewRouterContainer(r, append([]Option{WithObserver(rec.observe)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, rc.Close(ctx))
		r.Close()
	})
	return host, r, rc, rec
}

func settleRouter(t *testing.T, r *router.Router) {
	t.Helper()
	require.NoError(t, r.Settle(testContext(t)))
}

func TestRouterContainer(t *testing.T) {
	t.Parallel()

	t.Run("unmatched_location_without_fallback_activates_nothing", func(t *testing.T) {
		t.Parallel()
		host, r, rc, rec := newRouterFixture(t)
		foo, _ := registerFake(t, rc.Container, "foo", "/foo")

		require.NoError(t, r.NavigateToURL("/foo"))
		settleRouter(t, r)
		require.Equal(t, StateMounted, foo.State())

		require.NoError(t, r.NavigateToURL("/elsewhere"))
		settleRouter(t, r)

		assert.Equal(t, "/elsewhere", host.URL())
		assert.Equal(t, StateNotMounted, foo.State())
		assert.Equal(t, 1, rec.count(events.TypeNoAppActivated))
		data := rec.data(events.TypeNoAppActivated)
		assert.Equal(t, "/elsewhere", data[0]["url"])
	})

	t.Run("fallback_is_not_applied_to_itself", func(t *testing.T) {
		t.Parallel()
		host, r, _, rec := newRouterFixture(t, WithFallbackURL("/home"))

		require.NoError(t, r.NavigateToURL("/missing"))
		settleRouter(t, r)

		assert.Equal(t, "/home", host.URL())
		assert.Equal(t, 1, rec.count(events.TypeNoAppActivated))
	})

	t.Run("veto_receives_navigation", func(t *testing.T) {
		t.Parallel()
		var seen []router.Navigation
		_, r, rc, _ := newRouterFixture(t, WithCancelActivateApp(func(ctx context.Context, app string, nav router.Navigation) (bool, error) {
			seen = append(seen, nav)
			return false, nil
		}))
		registerFake(t, rc.Container, "foo", "/foo")

		require.NoError(t, r.NavigateToURL("/foo?tab=1"))
		settleRouter(t, r)

		require.Len(t, seen, 1)
		assert.Equal(t, "/foo?tab=1", seen[0].NewURL)
		assert.Equal(t, "/", seen[0].OldURL)
	})

	t.Run("close_unloads_apps_and_detaches", func(t *testing.T) {
		t.Parallel()
		host := router.NewMemoryHost("/foo")
		r := router.New(host)
		defer r.Close()
		rc, err := NewRouterContainer(r)
		require.NoError(t, err)
		foo, _ := registerFake(t, rc.Container, "foo", "/foo")

		r.Reroute()
		settleRouter(t, r)
		require.Equal(t, StateMounted, foo.State())

		require.NoError(t, rc.Close(testContext(t)))
		assert.Equal(t, StateNotLoaded, foo.State())

		require.NoError(t, r.NavigateToURL("/foo/again"))
		settleRouter(t, r)
		assert.Equal(t, StateNotLoaded, foo.State())
	})
	t.Run("superseded_activation_never_mounts", func(t *testing.T) {
		t.Parallel()
		var once sync.Once
		held := make(chan struct{})
		release := make(chan struct{})
		holdBar := events.ForApp("bar", func(ctx context.Context, event cloudevents.Event) error {
			if event.Type() == events.TypeAppActivating {
				once.Do(func() {
					close(held)
					<-release
				})
			}
			return nil
		})
		host, r, rc, _ := newRouterFixture(t, WithObserver(holdBar))
		bar, barFake := registerFake(t, rc.Container, "bar", "/bar")
		baz, _ := registerFake(t, rc.Container, "baz", "/baz")

		require.NoError(t, r.NavigateToURL("/bar"))
		select {
		case <-held:
		case <-time.After(2 * time.Second):
			t.Fatal("bar activation never started")
		}
		require.NoError(t, r.NavigateToURL("/baz"))
		assert.Eventually(t, func() bool { return baz.State() == StateMounted }, 2*time.Second, 5*time.Millisecond)

		close(release)
		settleRouter(t, r)

		assert.Equal(t, "/baz", host.URL())
		assert.Equal(t, StateMounted, baz.State())
		assert.NotEqual(t, StateMounted, bar.State())
		assert.Zero(t, barFake.mounts.Load())
	})

	t.Run("redirecting_consumer_wins_over_matching_one", func(t *testing.T) {
		t.Parallel()
		host, r, _, rec := newRouterFixture(t, WithFallbackURL("/home"))
		other, err := NewRouterContainer(r, WithName("pages"))
		require.NoError(t, err)
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			assert.NoError(t, other.Close(ctx))
		})
		bar, barFake := registerFake(t, other.Container, "bar", "/bar")
		home, _ := registerFake(t, other.Container, "home", "/home")

		require.NoError(t, r.NavigateToURL("/bar"))
		settleRouter(t, r)

		assert.Equal(t, "/home", host.URL())
		assert.Equal(t, StateMounted, home.State())
		assert.Equal(t, StateNotLoaded, bar.State())
		assert.Zero(t, barFake.mounts.Load())
		assert.Equal(t, 1, rec.count(events.TypeNoAppActivated))
	})
}
