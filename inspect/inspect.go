// Package inspect serves a JSON view of running router containers for
// debugging: application states, the current location and recent events.
// It can also drive applications and navigation by hand.
package inspect

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GoCodeAlone/microapp"
	"github.com/GoCodeAlone/microapp/internal/logging"
)

// Handler errors
var (
	ErrContainerNotFound = errors.New("container not found")
	ErrUnknownAction     = errors.New("unknown action")
	ErrURLRequired       = errors.New("url is required")
)

// AppView describes one application.
type AppView struct {
	Name       string              `json:"name"`
	State      string              `json:"state"`
	Directive  string              `json:"directive"`
	ActiveRule string              `json:"activeRule,omitempty"`
	Target     string              `json:"target,omitempty"`
	Active     bool                `json:"active"`
	Resources  *microapp.Resources `json:"resources,omitempty"`
	Props      microapp.Props      `json:"props,omitempty"`
}

// ContainerView describes one router container.
type ContainerView struct {
	Name     string    `json:"name"`
	Location string    `json:"location"`
	Apps     []AppView `json:"apps"`
}

type navigateRequest struct {
	URL string `json:"url"`
}

// Handler is an http.Handler exposing router containers.
type Handler struct {
	mux     chi.Router
	logger  logging.Logger
	journal *Journal

	mu         sync.RWMutex
	containers []*microapp.RouterContainer
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger logging.Logger) Option {
	return func(h *Handler) { h.logger = logging.OrDiscard(logger) }
}

// WithJournal serves the journal's events under /events.
func WithJournal(j *Journal) Option {
	return func(h *Handler) { h.journal = j }
}

// New creates a handler with no containers.
func New(opts ...Option) *Handler {
	h := &Handler{logger: logging.Discard()}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.health)
	r.Get("/events", h.listEvents)
	r.Route("/containers", func(r chi.Router) {
		r.Get("/", h.listContainers)
		r.Route("/{container}", func(r chi.Router) {
			r.Get("/", h.getContainer)
			r.Post("/navigate", h.navigate)
			r.Get("/apps/{app}", h.getApp)
			r.Post("/apps/{app}/{action}", h.appAction)
		})
	})
	h.mux = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Add exposes rc, replacing a container of the same name.
func (h *Handler) Add(rc *microapp.RouterContainer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.containers = slices.DeleteFunc(h.containers, func(c *microapp.RouterContainer) bool {
		return c.Name() == rc.Name()
	})
	h.containers = append(h.containers, rc)
}

// Remove stops exposing the named container.
func (h *Handler) Remove(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.containers = slices.DeleteFunc(h.containers, func(c *microapp.RouterContainer) bool {
		return c.Name() == name
	})
}

func (h *Handler) container(name string) (*microapp.RouterContainer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.containers {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.writeJSON(w, http.StatusOK, []Entry{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.journal.Entries(r.URL.Query().Get("type")))
}

func (h *Handler) listContainers(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	containers := slices.Clone(h.containers)
	h.mu.RUnlock()

	views := make([]ContainerView, 0, len(containers))
	for _, c := range containers {
		views = append(views, containerView(c))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getContainer(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, containerView(c))
}

func (h *Handler) getApp(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	app, err := c.App(chi.URLParam(r, "app"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	view := appView(app, c.Router().Location())
	res := app.Resources()
	view.Resources = &res
	view.Props = app.Props()
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) appAction(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	app, err := c.App(chi.URLParam(r, "app"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}

	ctx := r.Context()
	action := chi.URLParam(r, "action")
	switch action {
	case "load":
		err = app.Load(ctx)
	case "start":
		err = app.Start(ctx)
	case "stop":
		err = app.Stop(ctx)
	case "activate":
		err = c.Activate(ctx, app.Name())
	case "update":
		var props microapp.Props
		if decodeErr := json.NewDecoder(r.Body).Decode(&props); decodeErr != nil {
			h.writeError(w, http.StatusBadRequest, decodeErr)
			return
		}
		err = app.Update(ctx, props)
	default:
		h.writeError(w, http.StatusBadRequest, ErrUnknownAction)
		return
	}
	if err != nil {
		h.logger.Warn("Inspect action failed", "container", c.Name(), "app", app.Name(), "action", action, "error", err)
		h.writeError(w, http.StatusConflict, err)
		return
	}
	h.writeJSON(w, http.StatusOK, appView(app, c.Router().Location()))
}

func (h *Handler) navigate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		h.writeError(w, http.StatusBadRequest, ErrURLRequired)
		return
	}
	if err := c.Router().NavigateToURL(req.URL); err != nil {
		h.writeError(w, http.StatusConflict, err)
		return
	}
	if err := c.Router().Settle(r.Context()); err != nil {
		h.writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	h.writeJSON(w, http.StatusOK, containerView(c))
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*microapp.RouterContainer, bool) {
	c, ok := h.container(chi.URLParam(r, "container"))
	if !ok {
		h.writeError(w, http.StatusNotFound, ErrContainerNotFound)
	}
	return c, ok
}

func containerView(c *microapp.RouterContainer) ContainerView {
	location := c.Router().Location()
	view := ContainerView{Name: c.Name(), Location: location, Apps: []AppView{}}
	for _, app := range c.Apps() {
		view.Apps = append(view.Apps, appView(app, location))
	}
	return view
}

func appView(app *microapp.Application, location string) AppView {
	cfg := app.Config()
	return AppView{
		Name:       app.Name(),
		State:      app.State().String(),
		Directive:  app.Directive().String(),
		ActiveRule: cfg.ActiveRule,
		Target:     cfg.Target,
		Active:     cfg.Active(location),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode inspect response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
