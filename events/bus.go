package events

import (
	"context"
	"slices"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/GoCodeAlone/microapp/internal/logging"
)

// observerRegistration holds information about a registered observer
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool // set of event types this observer is interested in
	registeredAt time.Time
}

type inlineKey struct{}

// WithInlineDelivery asks the Bus to run observers on the notifying
// goroutine, in registration order, before NotifyObservers returns.
func WithInlineDelivery(ctx context.Context) context.Context {
	return context.WithValue(ctx, inlineKey{}, true)
}

// InlineDelivery reports whether ctx asks for inline delivery.
func InlineDelivery(ctx context.Context) bool {
	v, _ := ctx.Value(inlineKey{}).(bool)
	return v
}

// Bus is the Subject shared by the components of one host. Delivery is
// asynchronous unless the context carries WithInlineDelivery.
type Bus struct {
	mu        sync.RWMutex
	observers []*observerRegistration
	logger    logging.Logger
}

// NewBus creates an empty bus. A nil logger discards observer failures.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{logger: logging.OrDiscard(logger)}
}

// RegisterObserver adds an observer, replacing any previous registration
// with the same ID.
func (b *Bus) RegisterObserver(observer Observer, eventTypes ...string) error {
	eventTypeMap := make(map[string]bool, len(eventTypes))
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	reg := &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
	}
	for i, existing := range b.observers {
		if existing.observer.ObserverID() == observer.ObserverID() {
			b.observers[i] = reg
			return nil
		}
	}
	b.observers = append(b.observers, reg)

	b.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer. Unknown observers are ignored.
func (b *Bus) UnregisterObserver(observer Observer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observers = slices.DeleteFunc(b.observers, func(r *observerRegistration) bool {
		return r.observer.ObserverID() == observer.ObserverID()
	})
	return nil
}

// NotifyObservers validates the event and delivers it to every interested
// observer. Observer errors and panics are logged, never returned.
func (b *Bus) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		b.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	// Snapshot so observers may (un)register from inside OnEvent.
	b.mu.RLock()
	targets := make([]*observerRegistration, 0, len(b.observers))
	for _, reg := range b.observers {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		targets = append(targets, reg)
	}
	b.mu.RUnlock()

	inline := InlineDelivery(ctx)
	for _, reg := range targets {
		if inline {
			b.deliver(ctx, reg, event)
			continue
		}
		go b.deliver(ctx, reg, event)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, reg *observerRegistration, event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Observer panicked", "observerID", reg.observer.ObserverID(), "event", event.Type(), "panic", r)
		}
	}()
	if err := reg.observer.OnEvent(ctx, event); err != nil {
		b.logger.Error("Observer error", "observerID", reg.observer.ObserverID(), "event", event.Type(), "error", err)
	}
}

// GetObservers returns information about currently registered observers.
func (b *Bus) GetObservers() []ObserverInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info := make([]ObserverInfo, 0, len(b.observers))
	for _, reg := range b.observers {
		eventTypes := make([]string, 0, len(reg.eventTypes))
		for eventType := range reg.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		slices.Sort(eventTypes)
		info = append(info, ObserverInfo{
			ID:           reg.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: reg.registeredAt,
		})
	}
	return info
}

// Emitter publishes events from a single source onto a Subject. A nil
// Emitter or one without a subject is a no-op, so components can emit
// unconditionally.
type Emitter struct {
	Subject Subject
	Source  string
	Logger  logging.Logger
}

// Emit builds a CloudEvent and delivers it synchronously.
func (e *Emitter) Emit(ctx context.Context, eventType string, data any, metadata map[string]any) {
	if e == nil || e.Subject == nil {
		return
	}
	event := NewCloudEvent(eventType, e.Source, data, metadata)
	if err := e.Subject.NotifyObservers(WithInlineDelivery(ctx), event); err != nil {
		logging.OrDiscard(e.Logger).Debug("Failed to emit event", "source", e.Source, "eventType", eventType, "error", err)
	}
}
