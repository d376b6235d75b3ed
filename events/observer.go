// Package events carries the signals microapp components publish: typed
// CloudEvents delivered to observers registered on a Subject.
package events

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer receives the signals of the components it is registered with.
type Observer interface {
	// OnEvent handles one signal. A returned error is logged by the
	// subject; the emitting component carries on regardless.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID identifies the observer. Registering a second observer
	// with the same ID replaces the first.
	ObserverID() string
}

// Subject fans signals out to observers.
type Subject interface {
	// RegisterObserver subscribes observer to eventTypes, or to every
	// signal when none are given.
	RegisterObserver(observer Observer, eventTypes ...string) error
	UnregisterObserver(observer Observer) error
	NotifyObservers(ctx context.Context, event cloudevents.Event) error
	GetObservers() []ObserverInfo
}

// ObserverInfo describes one registration.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Handler handles one signal.
type Handler func(ctx context.Context, event cloudevents.Event) error

type handlerObserver struct {
	id      string
	handler Handler
}

// NewObserver turns handler into an Observer identified by id.
func NewObserver(id string, handler Handler) Observer {
	return &handlerObserver{id: id, handler: handler}
}

func (o *handlerObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return o.handler(ctx, event)
}

func (o *handlerObserver) ObserverID() string {
	return o.id
}

// ForApp narrows handler to the signals concerning the application named
// app. Router signals, which name no application, are dropped.
func ForApp(app string, handler Handler) Handler {
	return func(ctx context.Context, event cloudevents.Event) error {
		if AppOf(event) != app {
			return nil
		}
		return handler(ctx, event)
	}
}

// AppOf returns the application a signal is about, or "" when its data
// names none.
func AppOf(event cloudevents.Event) string {
	var data struct {
		App string `json:"app"`
	}
	if err := event.DataAs(&data); err != nil {
		return ""
	}
	return data.App
}
