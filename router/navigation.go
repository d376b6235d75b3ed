package router

// EventType names a native navigation notification.
type EventType string

const (
	// EventPopState is sent when the host moves through its history.
	EventPopState EventType = "popstate"
	// EventHashChange is sent when only the fragment of the location changed.
	EventHashChange EventType = "hashchange"
)

// Event is a native navigation notification delivered by the host.
type Event struct {
	Type  EventType
	URL   string
	State any
}

// Navigation is one speculative move of the host location. Navigations are
// immutable once handed to consumers.
type Navigation struct {
	ID       string
	NewURL   string
	NewState any
	OldURL   string
	OldState any
	// Event is the native notification that caused the navigation, if any.
	Event *Event
}
