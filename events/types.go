package events

import "strings"

// Scope names the kind of component a signal comes from.
type Scope string

const (
	ScopeApplication Scope = "application"
	ScopeRouter      Scope = "router"
	ScopeContainer   Scope = "container"
)

const typePrefix = "com.microapp."

// ScopeOf returns the scope encoded in eventType, or "" for types microapp
// does not emit.
func ScopeOf(eventType string) Scope {
	rest, ok := strings.CutPrefix(eventType, typePrefix)
	if !ok {
		return ""
	}
	scope, _, ok := strings.Cut(rest, ".")
	if !ok {
		return ""
	}
	switch s := Scope(scope); s {
	case ScopeApplication, ScopeRouter, ScopeContainer:
		return s
	}
	return ""
}

// Event type constants emitted by microapp components.
// They follow the CloudEvents reverse-domain convention.
const (
	// Application signals
	TypeStateChange  = "com.microapp.application.statechange"
	TypeBeforeLoad   = "com.microapp.application.beforeload"
	TypeAfterLoad    = "com.microapp.application.afterload"
	TypeLoadError    = "com.microapp.application.loaderror"
	TypeBeforeStart  = "com.microapp.application.beforestart"
	TypeAfterStart   = "com.microapp.application.afterstart"
	TypeStartError   = "com.microapp.application.starterror"
	TypeBeforeStop   = "com.microapp.application.beforestop"
	TypeAfterStop    = "com.microapp.application.afterstop"
	TypeStopError    = "com.microapp.application.stoperror"
	TypeBeforeUpdate = "com.microapp.application.beforeupdate"
	TypeAfterUpdate  = "com.microapp.application.afterupdate"
	TypeUpdateError  = "com.microapp.application.updateerror"
	TypeBeforeUnload = "com.microapp.application.beforeunload"
	TypeAfterUnload  = "com.microapp.application.afterunload"

	// Router signals
	TypeDeadLoopDetect      = "com.microapp.router.deadloopdetect"
	TypeNavigationConfirmed = "com.microapp.router.navigationconfirmed"
	TypeNavigationCanceled  = "com.microapp.router.navigationcanceled"
	TypeRedirectConflict    = "com.microapp.router.redirectconflict"

	// Container signals
	TypeAppActivating       = "com.microapp.container.appactivating"
	TypeAppActivated        = "com.microapp.container.appactivated"
	TypeAppActivateError    = "com.microapp.container.appactivateerror"
	TypeNoAppActivated      = "com.microapp.container.noappactivated"
	TypeAppRegisteredChange = "com.microapp.container.appregisteredchange"
	TypeAppRegisterError    = "com.microapp.container.appregistererror"
)
