package microapp

// State is the lifecycle state of an application.
type State int

const (
	StateNotLoaded State = iota
	StateLoadingSourceCode
	StateNotBootstrapped
	StateBootstrapping
	StateNotMounted
	StateMounting
	StateMounted
	StateUpdating
	StateUnmounting
	StateUnloading
	StateLoadError
	StateSkipBecauseBroken
)

var stateNames = [...]string{
	StateNotLoaded:         "NOT_LOADED",
	StateLoadingSourceCode: "LOADING_SOURCE_CODE",
	StateNotBootstrapped:   "NOT_BOOTSTRAPPED",
	StateBootstrapping:     "BOOTSTRAPPING",
	StateNotMounted:        "NOT_MOUNTED",
	StateMounting:          "MOUNTING",
	StateMounted:           "MOUNTED",
	StateUpdating:          "UPDATING",
	StateUnmounting:        "UNMOUNTING",
	StateUnloading:         "UNLOADING",
	StateLoadError:         "LOAD_ERROR",
	StateSkipBecauseBroken: "SKIP_BECAUSE_BROKEN",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// attachesStop reports whether a stop issued in this state must wait for an
// in-flight start before deciding what to do.
func (s State) attachesStop() bool {
	switch s {
	case StateMounting, StateMounted, StateUpdating, StateUnmounting:
		return true
	}
	return false
}

// Directive is the most recently requested intent for an application.
type Directive int

const (
	DirectiveNone Directive = iota
	DirectiveStart
	DirectiveStop
	DirectiveUpdate
	DirectiveUnload
)

func (d Directive) String() string {
	switch d {
	case DirectiveStart:
		return "START"
	case DirectiveStop:
		return "STOP"
	case DirectiveUpdate:
		return "UPDATE"
	case DirectiveUnload:
		return "UNLOAD"
	default:
		return "NONE"
	}
}

// Stage names a unit of lifecycle work that can time out or fail.
type Stage string

const (
	StageLoad      Stage = "load"
	StageBootstrap Stage = "bootstrap"
	StageMount     Stage = "mount"
	StageUnmount   Stage = "unmount"
	StageUpdate    Stage = "update"
	StageUnload    Stage = "unload"
)
