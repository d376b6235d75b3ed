package config

import "reflect"

// AppChanges lists how the applications of two configurations differ.
type AppChanges struct {
	Added   []App
	Removed []string
	Changed []App
}

// Empty reports whether nothing changed.
func (c AppChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// DiffApps compares the applications of prev and next by name. Added and
// Changed keep the order of next; Removed keeps the order of prev.
func DiffApps(prev, next *Config) AppChanges {
	var changes AppChanges
	for _, a := range next.Apps {
		old, ok := prev.App(a.Name)
		switch {
		case !ok:
			changes.Added = append(changes.Added, a)
		case !reflect.DeepEqual(old, a):
			changes.Changed = append(changes.Changed, a)
		}
	}
	for _, a := range prev.Apps {
		if _, ok := next.App(a.Name); !ok {
			changes.Removed = append(changes.Removed, a.Name)
		}
	}
	return changes
}
