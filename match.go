package microapp

import (
	"net/url"
	"strings"
)

// matchActiveRule reports whether rule, a path prefix, covers location.
// Matching is on whole path segments.
func matchActiveRule(rule, location string) bool {
	if rule == "" {
		return false
	}
	p := pathOf(location)
	rule = strings.TrimSuffix(rule, "/")
	if rule == "" {
		return true
	}
	return p == rule || strings.HasPrefix(p, rule+"/")
}

// pathOf returns the path component of a location, which may be absolute or
// host-relative.
func pathOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		if i := strings.IndexAny(location, "?#"); i >= 0 {
			return location[:i]
		}
		return location
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
