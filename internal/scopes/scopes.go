// Package scopes implements the structured permission tokens carried by API
// keys. A scope is a colon-separated token of the form
// namespace:resource:action (e.g. "limits:settings:write"); shorter forms
// are valid and cover a broader surface. The wildcard "*" matches any one
// segment, and a trailing "*" matches every remaining segment, so "limits:*"
// grants all limit operations and "*" grants everything.
package scopes

import "strings"

const (
	// Wildcard grants every operation when present in a key's scope set.
	Wildcard = "*"

	separator = ":"
)

// Allowed reports whether any of the granted scopes covers the required one.
// An empty grant set allows nothing.
func Allowed(granted []string, required string) bool {
	for _, g := range granted {
		if covers(g, required) {
			return true
		}
	}
	return false
}

// AllowedAll reports whether every required scope is covered.
func AllowedAll(granted []string, required ...string) bool {
	for _, r := range required {
		if !Allowed(granted, r) {
			return false
		}
	}
	return true
}

// covers reports whether a single granted scope matches the required token.
func covers(granted, required string) bool {
	if granted == "" || required == "" {
		return false
	}
	if granted == Wildcard {
		return true
	}

	gSegs := strings.Split(granted, separator)
	rSegs := strings.Split(required, separator)

	for i, g := range gSegs {
		// Trailing wildcard covers the rest of the token.
		if g == Wildcard && i == len(gSegs)-1 {
			return true
		}
		if i >= len(rSegs) {
			return false
		}
		if g != Wildcard && g != rSegs[i] {
			return false
		}
	}

	// A grant with fewer segments than required covers the subtree only
	// via a trailing wildcard, handled above. An exact-length match must
	// have consumed every required segment.
	return len(gSegs) == len(rSegs)
}

// Valid reports whether a scope token is well formed: non-empty segments,
// and wildcards only as whole segments.
func Valid(scope string) bool {
	if scope == "" {
		return false
	}
	for _, seg := range strings.Split(scope, separator) {
		if seg == "" {
			return false
		}
		if strings.Contains(seg, Wildcard) && seg != Wildcard {
			return false
		}
	}
	return true
}
