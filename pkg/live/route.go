package live

import (
	"errors"
	"net/url"
	"strings"
)

// MountsParam is the connect-time attempt counter exposed to Mount through
// the params channel. It is 0 on the first connect and increments on every
// reconnect, so application code can tell first-connect from reconnect.
const MountsParam = "_mounts"

// Route binds a URL pattern to a view constructor and a live action.
// Pattern segments wrapped in braces capture path params: "/counter/{id}".
type Route struct {
	// Pattern is the path pattern, e.g. "/counter/{id}".
	Pattern string

	// Module names the view for sockets spawned from this route.
	Module string

	// Action is the LiveAction derived for sockets on this route. The
	// derivation is a pure function of the route, so re-entering
	// HandleParams for the same path shape always yields the same action.
	Action string

	// New constructs a fresh view instance.
	New func() View

	segments []string
}

// Routes is the route table used to resolve navigation targets. Matching
// is first-match in registration order.
type Routes struct {
	routes []*Route
}

// NewRoutes creates an empty route table.
func NewRoutes() *Routes {
	return &Routes{}
}

// Add registers a route and returns the table for chaining.
func (rt *Routes) Add(r Route) *Routes {
	r.segments = splitPath(r.Pattern)
	rt.routes = append(rt.routes, &r)
	return rt
}

// All returns the registered routes in order.
func (rt *Routes) All() []*Route {
	return rt.routes
}

// Match resolves a URI (path plus optional query string) against the
// table. On a match it returns the route and the flat params map: path
// captures merged with query-string pairs. When a capture and a query key
// collide, the path capture wins.
func (rt *Routes) Match(uri string) (*Route, map[string]string, bool) {
	path, query, _ := strings.Cut(uri, "?")

	canonPath, _, _, err := CanonicalizePath(path)
	if err != nil {
		return nil, nil, false
	}

	for _, r := range rt.routes {
		captures, ok := r.match(canonPath)
		if !ok {
			continue
		}
		return r, mergeParams(captures, query), true
	}
	return nil, nil, false
}

// match attempts to match a canonical path against this route's segments.
func (r *Route) match(path string) (map[string]string, bool) {
	parts := splitPath(path)
	if len(parts) != len(r.segments) {
		return nil, false
	}

	captures := make(map[string]string)
	for i, seg := range r.segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			captures[seg[1:len(seg)-1]] = parts[i]
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}
	return captures, true
}

// splitPath splits a path into non-empty segments.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// mergeParams flattens query pairs and path captures into one namespace.
// Query values are written first so path captures override on conflict;
// that precedence is deliberate and tested.
func mergeParams(captures map[string]string, query string) map[string]string {
	params := make(map[string]string, len(captures))

	if query != "" {
		if values, err := url.ParseQuery(query); err == nil {
			for key, vals := range values {
				if len(vals) > 0 {
					params[key] = vals[0]
				}
			}
		}
	}

	for k, v := range captures {
		params[k] = v
	}

	return params
}

// CanonicalizePath normalizes a URL path for navigation: leading slash,
// collapsed slashes, no trailing slash except root. Backslashes and null
// bytes are rejected outright.
func CanonicalizePath(path string) (canonPath, query string, changed bool, err error) {
	if path == "" {
		return "/", "", true, nil
	}

	canonPath, query, _ = strings.Cut(path, "?")

	if strings.Contains(canonPath, "\\") {
		return "", "", false, errors.New("path contains backslash")
	}
	if strings.Contains(canonPath, "\x00") {
		return "", "", false, errors.New("path contains null byte")
	}

	original := canonPath

	if !strings.HasPrefix(canonPath, "/") {
		canonPath = "/" + canonPath
	}

	for strings.Contains(canonPath, "//") {
		canonPath = strings.ReplaceAll(canonPath, "//", "/")
	}

	if len(canonPath) > 1 && strings.HasSuffix(canonPath, "/") {
		canonPath = strings.TrimSuffix(canonPath, "/")
	}

	return canonPath, query, canonPath != original, nil
}
