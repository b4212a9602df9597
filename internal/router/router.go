// Package router matches HTTP paths to registered views. Exact matches win
// outright; otherwise patterns are scanned in registration order, where
// ":name" segments capture one path segment and "*" swallows the rest.
package router

import (
	"fmt"
	"strings"
)

type route struct {
	pattern  string
	segments []string
	literal  bool
	value    any
}

// Router is an ordered route table. It is not safe for concurrent mutation;
// register everything before serving.
type Router struct {
	routes []route
}

// New creates an empty router.
func New() *Router {
	return &Router{}
}

// Add registers a pattern. Duplicate patterns are rejected.
func (r *Router) Add(pattern string, value any) error {
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("route pattern %q must start with /", pattern)
	}
	for _, existing := range r.routes {
		if existing.pattern == pattern {
			return fmt.Errorf("route pattern %q already registered", pattern)
		}
	}

	segments := splitPath(pattern)
	literal := true
	for _, seg := range segments {
		if strings.HasPrefix(seg, ":") || seg == "*" {
			literal = false
			break
		}
	}

	r.routes = append(r.routes, route{
		pattern:  pattern,
		segments: segments,
		literal:  literal,
		value:    value,
	})
	return nil
}

// Match resolves a path. Exact (literal) matches are tried first, then
// pattern matches in registration order; the first match wins. Captured
// ":name" segments come back in params; a "*" catch-all captures the
// remainder under "*".
func (r *Router) Match(path string) (any, map[string]string, bool) {
	for _, rt := range r.routes {
		if rt.literal && rt.pattern == path {
			return rt.value, map[string]string{}, true
		}
	}

	pathSegs := splitPath(path)
	for _, rt := range r.routes {
		if rt.literal {
			continue
		}
		if params, ok := matchSegments(rt.segments, pathSegs); ok {
			return rt.value, params, true
		}
	}

	return nil, nil, false
}

// Patterns returns the registered patterns in registration order.
func (r *Router) Patterns() []string {
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.pattern
	}
	return out
}

func matchSegments(pattern, path []string) (map[string]string, bool) {
	params := make(map[string]string)

	for i, seg := range pattern {
		if seg == "*" {
			params["*"] = strings.Join(path[i:], "/")
			return params, true
		}
		if i >= len(path) {
			return nil, false
		}
		if strings.HasPrefix(seg, ":") {
			params[seg[1:]] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}

	if len(path) != len(pattern) {
		return nil, false
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
