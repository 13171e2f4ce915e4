package router

import (
	"strings"
	"sync/atomic"
)

// Handler gets the request and the placeholder values of the matched route in
// left-to-right order. It must not keep req after returning.
type Handler func(req *Request, params []string) Response

// Router maps method + path pattern to handlers.
//
// A pattern matches a path when both have the same number of segments, fixed
// segments are equal and placeholder segments ({name} or :name) are not empty.
// When several patterns match, the one registered first wins. Matching is
// byte exact: no case folding, no trailing slash handling, no percent-decoding.
type Router struct {
	treeroot node
	seq      int
	frozen   atomic.Bool
}

// RouteInfo describes a registered route
type RouteInfo struct {
	Method  string
	Pattern string
}

// init a new router
func NewHTTPRouter() *Router {
	return &Router{}
}

// Handle registers a route; routes are registered before serving, it panics after Freeze
func (r *Router) Handle(method, pattern string, h Handler) {
	if r.frozen.Load() {
		panic("router: route registered after serving started: " + method + " " + pattern)
	}
	if method == "" || h == nil {
		panic("router: empty method or nil handler for " + pattern)
	}
	if !strings.HasPrefix(pattern, "/") {
		panic("router: pattern must start with '/': " + pattern)
	}

	r.treeroot.insert(splitPattern(pattern), route{
		method:  method,
		pattern: pattern,
		handler: h,
		seq:     r.seq,
	})
	r.seq++
}

func (r *Router) Get(pattern string, h Handler) {
	r.Handle("GET", pattern, h)
}

func (r *Router) Post(pattern string, h Handler) {
	r.Handle("POST", pattern, h)
}

func (r *Router) Put(pattern string, h Handler) {
	r.Handle("PUT", pattern, h)
}

func (r *Router) Delete(pattern string, h Handler) {
	r.Handle("DELETE", pattern, h)
}

// Freeze makes the route table read-only, the server calls it before accepting
func (r *Router) Freeze() {
	r.frozen.Store(true)
}

// Resolve finds the handler for method and path (without query); ok is false
// when nothing matches, an unknown method on a known path is not distinguished
func (r *Router) Resolve(method, path string) (Handler, []string, bool) {
	_, h, params, ok := r.Lookup(method, path)
	return h, params, ok
}

// Lookup is Resolve that also reports the matched pattern
func (r *Router) Lookup(method, path string) (string, Handler, []string, bool) {
	if !strings.HasPrefix(path, "/") {
		return "", nil, nil, false
	}

	var best match
	r.treeroot.find(path[1:], true, method, make([]string, 0, 4), &best)
	if best.route == nil {
		return "", nil, nil, false
	}
	return best.route.pattern, best.route.handler, best.params, true
}

// Routes lists the table in registration order
func (r *Router) Routes() []RouteInfo {
	out := make([]RouteInfo, r.seq)
	var walk func(n *node)
	walk = func(n *node) {
		for _, rt := range n.routes {
			out[rt.seq] = RouteInfo{Method: rt.method, Pattern: rt.pattern}
		}
		for i := range n.ch {
			walk(&n.ch[i])
		}
	}
	walk(&r.treeroot)
	return out
}
