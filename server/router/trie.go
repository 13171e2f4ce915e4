// segment tree for router logic, it is not acessible from upper packages so use an abstraction: Router
package router

import "strings"

type route struct {
	method  string
	pattern string
	handler Handler
	seq     int // registration order, lower wins
}

// tree node, one per fixed segment or placeholder
type node struct {
	prefix  string // fixed segment or param name
	isparam bool   // is node prefix param?
	ch      []node // children in flat area for data locality
	routes  []route
}

type match struct {
	route  *route
	params []string
}

// insert links pattern segments and a route
func (n *node) insert(segm []string, r route) {
	cur := n
	for _, s := range segm {
		// params are {id} or :id
		isparam, pref := false, s
		if len(s) > 2 && s[0] == '{' && s[len(s)-1] == '}' {
			isparam, pref = true, s[1:len(s)-1]
		} else if len(s) > 1 && s[0] == ':' {
			isparam, pref = true, s[1:]
		}

		// find child index in flat child array
		idx := -1
		for i := range cur.ch {
			if cur.ch[i].isparam == isparam && (isparam || cur.ch[i].prefix == pref) {
				idx = i
				break
			}
		}

		// if no target -> make new node
		if idx == -1 {
			cur.ch = append(cur.ch, node{prefix: pref, isparam: isparam})
			idx = len(cur.ch) - 1
		}
		cur = &cur.ch[idx]
	}

	for _, ex := range cur.routes {
		if ex.method == r.method {
			panic("router: duplicate route " + r.method + " " + r.pattern + " conflicts with " + ex.pattern)
		}
	}
	cur.routes = append(cur.routes, r)
}

// find walks every branch that can match, the route with the lowest seq is kept in best;
// rest is the path after the current slash, more is false when no segment is left
func (n *node) find(rest string, more bool, method string, params []string, best *match) {
	if !more {
		for i := range n.routes {
			r := &n.routes[i]
			if r.method == method && (best.route == nil || r.seq < best.route.seq) {
				best.route = r
				best.params = append(best.params[:0], params...)
			}
		}
		return
	}

	seg, next, found := strings.Cut(rest, "/")
	for i := range n.ch {
		c := &n.ch[i]
		switch {
		case c.isparam:
			if seg == "" {
				continue
			}
			c.find(next, found, method, append(params, seg), best)
		case c.prefix == seg:
			c.find(next, found, method, params, best)
		}
	}
}

// split pattern to segments /api/handler -> {api, handler}, "/" is one empty segment
func splitPattern(pattern string) []string {
	return strings.Split(pattern[1:], "/")
}
