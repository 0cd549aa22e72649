// Package routeindex maps (method, path) to a discovered route. Patterns are
// compiled to anchored regexps at insert time; lookup never allocates a
// matcher.
package routeindex

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/half-blood-labs/route-shield/internal/model"
)

type compiled struct {
	route  model.Route
	re     *regexp.Regexp
	params int
}

// Index is the route lookup table. Reads take an RLock; the write paths are
// the batch load at startup and refresh, so contention on the hot path is
// reader-reader only.
type Index struct {
	mu      sync.RWMutex
	byID    map[int64]*compiled
	byKey   map[string]*compiled // METHOD + " " + pattern
	ordered []*compiled          // fewest params first, then ascending id
}

// New creates an empty index.
func New() *Index {
	ix := &Index{}
	ix.reset()
	return ix
}

func (ix *Index) reset() {
	ix.byID = make(map[int64]*compiled)
	ix.byKey = make(map[string]*compiled)
	ix.ordered = nil
}

// Store inserts or overwrites a route, keyed both by id and by
// (method, pattern).
func (ix *Index) Store(r model.Route) {
	r.Method = strings.ToUpper(r.Method)
	c := &compiled{
		route:  r,
		re:     compilePattern(r.PathPattern),
		params: strings.Count(r.PathPattern, ":"),
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.byID[r.ID]; ok {
		delete(ix.byKey, routeKey(old.route.Method, old.route.PathPattern))
	}
	key := routeKey(r.Method, r.PathPattern)
	if old, ok := ix.byKey[key]; ok {
		delete(ix.byID, old.route.ID)
	}
	ix.byID[r.ID] = c
	ix.byKey[key] = c
	ix.reorder()
}

// Lookup resolves a request path to a route. Exact (method, path) equality
// wins; otherwise the first pattern match in specificity order (fewest
// parameters, then lowest id) is returned.
func (ix *Index) Lookup(method, path string) (model.Route, bool) {
	method = strings.ToUpper(method)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if c, ok := ix.byKey[routeKey(method, path)]; ok {
		return c.route, true
	}
	for _, c := range ix.ordered {
		if c.params == 0 {
			continue // exact patterns already covered by the key lookup
		}
		if c.route.Method == method && c.re.MatchString(path) {
			return c.route, true
		}
	}
	return model.Route{}, false
}

// Clear drops every route, for a full reload.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.reset()
}

// List returns all routes in specificity order.
func (ix *Index) List() []model.Route {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]model.Route, 0, len(ix.ordered))
	for _, c := range ix.ordered {
		out = append(out, c.route)
	}
	return out
}

// Len reports the number of stored routes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

func (ix *Index) reorder() {
	ordered := make([]*compiled, 0, len(ix.byID))
	for _, c := range ix.byID {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].params != ordered[j].params {
			return ordered[i].params < ordered[j].params
		}
		return ordered[i].route.ID < ordered[j].route.ID
	})
	ix.ordered = ordered
}

// compilePattern turns "/users/:id/posts" into ^/users/[^/]+/posts$. Literal
// segments are quoted, so pattern text can never inject regexp syntax.
func compilePattern(pattern string) *regexp.Regexp {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			segments[i] = "[^/]+"
		} else {
			segments[i] = regexp.QuoteMeta(seg)
		}
	}
	return regexp.MustCompile("^" + strings.Join(segments, "/") + "$")
}

func routeKey(method, pattern string) string {
	return method + " " + pattern
}
