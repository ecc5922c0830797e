package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
)

// Route binds a handler to every path below Prefix for one HTTP method.
type Route struct {
	Method  string
	Prefix  string
	Handler fiber.Handler
}

// RouteTable resolves requests by method and longest matching path prefix.
// Requests without a match go to the fallback handler.
type RouteTable struct {
	mu       sync.RWMutex
	routes   map[string][]Route
	fallback fiber.Handler
}

// NewRouteTable creates an empty table. A nil fallback answers 404 with a
// JSON body.
func NewRouteTable(fallback fiber.Handler) *RouteTable {
	if fallback == nil {
		fallback = notFound
	}
	return &RouteTable{
		routes:   make(map[string][]Route),
		fallback: fallback,
	}
}

// Add registers h for method and prefix. Registering the same pair twice is
// an error.
func (t *RouteTable) Add(method, prefix string, h fiber.Handler) error {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return fmt.Errorf("route %q: method is required", prefix)
	}
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("route %s %q: prefix must start with /", method, prefix)
	}
	if h == nil {
		return fmt.Errorf("route %s %s: handler is required", method, prefix)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.routes[method] {
		if r.Prefix == prefix {
			return fmt.Errorf("duplicate route %s %s", method, prefix)
		}
	}
	routes := append(t.routes[method], Route{Method: method, Prefix: prefix, Handler: h})
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Prefix) > len(routes[j].Prefix)
	})
	t.routes[method] = routes
	return nil
}

// MustAdd is like Add but panics on error.
func (t *RouteTable) MustAdd(method, prefix string, h fiber.Handler) {
	if err := t.Add(method, prefix, h); err != nil {
		panic(err)
	}
}

// Lookup returns the route with the longest prefix matching path. HEAD
// requests fall back to GET routes.
func (t *RouteTable) Lookup(method, path string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := match(t.routes[method], path); ok {
		return r, true
	}
	if method == fiber.MethodHead {
		return match(t.routes[fiber.MethodGet], path)
	}
	return Route{}, false
}

func match(routes []Route, path string) (Route, bool) {
	for _, r := range routes {
		if hasPathPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return Route{}, false
}

// hasPathPrefix matches whole segments: /-/cache matches /-/cache/purge
// but not /-/cachex.
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

// List returns all routes ordered by method, then by prefix.
func (t *RouteTable) List() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Route
	for _, routes := range t.routes {
		out = append(out, routes...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}
		return out[i].Prefix < out[j].Prefix
	})
	return out
}

// Handle dispatches c to the matching route.
func (t *RouteTable) Handle(c fiber.Ctx) error {
	if r, ok := t.Lookup(c.Method(), c.Path()); ok {
		return r.Handler(c)
	}
	return t.fallback(c)
}

func notFound(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":   "not_found",
		"message": "no route for " + c.Method() + " " + c.Path(),
	})
}
