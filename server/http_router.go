package server

import (
	"sort"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/outlawai/outlaw-service/types"
)

var methodIndex = map[string]uint8{
	"GET":     0,
	"POST":    1,
	"PUT":     2,
	"DELETE":  3,
	"PATCH":   4,
	"HEAD":    5,
	"OPTIONS": 6,
	"TRACE":   7,
}

var methodNames = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "TRACE"}

// Router resolves requests against an exact method:path table. Every
// route in this service is static, so there is no pattern matching;
// lookups are a single map read behind an RWMutex.
type Router struct {
	mu            sync.RWMutex
	staticRoutes  map[string]*types.RouteInfo
	pathMethods   map[string]uint8
	pendingRoutes []*RouteBuilder
}

func NewRouter() (*Router, error) {
	return &Router{
		staticRoutes: make(map[string]*types.RouteInfo),
		pathMethods:  make(map[string]uint8),
	}, nil
}

func (r *Router) Add(method, path string, handler types.FastHTTPHandler, config *types.RouteConfig) {
	methodIdx, exists := methodIndex[method]
	if !exists {
		return
	}

	path = normalizePath(path)

	if config != nil && config.Timeout > 0 {
		handler = types.FastHTTPHandler(fasthttp.TimeoutWithCodeHandler(
			fasthttp.RequestHandler(handler),
			config.Timeout,
			"Request timeout",
			fasthttp.StatusRequestTimeout))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.staticRoutes[method+":"+path] = &types.RouteInfo{
		Method:  method,
		Path:    path,
		Handler: handler,
		Config:  config,
	}
	r.pathMethods[path] |= 1 << methodIdx
}

// Lookup returns the route for a raw method and path, or nil.
func (r *Router) Lookup(method, path []byte) *types.RouteInfo {
	path = normalizePathBytes(path)

	if len(method)+len(path) <= 30 {
		var buf [32]byte
		n := copy(buf[:], method)
		buf[n] = ':'
		copy(buf[n+1:], path)

		r.mu.RLock()
		info := r.staticRoutes[string(buf[:n+1+len(path)])]
		r.mu.RUnlock()

		return info
	}

	key := string(method) + ":" + string(path)

	r.mu.RLock()
	info := r.staticRoutes[key]
	r.mu.RUnlock()

	return info
}

// AllowedMethods lists the methods registered for a path, for the
// Allow header on 405 responses. Empty means the path is unknown.
func (r *Router) AllowedMethods(path []byte) []string {
	normalized := normalizePathBytes(path)

	r.mu.RLock()
	mask := r.pathMethods[string(normalized)]
	r.mu.RUnlock()

	if mask == 0 {
		return nil
	}

	methods := make([]string, 0, 4)
	for idx, name := range methodNames {
		if mask&(1<<uint(idx)) != 0 {
			methods = append(methods, name)
		}
	}

	return methods
}

func (r *Router) Route(method, path string, handler types.FastHTTPHandler) types.RouteBuilder {
	rb := &RouteBuilder{
		router:  r,
		method:  method,
		path:    path,
		handler: handler,
		config:  &types.RouteConfig{},
	}

	r.mu.Lock()
	r.pendingRoutes = append(r.pendingRoutes, rb)
	r.mu.Unlock()

	return rb
}

func (r *Router) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("GET", path, handler)
}

func (r *Router) POST(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("POST", path, handler)
}

func (r *Router) PUT(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("PUT", path, handler)
}

func (r *Router) DELETE(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("DELETE", path, handler)
}

func (r *Router) Group(prefix string) types.GroupBuilder {
	return &GroupBuilder{
		router: r,
		prefix: prefix,
		config: &types.RouteConfig{},
	}
}

// FinalizePendingRoutes materializes routes declared through the
// builder API. The server calls it once on Start, after every
// component registered its routes.
func (r *Router) FinalizePendingRoutes() error {
	r.mu.Lock()
	routes := make([]*RouteBuilder, len(r.pendingRoutes))
	copy(routes, r.pendingRoutes)
	r.pendingRoutes = r.pendingRoutes[:0]
	r.mu.Unlock()

	var finalizeErrors []error
	for _, route := range routes {
		if err := route.finalize(); err != nil {
			finalizeErrors = append(finalizeErrors, err)
		}
	}

	if len(finalizeErrors) > 0 {
		return types.Errorf(types.ErrRouteFinalizationFailed, "%d errors occurred", len(finalizeErrors))
	}

	return nil
}

func (r *Router) GetAllRoutes() map[string]*types.RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]*types.RouteInfo, len(r.staticRoutes))
	for key, info := range r.staticRoutes {
		routes[key] = info
	}

	return routes
}

// SortedRoutes returns the registered routes ordered by path then
// method, for stable catalog output.
func (r *Router) SortedRoutes() []*types.RouteInfo {
	r.mu.RLock()
	routes := make([]*types.RouteInfo, 0, len(r.staticRoutes))
	for _, info := range r.staticRoutes {
		routes = append(routes, info)
	}
	r.mu.RUnlock()

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return methodIndex[routes[i].Method] < methodIndex[routes[j].Method]
	})

	return routes
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}

func normalizePathBytes(path []byte) []byte {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	if len(path) == 0 {
		return []byte{'/'}
	}
	return path
}
