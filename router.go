package offlinecache

import (
	"context"
	"net/http"
	"strings"
)

// Route names of the default routing table.
const (
	RouteIgnore  = "ignore"
	RouteStatic  = "static"
	RouteAPI     = "api"
	RouteDefault = "default"
)

// Strategy answers an intercepted request. The Source tells where the
// response came from.
type Strategy func(ctx context.Context, w *Worker, r *http.Request) (*http.Response, Source, error)

// Route pairs a predicate with the strategy serving the requests it
// matches. A nil Strategy lets the request through untouched.
type Route struct {
	Name     string
	Match    func(s Scope, r *http.Request) bool
	Strategy Strategy
}

// DefaultRoutes is the routing table of the courrier front-end. Routes are
// tried in order and the first match wins.
func DefaultRoutes() []Route {
	return []Route{
		{Name: RouteIgnore, Match: isIgnored},
		{Name: RouteStatic, Match: isStatic, Strategy: CacheFirst(staticPartition, offlineDocument)},
		{Name: RouteAPI, Match: isAPI, Strategy: NetworkFirst(dynamicPartition)},
		{Name: RouteDefault, Match: func(Scope, *http.Request) bool { return true }, Strategy: CacheFirst(dynamicPartition, shellDocument)},
	}
}

// Route returns the first route of the table matching r. When nothing
// matches the request is ignored.
func (w *Worker) Route(r *http.Request) Route {
	for _, route := range w.routes {
		if route.Match(w.scope, r) {
			return route
		}
	}
	return Route{Name: RouteIgnore}
}

// Routes returns a copy of the routing table.
func (w *Worker) Routes() []Route {
	return append([]Route(nil), w.routes...)
}

func isIgnored(s Scope, r *http.Request) bool {
	if r.URL.Scheme != "" && r.URL.Scheme != "http" && r.URL.Scheme != "https" {
		return true
	}
	if r.Method != http.MethodGet {
		return true
	}
	target := r.URL.RequestURI()
	for _, p := range s.devPatterns {
		if p != "" && strings.Contains(target, p) {
			return true
		}
	}
	return false
}

func isStatic(s Scope, r *http.Request) bool {
	if s.inManifest(r.URL.Path) {
		return true
	}
	switch RequestDestination(r) {
	case DestinationStyle, DestinationScript, DestinationImage:
		return true
	}
	return false
}

func isAPI(s Scope, r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, s.apiPrefix)
}

func staticPartition(s Scope) string  { return s.StaticPartition }
func dynamicPartition(s Scope) string { return s.DynamicPartition }
func offlineDocument(s Scope) string  { return s.offlinePath }
func shellDocument(s Scope) string    { return s.shellPath }
