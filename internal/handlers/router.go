package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mercado-field/api/internal/platform/httpx"
)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 30 * time.Second
	errorNotFoundCode = "route_not_found"
)

// RouteRegistrar registers one resource's routes on the sub-router mounted for it.
type RouteRegistrar func(r chi.Router)

// routeGroups lists the marketplace resources in mount order. A resource without a registrar
// answers 501 so clients can tell "not deployed" from "no such route".
var routeGroups = []string{"cart", "orders", "products"}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the chi router: request id, real ip and timeout middleware first, then the caller's
// middleware, the probe endpoints at the root and the resource groups under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: make(map[string]RouteRegistrar, len(routeGroups)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("%s is not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range routeGroups {
			registrar := cfg.groups[name]
			api.Route("/"+name, func(group chi.Router) {
				if registrar == nil {
					notImplemented(group, name)
					return
				}
				registrar(group)
			})
		}
	})
	return r
}

// WithMiddlewares appends global middleware after the defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers serves /healthz and /readyz from h.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCartRoutes mounts reg at /api/v1/cart.
func WithCartRoutes(reg RouteRegistrar) Option { return withGroup("cart", reg) }

// WithOrderRoutes mounts reg at /api/v1/orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup("orders", reg) }

// WithProductRoutes mounts reg at /api/v1/products.
func WithProductRoutes(reg RouteRegistrar) Option { return withGroup("products", reg) }

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[name] = reg
	}
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes are not deployed", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
