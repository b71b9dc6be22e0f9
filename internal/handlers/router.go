package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/homefit-remodel/api/internal/platform/httpx"
)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

// RouteRegistrar mounts one group of endpoints on the API router.
type RouteRegistrar func(r chi.Router)

// Option customises the router configuration before construction.
type Option func(*routerConfig)

type routerConfig struct {
	prefix      string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers

	estimates          RouteRegistrar
	sessions           RouteRegistrar
	sessionMiddlewares []func(http.Handler) http.Handler
}

// NewRouter builds the HTTP surface: /healthz and /readyz at the root, the estimate
// and session endpoints under /api/v1. Groups without a registrar answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{prefix: defaultAPIPrefix, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(nonNil(cfg.middlewares)...)
	r.Use(middleware.Timeout(cfg.timeout))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found",
			fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.prefix, func(api chi.Router) {
		if cfg.estimates != nil {
			cfg.estimates(api)
		} else {
			stub := notImplemented("estimates")
			for _, path := range []string{"/estimates", "/estimates:verify", "/grades:recommend"} {
				api.HandleFunc(path, stub)
			}
		}

		api.Route("/sessions", func(group chi.Router) {
			group.Use(nonNil(cfg.sessionMiddlewares)...)
			if cfg.sessions != nil {
				cfg.sessions(group)
				return
			}
			stub := notImplemented("sessions")
			group.HandleFunc("/*", stub)
			group.NotFound(stub)
			group.MethodNotAllowed(stub)
		})
	})

	return r
}

// WithMiddlewares appends global middleware, run after request id and real ip.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout overrides the per-request deadline applied to every route.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithEstimateRoutes configures the registrar for /estimates, /estimates:verify and /grades:recommend.
func WithEstimateRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.estimates = reg
	}
}

// WithSessionRoutes configures the registrar for the /sessions group.
func WithSessionRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.sessions = reg
	}
}

// WithSessionMiddlewares adds middleware scoped to the /sessions group.
func WithSessionMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.sessionMiddlewares = append(cfg.sessionMiddlewares, mw...)
	}
}

func notImplemented(group string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented",
			fmt.Sprintf("%s routes not implemented", group), http.StatusNotImplemented))
	}
}

func nonNil(mws []func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}
