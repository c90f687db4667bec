// Package httpapi serves the generated REST routes of every registered
// model over chi.
package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"restgen.dev/internal/apierr"
	"restgen.dev/internal/engine"
	"restgen.dev/internal/obs"
	"restgen.dev/internal/tenant"
)

const serviceName = "restgen"

type Config struct {
	// Prefix is the mount point of the API, "/api" by default.
	Prefix string
	// NestedPath is the batch endpoint below the prefix; empty disables it.
	NestedPath     string
	MaxBodyBytes   int64
	AllowedOrigins []string
	Version        string
}

// API is the HTTP layer.
type API struct {
	eng     *engine.Engine
	cfg     Config
	authn   Authenticator
	login   Login
	tenants *tenant.Resolver
	limiter Limiter
	log     *zap.Logger
	router  chi.Router
}

type Option func(*API)

// WithAuth enables bearer authentication and the login endpoint.
func WithAuth(authn Authenticator, login Login) Option {
	return func(a *API) { a.authn, a.login = authn, login }
}

// WithTenancy scopes every model route to an organization.
func WithTenancy(r *tenant.Resolver) Option { return func(a *API) { a.tenants = r } }

// WithLimiter throttles login and the models declaring the throttle middleware.
func WithLimiter(l Limiter) Option { return func(a *API) { a.limiter = l } }

func WithLogger(l *zap.Logger) Option { return func(a *API) { a.log = l } }

func New(eng *engine.Engine, cfg Config, opts ...Option) (*API, error) {
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	if cfg.Prefix == "/" {
		cfg.Prefix = "/api"
	}
	cfg.NestedPath = strings.Trim(cfg.NestedPath, "/")
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	a := &API{eng: eng, cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = obs.Logger()
	}
	if cfg.NestedPath != "" {
		if _, err := eng.Registry().Resolve(cfg.NestedPath); err == nil {
			return nil, fmt.Errorf("httpapi: nested path %q collides with a model slug", cfg.NestedPath)
		}
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON(a.log))
	r.Use(obs.Instrument)
	r.Use(a.recoverPanic)
	r.Use(SecurityHeaders)
	if len(a.cfg.AllowedOrigins) > 0 {
		r.Use(CORS(a.cfg.AllowedOrigins))
	}
	r.Use(MaxBodyBytes(a.cfg.MaxBodyBytes))
	r.Use(a.authenticate)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, apierr.NotFound())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.ready)
	r.Handle("/metrics", obs.Handler())

	r.Route(a.cfg.Prefix, func(r chi.Router) {
		if a.login != nil {
			r.Route("/auth", func(r chi.Router) {
				if a.limiter != nil {
					r.Use(RateLimit(a.limiter, a.log))
				}
				r.Post("/login", a.handleLogin)
				r.Get("/me", a.handleMe)
			})
		}
		if a.tenants != nil && a.tenants.Strategy() == tenant.StrategyRoute {
			r.Route("/{"+organizationParam+"}", a.mountModels)
			return
		}
		r.Group(a.mountModels)
	})
	return r
}

// Handler returns the root handler.
func (a *API) Handler() http.Handler { return a.router }

// Route is one registered method and pattern.
type Route struct {
	Method  string
	Pattern string
}

// Routes lists the generated API routes sorted by pattern, then method.
// Operational endpoints outside the prefix are left out.
func (a *API) Routes() ([]Route, error) {
	var out []Route
	err := chi.Walk(a.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimSuffix(route, "/")
		if strings.HasPrefix(route, a.cfg.Prefix+"/") {
			out = append(out, Route{Method: method, Pattern: route})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out, err
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.cfg.Version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Storage().Ping(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
