// Package httpapi is the HTTP adapter over the credential and delivery engines.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/credential"
	"gatehouse.org/internal/delivery"
	"gatehouse.org/internal/directory"
	"gatehouse.org/internal/notify"
	"gatehouse.org/internal/obs"
)

const serviceName = "gatehouse-api"

// ReadyChecker reports whether backing stores can serve traffic.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadyChecker.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Ready(ctx context.Context) error { return f(ctx) }

// Deps are the engine components the API serves. Residents and Events are optional.
type Deps struct {
	Credentials *credential.Manager
	Deliveries  *delivery.Manager
	AccessLog   *audit.Reader
	Residents   directory.Lister
	Tokens      *auth.Tokens
	Events      *notify.Hub
	Ready       ReadyChecker
}

// API is the HTTP layer.
type API struct {
	deps         Deps
	version      string
	logger       *slog.Logger
	corsOrigins  []string
	maxBody      int64
	consumeRPS   float64
	consumeBurst int
	limiter      *RateLimiter
	router       chi.Router
	closing      chan struct{}
	closeOnce    sync.Once
}

type Option func(*API)

func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithCORSOrigins allows extra browser origins besides localhost.
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = append(a.corsOrigins, origins...) }
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithConsumeRate limits code presentations per client IP.
func WithConsumeRate(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.consumeRPS = perSecond
			a.consumeBurst = burst
		}
	}
}

func New(deps Deps, version string, opts ...Option) *API {
	a := &API{
		deps:         deps,
		version:      version,
		logger:       obs.Logger(),
		maxBody:      1 << 20,
		consumeRPS:   5,
		consumeBurst: 10,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.limiter = NewRateLimiter(a.consumeRPS, a.consumeBurst)
	a.closing = make(chan struct{})
	a.router = a.routes()
	return a
}

// Handler returns the root handler for the HTTP server.
func (a *API) Handler() http.Handler { return a.router }

// Close stops background work owned by the API and ends open event streams.
// It is safe to call more than once, e.g. from http.Server.RegisterOnShutdown.
func (a *API) Close() {
	a.closeOnce.Do(func() {
		close(a.closing)
		a.limiter.Stop()
	})
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging(a.logger))
	r.Use(Recoverer(a.logger))
	r.Use(SecurityHeaders)
	r.Use(CORS(a.corsOrigins...))
	r.Use(func(next http.Handler) http.Handler { return obs.Instrument(next, routePattern) })

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Readyz)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)
		r.Use(MaxBodyBytes(a.maxBody))

		r.Post("/v1/credentials", a.issueCredential)
		r.Get("/v1/credentials", a.listCredentials)
		r.With(a.limiter.Middleware).Post("/v1/credentials/consume", a.consumeCredential)
		r.Get("/v1/credentials/{id}", a.getCredential)
		r.Post("/v1/credentials/{id}/revoke", a.revokeCredential)

		r.Post("/v1/deliveries", a.authorizeDelivery)
		r.Get("/v1/deliveries", a.listDeliveries)
		r.Get("/v1/deliveries/{id}", a.getDelivery)
		r.Post("/v1/deliveries/{id}/resolve", a.resolveDelivery)
		r.Post("/v1/deliveries/{id}/cancel", a.cancelDelivery)

		r.Get("/v1/access-logs", a.listAccessLog)
		r.Get("/v1/residents", a.listResidents)
		r.Get("/v1/events/stream", a.Stream)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Readyz(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ready != nil {
		if err := a.deps.Ready.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
