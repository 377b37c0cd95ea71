package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/auth"
	"github.com/prn-tf/blog-accounts/internal/metrics"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router wires the HTTP API.
type Router struct {
	accountHandler *AccountHandler
	userHandler    *UserHandler
	auditHandler   *AuditHandler
	socialHandler  *SocialHandler
	tokens         auth.TokenVerifier
	database       HealthChecker
	metrics        *metrics.Metrics
	maxBodySize    int64
	logger         zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	AccountHandler *AccountHandler
	UserHandler    *UserHandler
	AuditHandler   *AuditHandler

	// SocialHandler is optional; social routes are omitted when nil.
	SocialHandler *SocialHandler

	Tokens   auth.TokenVerifier
	Database HealthChecker

	// Metrics is optional.
	Metrics *metrics.Metrics

	// MaxBodySize limits request bodies; zero means unlimited.
	MaxBodySize int64

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		accountHandler: config.AccountHandler,
		userHandler:    config.UserHandler,
		auditHandler:   config.AuditHandler,
		socialHandler:  config.SocialHandler,
		tokens:         config.Tokens,
		database:       config.Database,
		metrics:        config.Metrics,
		maxBodySize:    config.MaxBodySize,
		logger:         config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(rt.recordMetrics)
	r.Use(middleware.Recoverer)
	if rt.maxBodySize > 0 {
		r.Use(limitBody(rt.maxBodySize))
	}
	r.Use(auth.Filter(rt.tokens, rt.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, httpMessage(http.StatusNotFound), "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, httpMessage(http.StatusMethodNotAllowed), "")
	})

	// Health check (no auth)
	r.Get("/health", rt.handleHealth)

	r.Route("/api", func(r chi.Router) {
		rt.accountHandler.RegisterRoutes(r)
		rt.userHandler.RegisterRoutes(r)
	})
	r.Route("/management", rt.auditHandler.RegisterRoutes)

	if rt.socialHandler != nil {
		r.Route("/social", rt.socialHandler.RegisterRoutes)
	}

	return r
}

// handleHealth reports database reachability.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if rt.database != nil {
		if err := rt.database.Health(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}
