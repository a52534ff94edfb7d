package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"reconcileedit/application/commands/bus"
	"reconcileedit/application/ports"
	querybus "reconcileedit/application/queries/bus"
	"reconcileedit/interfaces/http/rest/handlers"
	"reconcileedit/interfaces/http/rest/middleware"
	"reconcileedit/pkg/auth"
	"reconcileedit/pkg/errors"
	"reconcileedit/pkg/observability"
)

// RouterConfig holds what the router needs beyond the buses
type RouterConfig struct {
	BasePath       string
	EnableCORS     bool
	AllowedOrigins []string
	Debug          bool

	Validator  *auth.JWTValidator
	EditTokens *auth.EditTokens
	Limiter    auth.RateLimiter
	Metrics    *observability.Collector
	Health     ports.HealthChecker
}

// Router creates and configures the HTTP router
type Router struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	cfg        RouterConfig
	logger     *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		commandBus: commandBus,
		queryBus:   queryBus,
		cfg:        cfg,
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()
	errorHandler := errors.NewErrorHandler(rt.logger, rt.cfg.Debug)

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errorHandler.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.cfg.Metrics != nil {
		router.Use(middleware.Metrics(rt.cfg.Metrics))
	}

	if rt.cfg.EnableCORS {
		origins := rt.cfg.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.cfg.Metrics.Handler())
	}

	editHandler := handlers.NewEditHandler(rt.commandBus, rt.cfg.EditTokens, errorHandler, rt.logger)
	entityHandler := handlers.NewEntityHandler(rt.queryBus, errorHandler, rt.logger)

	router.Route(rt.cfg.BasePath, func(r chi.Router) {
		if rt.cfg.Limiter != nil {
			r.Use(middleware.RateLimit(rt.cfg.Limiter, rt.logger))
		}
		r.Use(middleware.Authenticate(rt.cfg.Validator, rt.logger))

		r.Post("/edit", editHandler.Edit)
		r.Get("/token", editHandler.Token)
		r.Get("/entities/{entityID}", entityHandler.GetEntity)
		r.Get("/match", entityHandler.Match)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck reports whether the entity store answers
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ready"}

	if rt.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := rt.cfg.Health.Ping(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "unavailable", "store": err.Error()}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
