package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"colleague-auth/internal/config"
	"colleague-auth/internal/session"
)

// HealthChecker reports the state of each backing component. An empty
// value means healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]string
}

type RouterDeps struct {
	Auth      *AuthHandler
	Users     *UserHandler
	Binder    *session.Binder
	Limiter   Limiter
	Health    HealthChecker
	Server    config.ServerConfig
	RateLimit config.RateLimitConfig
	Logger    *zap.Logger
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(d RouterDeps) chi.Router {
	router := chi.NewRouter()
	logger := d.Logger

	if d.Server.EnableTLS {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// cors treats an empty origin list as "*", so cross-origin access stays
	// off until origins are configured.
	if origins := d.Server.CORSOrigins; len(origins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", DeviceHeader},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", healthHandler(d.Health, logger))

	router.Group(func(r chi.Router) {
		r.Use(RateLimit(d.Limiter, "auth", d.RateLimit, logger))
		d.Auth.RegisterRoutes(r)
	})

	router.Group(func(r chi.Router) {
		r.Use(RequireSession(d.Binder, logger))
		d.Users.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, logger, http.StatusNotFound, Response{Status: http.StatusNotFound, Error: "endpoint not found"})
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, logger, http.StatusMethodNotAllowed, Response{Status: http.StatusMethodNotAllowed, Error: "method not allowed"})
	})

	return router
}

func healthHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]string{}
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			components = checker.HealthCheck(ctx)
			cancel()
		}

		status := http.StatusOK
		result := map[string]string{}
		for name, problem := range components {
			if problem == "" {
				result[name] = "healthy"
				continue
			}
			result[name] = problem
			status = http.StatusServiceUnavailable
		}
		if status != http.StatusOK {
			logger.Warn("Health check failed", zap.Any("components", result))
		}
		respondWithJSON(w, logger, status, Response{Status: status, Result: result})
	}
}
