package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/f22labs/whatsapp-api/internal/gateway_api/middleware"
)

// RouterDeps are the services exposed over HTTP.
type RouterDeps struct {
	Instances InstanceManager
	Messenger Messenger
	Scheduler Scheduler
	Auth      middleware.AuthConfig
}

// NewRouter builds the public API. /health is unauthenticated; everything
// under /api/v1 goes through the auth middleware.
func NewRouter(deps RouterDeps, logger *slog.Logger) http.Handler {
	validate := validator.New()
	instanceHandler := NewInstanceHandler(deps.Instances, deps.Messenger, logger, validate)
	schedulerHandler := NewSchedulerHandler(deps.Scheduler, logger, validate)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(PrometheusMetricsMiddleware)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, logger, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(middleware.AuthMiddleware(deps.Auth, logger))
		v1.Route("/instances", instanceHandler.RegisterRoutes)
		v1.Route("/scheduled-messages", schedulerHandler.RegisterRoutes)
	})
	return r
}
