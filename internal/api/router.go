package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service        AppointmentService
	Dependencies   []Dependency
	Logger         *zap.Logger
	Metrics        *metrics.Collector
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(log))
	r.Use(MetricsMiddleware(cfg.Metrics))

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute))
		}
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		// Appointment endpoints
		r.Post("/appointments", createAppointmentHandler(cfg.Service, log))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service, log))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service, log))
		r.Put("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service, log))
		r.Put("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service, log))

		// Doctor endpoints
		r.Get("/doctors/{id}/slots", availableSlotsHandler(cfg.Service, log))
	})

	return r
}
