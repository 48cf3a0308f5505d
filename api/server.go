/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client IP from proxy headers
  3. Logger:     slog request line + Prometheus request metrics
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the booking page

ROUTE GROUPS:
  /api/*        Public booking endpoints
  /api/admin/*  Admin operations
  /metrics      Prometheus scrape endpoint
  /healthz      Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/token-engine/metrics"
)

// RouterConfig carries the optional router dependencies.
type RouterConfig struct {
	AllowedOrigins []string
	HTTPMetrics    *metrics.HTTP
	MetricsHandler http.Handler // defaults to promhttp.Handler()
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger, cfg.HTTPMetrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metricsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/book", h.Book)
		r.Post("/check-token", h.CheckToken)
		r.Get("/availability/{date}", h.GetAvailability)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/bookings", h.ListBookings)
			r.Get("/availability", h.ListAvailability)
			r.Get("/stats", h.Stats)
			r.Post("/disable-date", h.DisableDate)
			r.Post("/close-date", h.CloseDate)
			r.Post("/close-today", h.CloseToday)
		})
	})

	return r
}
