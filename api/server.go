/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address behind a proxy
  3. Logging:    One zap line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters and latency
  6. CORS:       Cross-origin requests, origins from config

ROUTE GROUPS:
  /api/rate-cards/*     Rate card versions
  /api/rates/*          Resolution
  /api/pricing/*        Calculate, segment, quote
  /api/time-logs/*      Priced time logs
  /api/reports/*        Summaries (JSON and xlsx)
  /metrics              Prometheus scrape endpoint
  /healthz              Store reachability

SEE ALSO:
  - handlers.go: Handler implementations
  - metrics.go: Collectors and the metrics middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions tunes the ambient parts of the router.
type RouterOptions struct {
	AllowedOrigins []string
	MetricsEnabled bool
	MetricsPath    string
}

// DefaultRouterOptions allows any origin and serves /metrics.
func DefaultRouterOptions() RouterOptions {
	return RouterOptions{
		AllowedOrigins: []string{"*"},
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	if opts.MetricsEnabled {
		r.Use(Metrics)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/rate-cards", func(r chi.Router) {
			r.Get("/", h.ListRateCards)
			r.Post("/", h.CreateRateCard)
			r.Get("/{id}", h.GetRateCard)
			r.Post("/{id}/close", h.CloseRateCard)
		})

		r.Route("/rates", func(r chi.Router) {
			r.Post("/resolve", h.ResolveRate)
		})

		r.Route("/pricing", func(r chi.Router) {
			r.Post("/calculate", h.Calculate)
			r.Post("/segment", h.Segment)
			r.Post("/quote", h.Quote)
		})

		r.Route("/time-logs", func(r chi.Router) {
			r.Get("/", h.ListTimeLogs)
			r.Post("/", h.CreateTimeLog)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/summary", h.Summary)
			r.Get("/summary.xlsx", h.SummaryWorkbook)
		})
	})

	r.Get("/healthz", h.Health)
	if opts.MetricsEnabled {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	return r
}

// RequestLogger logs method, route, status and latency of every request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
