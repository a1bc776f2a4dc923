package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/example/calinst/internal/config"
	"github.com/example/calinst/internal/http/ratelimit"
	"github.com/example/calinst/internal/metrics"
	"github.com/example/calinst/internal/store"
)

// NewRouter wires the health endpoints and the JSON API.
func NewRouter(cfg *config.Config, st *store.Store, svc EventService) http.Handler {
	r := chi.NewRouter()

	// API endpoints: 20 requests per second, burst of 50
	apiRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := st.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	h := NewHandler(svc)
	r.Route("/api", func(r chi.Router) {
		r.Use(apiRateLimiter.Middleware())
		r.Use(requireToken(cfg))

		r.Get("/version", h.Version)
		r.Get("/instances", h.InstancesInRange)

		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.CreateEvent)
			r.Get("/", h.ListEvents)
			r.Get("/{id}", h.GetEvent)
			r.Put("/{id}", h.UpdateEvent)
			r.Delete("/{id}", h.DeleteEvent)

			r.Get("/{id}/instances", h.EventInstances)
			r.Delete("/{id}/instances", h.ClearInstances)
			r.Post("/{id}/regenerate", h.Regenerate)
			r.Delete("/{id}/occurrence", h.DeleteOccurrence)
		})
	})

	return r
}
