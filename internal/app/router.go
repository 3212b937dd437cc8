// Package app wires configuration, adapters and the workflow into runnable
// units: the HTTP router, readiness checks and the cleanup scheduler.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vidforge/vidforge/internal/adapter/httpserver"
	"github.com/vidforge/vidforge/internal/adapter/observability"
	"github.com/vidforge/vidforge/internal/config"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces. Empty
// input means every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter assembles the full middleware stack and route table.
func BuildRouter(cfg config.Config, srv *httpserver.Server, ready http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"*"},
		ExposedHeaders:     []string{"X-Request-Id", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials:   false,
		MaxAge:             300,
		OptionsPassthrough: true,
	}))
	// Preflight requests terminate here with an empty 204.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/health", srv.HealthHandler)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	if ready != nil {
		r.Get("/readyz", ready)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(httprate.LimitByIP(cfg.RateLimitGeneralPer15Min, 15*time.Minute))
		api.Use(srv.APIKeyAuth)

		api.Group(func(g chi.Router) {
			g.Use(srv.UserRateLimit(httpserver.LimitClassGeneration))
			g.Post("/generations", srv.CreateGeneration)
		})
		api.Get("/generations", srv.ListGenerations)
		api.Get("/generations/{id}", srv.GetGeneration)
		api.Post("/generations/{id}/clarify", srv.Clarify)
		api.Post("/generations/{id}/confirm", srv.Confirm)
		api.Post("/generations/{id}/cancel", srv.CancelGeneration)

		api.Get("/queue/jobs/{id}", srv.QueueJob)
		api.Get("/queue/stats", srv.QueueStats)
		api.Get("/queue/status", srv.QueueStatus)

		api.Group(func(g chi.Router) {
			g.Use(srv.UserRateLimit(httpserver.LimitClassStorage))
			g.Get("/storage/videos", srv.ListVideos)
			g.Get("/storage/videos/{id}", srv.GetVideo)
			g.Delete("/storage/videos/{id}", srv.DeleteVideo)
		})

		api.Group(func(g chi.Router) {
			g.Use(srv.IPRateLimit(httpserver.LimitClassWorkers))
			g.Post("/workers/register", srv.RegisterWorker)
			g.Post("/workers/heartbeat", srv.Heartbeat)
		})

		api.Post("/cron/cleanup", srv.CronCleanup)
	})

	return httpserver.SecurityHeaders(r)
}
