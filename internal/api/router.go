// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/tracelight/internal/metrics"
)

// Config holds HTTP server and middleware settings.
type Config struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// HealthRateLimit is a permissive per-IP cap on the health endpoints,
	// enough for aggressive monitoring without allowing abuse.
	HealthRateLimit int `koanf:"health_rate_limit"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		CORSAllowedOrigins: []string{},
		HealthRateLimit:    1000,
	}
}

// Routes assembles the HTTP surface: event ingest, health probes, and the
// Prometheus scrape endpoint.
func Routes(cfg Config, handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", identityHeader},
		MaxAge:         86400,
	}))
	r.Use(requestMetrics)

	r.Post("/receive_data", handler.ReceiveData)

	healthLimit := cfg.HealthRateLimit
	if healthLimit <= 0 {
		healthLimit = DefaultConfig().HealthRateLimit
	}
	r.Route("/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(healthLimit, time.Minute))
		r.Get("/", handler.Health)
		r.Get("/live", handler.HealthLive)
		r.Get("/ready", handler.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestMetrics records request duration by method, route pattern, and
// status.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.ObserveHTTPRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
