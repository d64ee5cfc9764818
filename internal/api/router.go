// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/coursemetry/internal/config"
)

// NewRouter builds the chi router for the analytics API.
func NewRouter(h *Handler, cfg *config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(CORS(cfg.CORSAllowedOrigins))

	r.Route("/analytics", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(RateLimit(cfg.RateLimit))
		}

		r.Post("/events", h.IngestEvent)
		r.Get("/courses/{id}", h.CourseSummary)
		r.Get("/courses/{id}/detail", h.CourseDetail)
		r.Post("/jobs/{name}/run", h.RunJob)
	})

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
