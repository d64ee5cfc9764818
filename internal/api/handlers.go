// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

// Package api provides the HTTP surface: event ingestion, cached
// analytics projections, job triggers, and health.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/coursemetry/internal/cache"
	"github.com/tomtom215/coursemetry/internal/config"
	"github.com/tomtom215/coursemetry/internal/database"
	"github.com/tomtom215/coursemetry/internal/ingest"
	"github.com/tomtom215/coursemetry/internal/logging"
	"github.com/tomtom215/coursemetry/internal/models"
	"github.com/tomtom215/coursemetry/internal/scheduler"
	"github.com/tomtom215/coursemetry/internal/validation"
)

// detailWindowDays is the trailing window served by the detail endpoint.
const detailWindowDays = 30

// Cache view kinds, composed into keys with the course id.
const (
	viewSummary = "summary"
	viewDetail  = "detail"
)

// Ingestor accepts events. *ingest.Service satisfies it.
type Ingestor interface {
	Ingest(ctx context.Context, req *ingest.EventRequest) (*ingest.Result, error)
}

// AnalyticsStore reads projections. *database.DB satisfies it.
type AnalyticsStore interface {
	GetAggregate(ctx context.Context, courseID string) (*models.CourseAggregate, error)
	RollingWindowStats(ctx context.Context, courseID string, windowDays int) (*models.RollingWindowStats, error)
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (database.StorageStats, error)
}

// JobRunner triggers scheduled jobs by name. *scheduler.Scheduler
// satisfies it.
type JobRunner interface {
	Trigger(ctx context.Context, name string) error
	Jobs() []string
}

// Handler holds the HTTP handler dependencies.
type Handler struct {
	store    AnalyticsStore
	ingestor Ingestor
	jobs     JobRunner
	cache    *cache.Cache
	cacheCfg *config.CacheConfig
}

// NewHandler creates the API handler.
func NewHandler(store AnalyticsStore, ingestor Ingestor, jobs JobRunner, c *cache.Cache, cacheCfg *config.CacheConfig) *Handler {
	return &Handler{
		store:    store,
		ingestor: ingestor,
		jobs:     jobs,
		cache:    c,
		cacheCfg: cacheCfg,
	}
}

// IngestEvent handles POST /analytics/events.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingest.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Malformed JSON body")
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), &req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"event_id": res.EventID,
		})

	case errors.Is(err, ingest.ErrInvalidEvent):
		writeFieldError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, err.Error(), validationField(err))

	case errors.Is(err, ingest.ErrSubjectNotFound):
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())

	case errors.Is(err, ingest.ErrLoggedNotAggregated):
		// Durably logged; the aggregate catches up at the next
		// reconciliation run.
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":   "logged_not_aggregated",
			"event_id": res.EventID,
		})

	case errors.Is(err, ingest.ErrPersistence):
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Event could not be persisted, retry")

	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Ingest failed")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Internal error")
	}
}

// CourseSummary handles GET /analytics/courses/{id}. Unknown courses
// yield a zero-valued summary with 200, never 404.
func (h *Handler) CourseSummary(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")

	key := cache.Key(courseID, viewSummary)
	if cached, ok := h.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	agg, err := h.store.GetAggregate(r.Context(), courseID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("course_id", courseID).Msg("Summary read failed")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Failed to read course analytics")
		return
	}

	summary := agg.Summary()
	h.cache.Set(key, summary, h.cacheCfg.SummaryTTL)
	writeJSON(w, http.StatusOK, summary)
}

// CourseDetail handles GET /analytics/courses/{id}/detail: the summary
// plus rolling 30-day figures from the event log.
func (h *Handler) CourseDetail(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")

	key := cache.Key(courseID, viewDetail)
	if cached, ok := h.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	agg, err := h.store.GetAggregate(r.Context(), courseID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("course_id", courseID).Msg("Detail read failed")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Failed to read course analytics")
		return
	}

	window, err := h.store.RollingWindowStats(r.Context(), courseID, detailWindowDays)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("course_id", courseID).Msg("Window read failed")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Failed to read course analytics")
		return
	}

	detail := models.CourseDetail{
		CourseSummary:   agg.Summary(),
		TotalRatings:    agg.TotalRatings,
		CompletionCount: agg.CompletionCount,
		Window:          *window,
	}
	h.cache.Set(key, detail, h.cacheCfg.DetailTTL)
	writeJSON(w, http.StatusOK, detail)
}

// RunJob handles POST /analytics/jobs/{name}/run.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	err := h.jobs.Trigger(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"job":    name,
		})
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, r, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("job", name).Msg("Job run failed")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

// Health handles GET /healthz: liveness plus storage and cache stats.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK

	body := map[string]interface{}{
		"jobs": h.jobs.Jobs(),
		"cache": map[string]interface{}{
			"stats":    h.cache.GetStats(),
			"hit_rate": h.cache.HitRate(),
		},
	}

	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
		body["database_error"] = err.Error()
	} else if stats, err := h.store.Stats(r.Context()); err == nil {
		body["storage"] = stats
	}

	body["status"] = status
	writeJSON(w, httpStatus, body)
}

// validationField pulls the offending field name out of a validation
// failure, empty when the failure is not field-specific.
func validationField(err error) string {
	var invalid *ingest.InvalidEventError
	if !errors.As(err, &invalid) {
		return ""
	}
	var missing *validation.MissingFieldError
	if errors.As(invalid.Detail(), &missing) {
		return missing.Field
	}
	var unknown *validation.UnknownKindError
	if errors.As(invalid.Detail(), &unknown) {
		return "event_type"
	}
	return ""
}
