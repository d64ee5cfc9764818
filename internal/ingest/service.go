// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

// Package ingest implements the synchronous event ingestion path:
// validate, append to the event log, accumulate into the aggregate row,
// invalidate cached projections. The append is the commit point; a
// failed accumulate degrades the call rather than failing it, since
// reconciliation recomputes aggregates from the log.
package ingest

import (
	"context"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/coursemetry/internal/config"
	"github.com/tomtom215/coursemetry/internal/logging"
	"github.com/tomtom215/coursemetry/internal/metrics"
	"github.com/tomtom215/coursemetry/internal/models"
	"github.com/tomtom215/coursemetry/internal/validation"
)

// Store is the storage surface ingestion needs. *database.DB satisfies it.
type Store interface {
	AppendEvent(ctx context.Context, ev *models.Event) (int64, error)
	ApplyDelta(ctx context.Context, ev *models.Event) error
}

// Invalidator drops cached projections for a subject. *cache.Cache
// satisfies it.
type Invalidator interface {
	InvalidateSubject(subjectID string)
}

// Catalog answers whether a course exists. Wiring one makes ingestion
// reject events for unknown courses before anything is written; without
// one, any course id is accepted and a row materializes on first event.
type Catalog interface {
	CourseExists(ctx context.Context, courseID string) (bool, error)
}

// EventRequest is the raw, unvalidated ingestion input as decoded from
// the HTTP body.
type EventRequest struct {
	CourseID   string    `json:"course_id" validate:"required,max=128"`
	Kind       string    `json:"event_type" validate:"required"`
	ActorID    string    `json:"actor_id,omitempty" validate:"max=128"`
	Rating     *int      `json:"rating,omitempty"`
	Amount     *float64  `json:"amount,omitempty"`
	OccurredAt time.Time `json:"timestamp,omitempty"`
}

// Result reports what happened to an accepted event.
type Result struct {
	EventID int64 `json:"event_id"`

	// Degraded is true when the event reached the log but not the
	// aggregate row. The response status distinguishes the two.
	Degraded bool `json:"degraded,omitempty"`
}

// Service is the ingestion pipeline.
type Service struct {
	db      Store
	cache   Invalidator
	catalog Catalog
	breaker *gobreaker.CircuitBreaker[any]
	timeout time.Duration
}

// NewService wires the ingestion pipeline. catalog may be nil.
func NewService(db Store, c Invalidator, catalog Catalog, cfg *config.IngestConfig) *Service {
	settings := gobreaker.Settings{
		Name:        "aggregate-accumulate",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	return &Service{
		db:      db,
		cache:   c,
		catalog: catalog,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		timeout: cfg.Timeout,
	}
}

// Ingest validates and persists one event.
//
// Outcomes:
//   - nil error: event logged and aggregated
//   - ErrInvalidEvent (wrapped): rejected, nothing written
//   - ErrSubjectNotFound: rejected by the catalog, nothing written
//   - ErrPersistence (wrapped): log append failed, nothing durable
//   - ErrLoggedNotAggregated (wrapped): logged, aggregate deferred to
//     reconciliation; Result still carries the event id
func (s *Service) Ingest(ctx context.Context, req *EventRequest) (*Result, error) {
	start := time.Now()
	res, err := s.ingest(ctx, req)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	metrics.EventsIngested.WithLabelValues(req.Kind, outcomeLabel(res, err)).Inc()
	return res, err
}

func (s *Service) ingest(ctx context.Context, req *EventRequest) (*Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ev, err := s.buildEvent(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	res := &Result{EventID: ev.ID}

	// The accumulate runs behind a breaker so a struggling aggregate
	// store cannot stall the whole ingest path. The event is already
	// durable; reconciliation closes any gap this leaves.
	_, err = s.breaker.Execute(func() (any, error) {
		return nil, s.db.ApplyDelta(ctx, ev)
	})
	if err != nil {
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("course_id", ev.CourseID).
			Int64("event_id", ev.ID).
			Msg("Event logged but aggregate accumulate failed")
		res.Degraded = true
		return res, fmt.Errorf("%w: %v", ErrLoggedNotAggregated, err)
	}

	s.cache.InvalidateSubject(ev.CourseID)

	return res, nil
}

// buildEvent validates the request and produces a storable event.
func (s *Service) buildEvent(ctx context.Context, req *EventRequest) (*models.Event, error) {
	if verr := validation.ValidateStruct(req); verr != nil {
		field, _ := verr.First()
		return nil, &InvalidEventError{Reason: &validation.MissingFieldError{Field: field}}
	}

	payload, err := validation.ValidateEventPayload(models.EventKind(req.Kind), validation.EventPayload{
		Rating: req.Rating,
		Amount: req.Amount,
	})
	if err != nil {
		return nil, &InvalidEventError{Reason: err}
	}

	if s.catalog != nil {
		exists, err := s.catalog.CourseExists(ctx, req.CourseID)
		if err != nil {
			return nil, fmt.Errorf("catalog lookup failed: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, req.CourseID)
		}
	}

	now := time.Now().UTC()
	occurred := req.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}

	return &models.Event{
		CourseID:   req.CourseID,
		Kind:       models.EventKind(req.Kind),
		ActorID:    req.ActorID,
		Rating:     payload.Rating,
		Amount:     payload.Amount,
		OccurredAt: occurred,
		RecordedAt: now,
	}, nil
}

func outcomeLabel(res *Result, err error) string {
	switch {
	case err == nil:
		return "ok"
	case res != nil && res.Degraded:
		return "degraded"
	default:
		return "rejected"
	}
}
