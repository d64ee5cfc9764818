// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

// Package reconcile recomputes aggregates from the event log and prunes
// the log past the retention horizon. Reconciliation is authoritative:
// where the incremental accumulate and the fold disagree, the fold wins.
// Every job is idempotent, so re-running after a crash or overlap never
// corrupts stored aggregates.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/coursemetry/internal/config"
	"github.com/tomtom215/coursemetry/internal/logging"
	"github.com/tomtom215/coursemetry/internal/metrics"
	"github.com/tomtom215/coursemetry/internal/models"
)

// Job names accepted by Run and registered with the scheduler.
const (
	JobAggregateRefresh = "aggregate-refresh"
	JobLogRetention     = "log-retention"
	JobRatingRecompute  = "rating-recompute"
)

// Store is the storage surface reconciliation needs. *database.DB
// satisfies it.
type Store interface {
	QueryEvents(ctx context.Context, courseID string, since, until time.Time) ([]models.Event, error)
	AggregateBaseline(ctx context.Context, courseID string) (models.CourseAggregate, error)
	GetAggregate(ctx context.Context, courseID string) (*models.CourseAggregate, error)
	OverwriteAggregate(ctx context.Context, agg *models.CourseAggregate, reconciledAt time.Time) error
	TouchedSubjects(ctx context.Context, since time.Time) ([]string, error)
	AllSubjects(ctx context.Context) ([]string, error)
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Invalidator drops cached projections for a subject.
type Invalidator interface {
	InvalidateSubject(subjectID string)
}

// Reconciler drives the three maintenance jobs.
type Reconciler struct {
	db      Store
	cache   Invalidator
	cfg     *config.ReconcileConfig
	limiter *rate.Limiter
}

// New creates a reconciler. A zero SubjectsPerSecond disables pacing.
func New(db Store, c Invalidator, cfg *config.ReconcileConfig) *Reconciler {
	var limiter *rate.Limiter
	if cfg.SubjectsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubjectsPerSecond), 1)
	}
	return &Reconciler{db: db, cache: c, cfg: cfg, limiter: limiter}
}

// Reconcile recomputes one course's aggregate from its pruned-history
// baseline plus the surviving event log and overwrites the stored row.
// The snapshot time is taken before the log read, so events arriving
// mid-fold stay out of this pass and are picked up by the next one.
func (r *Reconciler) Reconcile(ctx context.Context, courseID string) error {
	if r.cfg.SubjectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SubjectTimeout)
		defer cancel()
	}

	snapshot := time.Now().UTC()

	events, err := r.db.QueryEvents(ctx, courseID, time.Time{}, snapshot)
	if err != nil {
		return fmt.Errorf("failed to read events for %s: %w", courseID, err)
	}

	base, err := r.db.AggregateBaseline(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to read baseline for %s: %w", courseID, err)
	}

	fresh := models.FoldEventsFrom(base, events)

	stored, err := r.db.GetAggregate(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to read aggregate for %s: %w", courseID, err)
	}

	drifted := !stored.StatsEqual(&fresh)
	if drifted {
		metrics.ReconcileDriftRepairs.Inc()
		logging.Debug().
			Str("course_id", courseID).
			Int64("stored_views", stored.ViewsCount).
			Int64("fold_views", fresh.ViewsCount).
			Msg("Repairing aggregate drift")
	}

	if err := r.db.OverwriteAggregate(ctx, &fresh, snapshot); err != nil {
		return fmt.Errorf("failed to overwrite aggregate for %s: %w", courseID, err)
	}

	r.cache.InvalidateSubject(courseID)
	return nil
}

// RunRefresh re-folds every course with events recorded during the
// refresh window. Keeping the window a bit wider than the interval
// tolerates delayed or overlapping runs.
func (r *Reconciler) RunRefresh(ctx context.Context) error {
	return r.runJob(ctx, JobAggregateRefresh, func(ctx context.Context) error {
		since := time.Now().UTC().Add(-r.cfg.RefreshWindow)
		subjects, err := r.db.TouchedSubjects(ctx, since)
		if err != nil {
			return fmt.Errorf("failed to list touched subjects: %w", err)
		}
		return r.reconcileAll(ctx, subjects)
	})
}

// RunFullRecompute re-folds every known course from scratch.
func (r *Reconciler) RunFullRecompute(ctx context.Context) error {
	return r.runJob(ctx, JobRatingRecompute, func(ctx context.Context) error {
		subjects, err := r.db.AllSubjects(ctx)
		if err != nil {
			return fmt.Errorf("failed to list subjects: %w", err)
		}
		return r.reconcileAll(ctx, subjects)
	})
}

// RunRetention prunes reconciled events older than the retention horizon.
func (r *Reconciler) RunRetention(ctx context.Context) error {
	return r.runJob(ctx, JobLogRetention, func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-r.cfg.RetentionHorizon)
		_, err := r.db.PruneEvents(ctx, cutoff)
		return err
	})
}

// Run dispatches a job by name. Unknown names are an error.
func (r *Reconciler) Run(ctx context.Context, job string) error {
	switch job {
	case JobAggregateRefresh:
		return r.RunRefresh(ctx)
	case JobRatingRecompute:
		return r.RunFullRecompute(ctx)
	case JobLogRetention:
		return r.RunRetention(ctx)
	default:
		return fmt.Errorf("unknown job %q", job)
	}
}

// JobNames lists the dispatchable job names.
func JobNames() []string {
	return []string{JobAggregateRefresh, JobLogRetention, JobRatingRecompute}
}

// reconcileAll walks subjects sequentially under the pacing limiter.
// A failed subject is logged and skipped; one bad course must not
// starve the rest of the batch.
func (r *Reconciler) reconcileAll(ctx context.Context, subjects []string) error {
	var failed int
	for _, courseID := range subjects {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("pacing interrupted: %w", err)
			}
		}
		if err := r.Reconcile(ctx, courseID); err != nil {
			failed++
			logging.Error().
				Err(err).
				Str("course_id", courseID).
				Msg("Subject reconciliation failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d subjects failed reconciliation", failed, len(subjects))
	}
	return nil
}

func (r *Reconciler) runJob(ctx context.Context, job string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	metrics.ReconcileDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
		logging.Error().Err(err).Str("job", job).Msg("Reconciliation job failed")
	} else {
		logging.Info().
			Str("job", job).
			Dur("duration", time.Since(start)).
			Msg("Reconciliation job completed")
	}
	metrics.ReconcileRuns.WithLabelValues(job, outcome).Inc()

	return err
}
