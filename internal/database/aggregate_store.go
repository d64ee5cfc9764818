// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/coursemetry/internal/metrics"
	"github.com/tomtom215/coursemetry/internal/models"
)

// Per-kind accumulate statements. Each is a single server-side UPDATE
// whose right-hand side reads the pre-update row, so counters and their
// derived fields move in one atomic step. Nothing here loads a value
// into Go, mutates it, and writes it back.
var deltaStatements = map[models.EventKind]string{
	models.KindView: `UPDATE course_aggregates SET
		views_count = views_count + 1,
		completion_rate = LEAST(100.0, completion_count * 100.0 / (views_count + 1)),
		updated_at = ?
		WHERE course_id = ?`,

	models.KindComplete: `UPDATE course_aggregates SET
		completion_count = completion_count + 1,
		completion_rate = CASE WHEN views_count > 0
			THEN LEAST(100.0, (completion_count + 1) * 100.0 / views_count)
			ELSE 0 END,
		updated_at = ?
		WHERE course_id = ?`,

	models.KindRate: `UPDATE course_aggregates SET
		total_ratings = total_ratings + 1,
		rating_sum = rating_sum + ?,
		average_rating = (rating_sum + ?) * 1.0 / (total_ratings + 1),
		updated_at = ?
		WHERE course_id = ?`,

	models.KindPurchase: `UPDATE course_aggregates SET
		revenue = revenue + ?,
		updated_at = ?
		WHERE course_id = ?`,
}

// ApplyDelta folds a single validated event into the course's aggregate
// row with one accumulate statement, creating the row first if the
// course has never been seen. Writers for the same course are
// serialized by a per-course lock; distinct courses proceed in
// parallel.
func (db *DB) ApplyDelta(ctx context.Context, ev *models.Event) error {
	deltaSQL, ok := deltaStatements[ev.Kind]
	if !ok {
		return fmt.Errorf("no accumulate statement for event kind %q", ev.Kind)
	}

	mu := db.acquireCourseLock(ev.CourseID)
	defer mu.Unlock()

	now := time.Now().UTC()

	if err := db.ensureAggregateRow(ctx, ev.CourseID, now); err != nil {
		return err
	}

	var args []any
	switch ev.Kind {
	case models.KindRate:
		args = []any{ev.Rating, ev.Rating, now, ev.CourseID}
	case models.KindPurchase:
		args = []any{ev.Amount, now, ev.CourseID}
	default:
		args = []any{now, ev.CourseID}
	}

	start := time.Now()
	stmt, err := db.getStmt(ctx, deltaSQL)
	if err != nil {
		metrics.ObserveDBQuery("update", "course_aggregates", start, err)
		return err
	}
	_, err = stmt.ExecContext(ctx, args...)
	metrics.ObserveDBQuery("update", "course_aggregates", start, err)
	if err != nil {
		return fmt.Errorf("failed to apply %s delta: %w", ev.Kind, err)
	}

	return nil
}

func (db *DB) ensureAggregateRow(ctx context.Context, courseID string, now time.Time) error {
	start := time.Now()

	stmt, err := db.getStmt(ctx,
		`INSERT INTO course_aggregates (course_id, updated_at)
		 VALUES (?, ?)
		 ON CONFLICT (course_id) DO NOTHING`)
	if err != nil {
		metrics.ObserveDBQuery("insert", "course_aggregates", start, err)
		return err
	}
	_, err = stmt.ExecContext(ctx, courseID, now)
	metrics.ObserveDBQuery("insert", "course_aggregates", start, err)
	if err != nil {
		return fmt.Errorf("failed to ensure aggregate row: %w", err)
	}
	return nil
}

// GetAggregate returns the stored aggregate for a course. A course with
// no row yet yields the zero-valued aggregate rather than an error, so
// reads for unknown courses stay well-defined.
func (db *DB) GetAggregate(ctx context.Context, courseID string) (*models.CourseAggregate, error) {
	start := time.Now()

	stmt, err := db.getStmt(ctx,
		`SELECT course_id, views_count, completion_count, completion_rate,
			total_ratings, rating_sum, average_rating,
			CAST(revenue AS DOUBLE),
			updated_at, last_reconciled_at
		 FROM course_aggregates WHERE course_id = ?`)
	if err != nil {
		metrics.ObserveDBQuery("select", "course_aggregates", start, err)
		return nil, err
	}

	var (
		agg        models.CourseAggregate
		reconciled sql.NullTime
	)
	err = stmt.QueryRowContext(ctx, courseID).Scan(
		&agg.CourseID, &agg.ViewsCount, &agg.CompletionCount, &agg.CompletionRate,
		&agg.TotalRatings, &agg.RatingSum, &agg.AverageRating, &agg.Revenue,
		&agg.UpdatedAt, &reconciled,
	)
	metrics.ObserveDBQuery("select", "course_aggregates", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		zero := models.ZeroAggregate(courseID)
		return &zero, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregate: %w", err)
	}
	if reconciled.Valid {
		agg.LastReconciledAt = reconciled.Time
	}

	return &agg, nil
}

// AggregateBaseline returns the raw counters checkpointed for a course
// when retention pruned its events from the log. Courses that never
// lost events yield the zero baseline. Reconciliation folds the
// surviving log on top of this, so recomputed aggregates keep covering
// the full ingested history.
func (db *DB) AggregateBaseline(ctx context.Context, courseID string) (models.CourseAggregate, error) {
	start := time.Now()
	base := models.ZeroAggregate(courseID)

	stmt, err := db.getStmt(ctx,
		`SELECT views_count, completion_count, total_ratings, rating_sum,
			CAST(revenue AS DOUBLE)
		 FROM aggregate_baselines WHERE course_id = ?`)
	if err != nil {
		metrics.ObserveDBQuery("select", "aggregate_baselines", start, err)
		return base, err
	}

	err = stmt.QueryRowContext(ctx, courseID).Scan(
		&base.ViewsCount, &base.CompletionCount,
		&base.TotalRatings, &base.RatingSum, &base.Revenue,
	)
	metrics.ObserveDBQuery("select", "aggregate_baselines", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("failed to read aggregate baseline: %w", err)
	}

	return base, nil
}

// OverwriteAggregate replaces a course's aggregate row with recomputed
// values and stamps last_reconciled_at. Only reconciliation calls this;
// it takes the same per-course lock as ApplyDelta so an incremental
// accumulate cannot interleave with the replace.
func (db *DB) OverwriteAggregate(ctx context.Context, agg *models.CourseAggregate, reconciledAt time.Time) error {
	mu := db.acquireCourseLock(agg.CourseID)
	defer mu.Unlock()

	start := time.Now()

	stmt, err := db.getStmt(ctx,
		`INSERT INTO course_aggregates
			(course_id, views_count, completion_count, completion_rate,
			 total_ratings, rating_sum, average_rating, revenue,
			 updated_at, last_reconciled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (course_id) DO UPDATE SET
			views_count = excluded.views_count,
			completion_count = excluded.completion_count,
			completion_rate = excluded.completion_rate,
			total_ratings = excluded.total_ratings,
			rating_sum = excluded.rating_sum,
			average_rating = excluded.average_rating,
			revenue = excluded.revenue,
			updated_at = excluded.updated_at,
			last_reconciled_at = excluded.last_reconciled_at`)
	if err != nil {
		metrics.ObserveDBQuery("upsert", "course_aggregates", start, err)
		return err
	}

	_, err = stmt.ExecContext(ctx,
		agg.CourseID, agg.ViewsCount, agg.CompletionCount, agg.CompletionRate,
		agg.TotalRatings, agg.RatingSum, agg.AverageRating, agg.Revenue,
		reconciledAt.UTC(), reconciledAt.UTC(),
	)
	metrics.ObserveDBQuery("upsert", "course_aggregates", start, err)
	if err != nil {
		return fmt.Errorf("failed to overwrite aggregate: %w", err)
	}

	return nil
}

// RollingWindowStats computes activity for a course over the trailing
// window directly from the event log. FILTER clauses keep it to a
// single scan of the course's rows.
func (db *DB) RollingWindowStats(ctx context.Context, courseID string, windowDays int) (*models.RollingWindowStats, error) {
	start := time.Now()
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	stmt, err := db.getStmt(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE event_type = 'view'),
			COUNT(*) FILTER (WHERE event_type = 'complete'),
			COUNT(*) FILTER (WHERE event_type = 'rate'),
			COALESCE(SUM(rating) FILTER (WHERE event_type = 'rate'), 0),
			COALESCE(SUM(amount) FILTER (WHERE event_type = 'purchase'), 0)
		 FROM engagement_events
		 WHERE course_id = ? AND recorded_at >= ?`)
	if err != nil {
		metrics.ObserveDBQuery("select", "engagement_events", start, err)
		return nil, err
	}

	var (
		stats     models.RollingWindowStats
		ratingSum int64
	)
	err = stmt.QueryRowContext(ctx, courseID, since).Scan(
		&stats.Views, &stats.Completions, &stats.Ratings, &ratingSum, &stats.Revenue,
	)
	metrics.ObserveDBQuery("select", "engagement_events", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to compute window stats: %w", err)
	}

	stats.WindowDays = windowDays
	stats.AverageRating = models.AverageRatingOf(ratingSum, stats.Ratings)

	return &stats, nil
}
