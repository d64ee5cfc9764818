// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/coursemetry/internal/logging"
	"github.com/tomtom215/coursemetry/internal/metrics"
	"github.com/tomtom215/coursemetry/internal/models"
)

// AppendEvent writes one event to the append-only log and returns the
// assigned sequence id. The log is the source of truth; aggregate rows
// are always recomputable from it.
func (db *DB) AppendEvent(ctx context.Context, ev *models.Event) (int64, error) {
	start := time.Now()

	query := `INSERT INTO engagement_events
		(course_id, event_type, actor_id, rating, amount, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		metrics.ObserveDBQuery("insert", "engagement_events", start, err)
		return 0, err
	}

	var rating sql.NullInt32
	if ev.Kind == models.KindRate {
		rating = sql.NullInt32{Int32: int32(ev.Rating), Valid: true}
	}
	var amount sql.NullFloat64
	if ev.Kind == models.KindPurchase {
		amount = sql.NullFloat64{Float64: ev.Amount, Valid: true}
	}
	var actor sql.NullString
	if ev.ActorID != "" {
		actor = sql.NullString{String: ev.ActorID, Valid: true}
	}

	var id int64
	err = stmt.QueryRowContext(ctx,
		ev.CourseID, string(ev.Kind), actor, rating, amount,
		ev.OccurredAt.UTC(), ev.RecordedAt.UTC(),
	).Scan(&id)
	metrics.ObserveDBQuery("insert", "engagement_events", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}

	ev.ID = id
	return id, nil
}

// QueryEvents returns events for a course recorded in [since, until),
// ordered by sequence id. A zero since or until leaves that bound open.
func (db *DB) QueryEvents(ctx context.Context, courseID string, since, until time.Time) ([]models.Event, error) {
	start := time.Now()

	query := `SELECT id, course_id, event_type, actor_id, rating, amount, occurred_at, recorded_at
		FROM engagement_events
		WHERE course_id = ?`
	args := []any{courseID}

	if !since.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, since.UTC())
	}
	if !until.IsZero() {
		query += ` AND recorded_at < ?`
		args = append(args, until.UTC())
	}
	query += ` ORDER BY id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.ObserveDBQuery("select", "engagement_events", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func scanEvent(rows *sql.Rows) (models.Event, error) {
	var (
		ev     models.Event
		kind   string
		actor  sql.NullString
		rating sql.NullInt32
		amount sql.NullFloat64
	)
	err := rows.Scan(&ev.ID, &ev.CourseID, &kind, &actor, &rating, &amount,
		&ev.OccurredAt, &ev.RecordedAt)
	if err != nil {
		return ev, fmt.Errorf("failed to scan event: %w", err)
	}
	ev.Kind = models.EventKind(kind)
	if actor.Valid {
		ev.ActorID = actor.String
	}
	if rating.Valid {
		ev.Rating = int(rating.Int32)
	}
	if amount.Valid {
		ev.Amount = amount.Float64
	}
	return ev, nil
}

// TouchedSubjects returns the distinct course ids with events recorded
// in [since, now). Used by the incremental refresh job to bound its
// reconciliation set.
func (db *DB) TouchedSubjects(ctx context.Context, since time.Time) ([]string, error) {
	start := time.Now()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT course_id FROM engagement_events WHERE recorded_at >= ? ORDER BY course_id`,
		since.UTC())
	metrics.ObserveDBQuery("select", "engagement_events", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query touched subjects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSubjectIDs(rows)
}

// AllSubjects returns every course id present in either the event log
// or the aggregate store.
func (db *DB) AllSubjects(ctx context.Context) ([]string, error) {
	start := time.Now()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT course_id FROM engagement_events
		 UNION
		 SELECT course_id FROM course_aggregates
		 ORDER BY course_id`)
	metrics.ObserveDBQuery("select", "engagement_events", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSubjectIDs(rows)
}

func scanSubjectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan course id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating course ids: %w", err)
	}
	return ids, nil
}

// pruneGuard restricts pruning to courses whose aggregate row carries a
// last_reconciled_at at or after the cutoff. Events a reconciliation
// pass has not yet folded are never pruned.
const pruneGuard = `e.recorded_at < ?
	   AND EXISTS (
		SELECT 1 FROM course_aggregates a
		WHERE a.course_id = e.course_id
		  AND a.last_reconciled_at IS NOT NULL
		  AND a.last_reconciled_at >= ?
	   )`

// PruneEvents deletes reconciled events recorded before the cutoff.
// Before deleting, the doomed events' raw counters are folded into the
// per-course baseline in the same transaction, so a later full
// recompute still accounts for the pruned history.
func (db *DB) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO aggregate_baselines
			(course_id, views_count, completion_count, total_ratings,
			 rating_sum, revenue, pruned_through)
		 SELECT e.course_id,
			COUNT(*) FILTER (WHERE e.event_type = 'view'),
			COUNT(*) FILTER (WHERE e.event_type = 'complete'),
			COUNT(*) FILTER (WHERE e.event_type = 'rate'),
			COALESCE(SUM(e.rating) FILTER (WHERE e.event_type = 'rate'), 0),
			COALESCE(SUM(e.amount) FILTER (WHERE e.event_type = 'purchase'), 0),
			?
		 FROM engagement_events e
		 WHERE `+pruneGuard+`
		 GROUP BY e.course_id
		 ON CONFLICT (course_id) DO UPDATE SET
			views_count = views_count + excluded.views_count,
			completion_count = completion_count + excluded.completion_count,
			total_ratings = total_ratings + excluded.total_ratings,
			rating_sum = rating_sum + excluded.rating_sum,
			revenue = revenue + excluded.revenue,
			pruned_through = excluded.pruned_through`,
		cutoff.UTC(), cutoff.UTC(), cutoff.UTC())
	metrics.ObserveDBQuery("upsert", "aggregate_baselines", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to checkpoint pruned history: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM engagement_events e WHERE `+pruneGuard,
		cutoff.UTC(), cutoff.UTC())
	metrics.ObserveDBQuery("delete", "engagement_events", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune transaction: %w", err)
	}
	if pruned > 0 {
		metrics.EventsPruned.Add(float64(pruned))
		logging.Info().
			Int64("pruned", pruned).
			Time("cutoff", cutoff).
			Msg("Pruned events past retention horizon")
	}

	return pruned, nil
}
