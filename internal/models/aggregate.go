// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package models

import (
	"math"
	"time"
)

// CourseAggregate is the derived, mutable per-course summary computed
// from events. At any point in time it equals the deterministic fold of
// every event for its course ingested so far, regardless of arrival
// order or concurrency (the fold is commutative: sums and counts).
type CourseAggregate struct {
	CourseID string `json:"course_id"`

	ViewsCount      int64 `json:"views_count"`
	CompletionCount int64 `json:"completion_count"`

	// CompletionRate is completion_count / views_count * 100,
	// 0 when views_count == 0, clamped to 100.
	CompletionRate float64 `json:"completion_rate"`

	TotalRatings int64 `json:"total_ratings"`
	RatingSum    int64 `json:"rating_sum"`

	// AverageRating is rating_sum / total_ratings, 0 when total_ratings == 0.
	AverageRating float64 `json:"average_rating"`

	// Revenue is the accumulated purchase total.
	Revenue float64 `json:"revenue"`

	// UpdatedAt is the time of the last mutation.
	UpdatedAt time.Time `json:"updated_at"`

	// LastReconciledAt is the snapshot time of the last successful full
	// recompute from the event log. Zero until the first reconciliation.
	// Retention may only prune events older than this.
	LastReconciledAt time.Time `json:"-"`
}

// ZeroAggregate returns the zero-valued aggregate for a course.
// Readers of unknown courses see this, never an error.
func ZeroAggregate(courseID string) CourseAggregate {
	return CourseAggregate{CourseID: courseID}
}

// CompletionRateOf computes the completion rate from raw counters.
// The same expression runs server-side in the incremental update path,
// so the fold and the storage expression must stay in lockstep.
func CompletionRateOf(completions, views int64) float64 {
	if views <= 0 {
		return 0
	}
	rate := float64(completions) * 100.0 / float64(views)
	return math.Min(rate, 100.0)
}

// AverageRatingOf computes the average rating from raw counters.
func AverageRatingOf(ratingSum, totalRatings int64) float64 {
	if totalRatings <= 0 {
		return 0
	}
	return float64(ratingSum) / float64(totalRatings)
}

// Apply folds one event into the aggregate. Events of unknown kinds are
// ignored; validation happens before events reach storage.
func (a *CourseAggregate) Apply(ev Event) {
	switch ev.Kind {
	case KindView:
		a.ViewsCount++
	case KindComplete:
		a.CompletionCount++
	case KindRate:
		a.TotalRatings++
		a.RatingSum += int64(ev.Rating)
	case KindPurchase:
		a.Revenue += ev.Amount
	}
	a.CompletionRate = CompletionRateOf(a.CompletionCount, a.ViewsCount)
	a.AverageRating = AverageRatingOf(a.RatingSum, a.TotalRatings)
}

// FoldEvents computes a fresh aggregate from an event sequence.
// This is the authoritative computation used by reconciliation; the
// incremental update path approximates it between runs.
func FoldEvents(courseID string, events []Event) CourseAggregate {
	return FoldEventsFrom(ZeroAggregate(courseID), events)
}

// FoldEventsFrom folds events on top of a baseline of raw counters.
// The baseline carries history whose events retention has pruned from
// the log; derived fields are recomputed from the combined counters so
// the result still equals the fold of the full history.
func FoldEventsFrom(base CourseAggregate, events []Event) CourseAggregate {
	agg := base
	for _, ev := range events {
		agg.Apply(ev)
	}
	agg.CompletionRate = CompletionRateOf(agg.CompletionCount, agg.ViewsCount)
	agg.AverageRating = AverageRatingOf(agg.RatingSum, agg.TotalRatings)
	return agg
}

// StatsEqual reports whether two aggregates carry identical statistics,
// ignoring timestamps. Used to detect drift during reconciliation.
func (a *CourseAggregate) StatsEqual(b *CourseAggregate) bool {
	return a.CourseID == b.CourseID &&
		a.ViewsCount == b.ViewsCount &&
		a.CompletionCount == b.CompletionCount &&
		a.CompletionRate == b.CompletionRate &&
		a.TotalRatings == b.TotalRatings &&
		a.RatingSum == b.RatingSum &&
		a.AverageRating == b.AverageRating &&
		a.Revenue == b.Revenue
}

// CourseSummary is the cached projection served by GET /analytics/courses/{id}.
type CourseSummary struct {
	CourseID       string    `json:"course_id"`
	ViewsCount     int64     `json:"views_count"`
	CompletionRate float64   `json:"completion_rate"`
	AverageRating  float64   `json:"average_rating"`
	Revenue        float64   `json:"revenue"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary projects the aggregate into the public summary shape.
func (a *CourseAggregate) Summary() CourseSummary {
	return CourseSummary{
		CourseID:       a.CourseID,
		ViewsCount:     a.ViewsCount,
		CompletionRate: a.CompletionRate,
		AverageRating:  a.AverageRating,
		Revenue:        a.Revenue,
		UpdatedAt:      a.UpdatedAt,
	}
}

// RollingWindowStats carries last-N-days figures computed from the event log.
type RollingWindowStats struct {
	WindowDays    int     `json:"window_days"`
	Views         int64   `json:"views"`
	Completions   int64   `json:"completions"`
	Ratings       int64   `json:"ratings"`
	AverageRating float64 `json:"average_rating"`
	Revenue       float64 `json:"revenue"`
}

// CourseDetail is the extended projection served by
// GET /analytics/courses/{id}/detail.
type CourseDetail struct {
	CourseSummary
	TotalRatings    int64              `json:"total_ratings"`
	CompletionCount int64              `json:"completion_count"`
	Window          RollingWindowStats `json:"rolling_window"`
}
