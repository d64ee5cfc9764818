// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package database

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/coursemetry/internal/models"
)

func TestAppendEventAssignsMonotonicIDs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 5; i++ {
		id, err := db.AppendEvent(ctx, testEvent("course-1", models.KindView))
		if err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
		if id <= lastID {
			t.Errorf("id %d not greater than previous %d", id, lastID)
		}
		lastID = id
	}
}

func TestQueryEventsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	want := []*models.Event{
		testEvent("course-1", models.KindView),
		testEvent("course-1", models.KindRate),
		testEvent("course-1", models.KindPurchase),
		testEvent("course-2", models.KindComplete),
	}
	for _, ev := range want {
		if _, err := db.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
	}

	got, err := db.QueryEvents(ctx, "course-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}

	if got[0].Kind != models.KindView {
		t.Errorf("event 0 kind = %s, want view", got[0].Kind)
	}
	if got[1].Kind != models.KindRate || got[1].Rating != 4 {
		t.Errorf("event 1 = %+v, want rate with rating 4", got[1])
	}
	if got[2].Kind != models.KindPurchase || got[2].Amount != 49.99 {
		t.Errorf("event 2 = %+v, want purchase with amount 49.99", got[2])
	}
	for i, ev := range got {
		if ev.CourseID != "course-1" {
			t.Errorf("event %d course = %s, want course-1", i, ev.CourseID)
		}
		if ev.ActorID != "actor-1" {
			t.Errorf("event %d actor = %s, want actor-1", i, ev.ActorID)
		}
	}
}

func TestQueryEventsRespectsBounds(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ev := testEvent("course-1", models.KindView)
		ev.RecordedAt = base.Add(time.Duration(i) * time.Hour)
		if _, err := db.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
	}

	got, err := db.QueryEvents(ctx, "course-1", base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d events in [base+1h, base+3h), want 2", len(got))
	}
}

func TestTouchedSubjects(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	old := testEvent("course-old", models.KindView)
	old.RecordedAt = base
	recent := testEvent("course-new", models.KindView)
	recent.RecordedAt = base.Add(2 * time.Hour)

	for _, ev := range []*models.Event{old, recent} {
		if _, err := db.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
	}

	got, err := db.TouchedSubjects(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("TouchedSubjects() failed: %v", err)
	}
	if len(got) != 1 || got[0] != "course-new" {
		t.Errorf("TouchedSubjects() = %v, want [course-new]", got)
	}
}

func TestAllSubjectsUnionsLogAndAggregates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// course-a only in the log, course-b only in the aggregate store.
	if _, err := db.AppendEvent(ctx, testEvent("course-a", models.KindView)); err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}
	agg := models.ZeroAggregate("course-b")
	if err := db.OverwriteAggregate(ctx, &agg, time.Now()); err != nil {
		t.Fatalf("OverwriteAggregate() failed: %v", err)
	}

	got, err := db.AllSubjects(ctx)
	if err != nil {
		t.Fatalf("AllSubjects() failed: %v", err)
	}
	if len(got) != 2 || got[0] != "course-a" || got[1] != "course-b" {
		t.Errorf("AllSubjects() = %v, want [course-a course-b]", got)
	}
}

func TestPruneEventsRequiresReconciliation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	stale := testEvent("course-1", models.KindView)
	stale.RecordedAt = cutoff.Add(-48 * time.Hour)
	if _, err := db.AppendEvent(ctx, stale); err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}

	// No aggregate row yet: nothing may be pruned.
	pruned, err := db.PruneEvents(ctx, cutoff)
	if err != nil {
		t.Fatalf("PruneEvents() failed: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("pruned %d events before reconciliation, want 0", pruned)
	}

	// Reconciled before the cutoff: still protected.
	agg := models.FoldEvents("course-1", []models.Event{*stale})
	if err := db.OverwriteAggregate(ctx, &agg, cutoff.Add(-time.Hour)); err != nil {
		t.Fatalf("OverwriteAggregate() failed: %v", err)
	}
	pruned, err = db.PruneEvents(ctx, cutoff)
	if err != nil {
		t.Fatalf("PruneEvents() failed: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("pruned %d events reconciled before cutoff, want 0", pruned)
	}

	// Reconciled at the cutoff or later: the stale event may go.
	if err := db.OverwriteAggregate(ctx, &agg, cutoff); err != nil {
		t.Fatalf("OverwriteAggregate() failed: %v", err)
	}
	pruned, err = db.PruneEvents(ctx, cutoff)
	if err != nil {
		t.Fatalf("PruneEvents() failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d events, want 1", pruned)
	}

	remaining, err := db.QueryEvents(ctx, "course-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("%d events remain after prune, want 0", len(remaining))
	}
}

func TestPruneEventsCheckpointsBaseline(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	stale := []models.Event{}
	for _, kind := range []models.EventKind{
		models.KindView, models.KindView, models.KindComplete,
		models.KindRate, models.KindPurchase,
	} {
		ev := testEvent("course-1", kind)
		ev.RecordedAt = cutoff.Add(-48 * time.Hour)
		if _, err := db.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() failed: %v", err)
		}
		stale = append(stale, *ev)
	}

	agg := models.FoldEvents("course-1", stale)
	if err := db.OverwriteAggregate(ctx, &agg, cutoff); err != nil {
		t.Fatalf("OverwriteAggregate() failed: %v", err)
	}

	pruned, err := db.PruneEvents(ctx, cutoff)
	if err != nil {
		t.Fatalf("PruneEvents() failed: %v", err)
	}
	if pruned != 5 {
		t.Fatalf("pruned %d events, want 5", pruned)
	}

	base, err := db.AggregateBaseline(ctx, "course-1")
	if err != nil {
		t.Fatalf("AggregateBaseline() failed: %v", err)
	}
	if base.ViewsCount != 2 || base.CompletionCount != 1 {
		t.Errorf("baseline views/completions = %d/%d, want 2/1",
			base.ViewsCount, base.CompletionCount)
	}
	if base.TotalRatings != 1 || base.RatingSum != 4 {
		t.Errorf("baseline ratings = %d/%d, want 1/4", base.TotalRatings, base.RatingSum)
	}
	if base.Revenue != 49.99 {
		t.Errorf("baseline revenue = %v, want 49.99", base.Revenue)
	}

	// A repeat prune with nothing left to delete must not inflate the
	// baseline.
	if _, err := db.PruneEvents(ctx, cutoff); err != nil {
		t.Fatalf("second PruneEvents() failed: %v", err)
	}
	again, err := db.AggregateBaseline(ctx, "course-1")
	if err != nil {
		t.Fatalf("AggregateBaseline() failed: %v", err)
	}
	if !base.StatsEqual(&again) {
		t.Errorf("repeat prune changed baseline: %+v vs %+v", base, again)
	}
}

func TestAggregateBaselineUnknownCourseIsZero(t *testing.T) {
	db := newTestDB(t)

	base, err := db.AggregateBaseline(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("AggregateBaseline() failed: %v", err)
	}
	if base.ViewsCount != 0 || base.Revenue != 0 || base.TotalRatings != 0 {
		t.Errorf("expected zero baseline, got %+v", base)
	}
}

func TestPruneEventsKeepsRecentEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	recent := testEvent("course-1", models.KindView)
	recent.RecordedAt = cutoff.Add(time.Hour)
	if _, err := db.AppendEvent(ctx, recent); err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}
	agg := models.ZeroAggregate("course-1")
	if err := db.OverwriteAggregate(ctx, &agg, time.Now()); err != nil {
		t.Fatalf("OverwriteAggregate() failed: %v", err)
	}

	pruned, err := db.PruneEvents(ctx, cutoff)
	if err != nil {
		t.Fatalf("PruneEvents() failed: %v", err)
	}
	if pruned != 0 {
		t.Errorf("pruned %d recent events, want 0", pruned)
	}
}
