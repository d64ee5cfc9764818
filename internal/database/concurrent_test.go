// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package database

import (
	"context"
	"sync"
	"testing"

	"github.com/tomtom215/coursemetry/internal/models"
)

// Concurrent accumulates on one course must not lose updates: N
// concurrent views leave views_count == N.
func TestConcurrentApplyDeltaLosesNothing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errCh := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := db.ApplyDelta(ctx, testEvent("course-1", models.KindView)); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("ApplyDelta() failed: %v", err)
	}

	agg, err := db.GetAggregate(ctx, "course-1")
	if err != nil {
		t.Fatalf("GetAggregate() failed: %v", err)
	}
	if agg.ViewsCount != n {
		t.Errorf("ViewsCount = %d after %d concurrent views, want %d", agg.ViewsCount, n, n)
	}
}

// Mixed kinds across goroutines must converge to the same totals as a
// sequential fold of the same events.
func TestConcurrentMixedDeltasConverge(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const perKind = 20
	kinds := []models.EventKind{
		models.KindView, models.KindComplete, models.KindRate, models.KindPurchase,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, perKind*len(kinds))
	for _, kind := range kinds {
		for i := 0; i < perKind; i++ {
			wg.Add(1)
			go func(k models.EventKind) {
				defer wg.Done()
				if err := db.ApplyDelta(ctx, testEvent("course-1", k)); err != nil {
					errCh <- err
				}
			}(kind)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("ApplyDelta() failed: %v", err)
	}

	agg, err := db.GetAggregate(ctx, "course-1")
	if err != nil {
		t.Fatalf("GetAggregate() failed: %v", err)
	}
	if agg.ViewsCount != perKind {
		t.Errorf("ViewsCount = %d, want %d", agg.ViewsCount, perKind)
	}
	if agg.CompletionCount != perKind {
		t.Errorf("CompletionCount = %d, want %d", agg.CompletionCount, perKind)
	}
	if agg.TotalRatings != perKind {
		t.Errorf("TotalRatings = %d, want %d", agg.TotalRatings, perKind)
	}
	if agg.RatingSum != perKind*4 {
		t.Errorf("RatingSum = %d, want %d", agg.RatingSum, perKind*4)
	}
	if agg.Revenue != perKind*49.99 {
		t.Errorf("Revenue = %v, want %v", agg.Revenue, perKind*49.99)
	}
	if agg.CompletionRate != 100 {
		t.Errorf("CompletionRate = %v, want 100", agg.CompletionRate)
	}
	if agg.AverageRating != 4 {
		t.Errorf("AverageRating = %v, want 4", agg.AverageRating)
	}
}

// Writers on distinct courses must not interfere with each other.
func TestConcurrentDistinctCourses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const courses = 10
	const viewsEach = 10

	var wg sync.WaitGroup
	errCh := make(chan error, courses*viewsEach)
	for c := 0; c < courses; c++ {
		for i := 0; i < viewsEach; i++ {
			wg.Add(1)
			go func(courseID string) {
				defer wg.Done()
				if err := db.ApplyDelta(ctx, testEvent(courseID, models.KindView)); err != nil {
					errCh <- err
				}
			}(courseIDFor(c))
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("ApplyDelta() failed: %v", err)
	}

	for c := 0; c < courses; c++ {
		agg, err := db.GetAggregate(ctx, courseIDFor(c))
		if err != nil {
			t.Fatalf("GetAggregate() failed: %v", err)
		}
		if agg.ViewsCount != viewsEach {
			t.Errorf("course %d ViewsCount = %d, want %d", c, agg.ViewsCount, viewsEach)
		}
	}
}

func courseIDFor(n int) string {
	return "course-" + string(rune('a'+n))
}
