// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

// Package models defines the engagement event and course aggregate types
// shared across storage, ingestion, and the API.
package models

import (
	"time"
)

// EventKind identifies the type of engagement event.
type EventKind string

// Engagement event kinds.
const (
	// KindView indicates a course page view.
	KindView EventKind = "view"
	// KindComplete indicates a course completion.
	KindComplete EventKind = "complete"
	// KindRate indicates a course rating (1-5).
	KindRate EventKind = "rate"
	// KindPurchase indicates a course purchase with an amount.
	KindPurchase EventKind = "purchase"
)

// KnownKind reports whether k is a recognized event kind.
func KnownKind(k EventKind) bool {
	switch k {
	case KindView, KindComplete, KindRate, KindPurchase:
		return true
	default:
		return false
	}
}

// Rating bounds for rate events.
const (
	RatingMin = 1
	RatingMax = 5
)

// Event is one immutable record of a user action against a course.
// Events are append-only: once written they are never mutated, and only
// the retention pruner may delete rows older than the configured horizon.
type Event struct {
	// ID is the storage-assigned sequence value (monotonic per arrival).
	ID int64 `json:"id"`

	// CourseID identifies the course the event pertains to.
	CourseID string `json:"course_id"`

	// Kind is one of view, complete, rate, purchase.
	Kind EventKind `json:"event_type"`

	// ActorID identifies the acting user. Empty when the actor is unknown
	// or was deleted later; ownership is a weak reference.
	ActorID string `json:"actor_id,omitempty"`

	// Rating is the 1-5 rating for rate events; 0 otherwise.
	Rating int `json:"rating,omitempty"`

	// Amount is the non-negative purchase amount for purchase events; 0 otherwise.
	Amount float64 `json:"amount,omitempty"`

	// OccurredAt is the caller-supplied event time. Defaults to ingestion
	// time when the caller omits it.
	OccurredAt time.Time `json:"timestamp"`

	// RecordedAt is the ingestion (arrival) time. Rolling windows and
	// retention use this, not OccurredAt.
	RecordedAt time.Time `json:"recorded_at"`
}

// HasPayload reports whether this kind carries a payload field.
// view and complete carry none; extraneous fields on them are ignored.
func (k EventKind) HasPayload() bool {
	return k == KindRate || k == KindPurchase
}
