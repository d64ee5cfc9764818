// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package ingest

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying ingestion outcomes. Handlers map these to
// HTTP statuses; everything else surfaces as an internal error.
var (
	// ErrInvalidEvent marks payloads that fail structural or semantic
	// validation. Nothing is written for these.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrSubjectNotFound marks events naming a course the catalog does
	// not know. Only returned when a catalog is wired.
	ErrSubjectNotFound = errors.New("course not found")

	// ErrPersistence marks a failed event log append. The event is lost
	// and the caller should retry.
	ErrPersistence = errors.New("event persistence failed")

	// ErrLoggedNotAggregated marks the degraded path: the event is
	// durably in the log but the aggregate accumulate failed or the
	// breaker was open. Reconciliation repairs the aggregate later.
	ErrLoggedNotAggregated = errors.New("event logged but not aggregated")
)

// InvalidEventError wraps a validation failure with the offending detail.
type InvalidEventError struct {
	Reason error
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event: %v", e.Reason)
}

func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

// Detail returns the underlying validation error.
func (e *InvalidEventError) Detail() error { return e.Reason }
