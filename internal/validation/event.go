// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package validation

import (
	"fmt"

	"github.com/tomtom215/coursemetry/internal/models"
)

// EventPayload carries the kind-specific fields of an incoming event
// before validation. Pointer fields distinguish absent from zero.
type EventPayload struct {
	Rating *int
	Amount *float64
}

// ValidatedPayload is the checked, concrete payload for an accepted event.
// Rating is set for rate events, Amount for purchase events; both are
// zero for view and complete.
type ValidatedPayload struct {
	Rating int
	Amount float64
}

// MissingFieldError reports a required payload field that is absent or
// out of range. The field name is surfaced to callers verbatim.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing or invalid field %q", e.Field)
}

// UnknownKindError reports an unrecognized event kind.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown event kind %q", e.Kind)
}

// ValidateEventPayload checks structural and kind-specific validity of
// an incoming event payload. Pure function, no side effects.
//
// Rules:
//   - rate requires rating present and in [1,5]
//   - purchase requires amount present and >= 0
//   - view and complete require no payload fields; extraneous fields
//     are ignored, not rejected
//   - unrecognized kinds are rejected
func ValidateEventPayload(kind models.EventKind, p EventPayload) (ValidatedPayload, error) {
	if !models.KnownKind(kind) {
		return ValidatedPayload{}, &UnknownKindError{Kind: string(kind)}
	}

	switch kind {
	case models.KindRate:
		if p.Rating == nil || *p.Rating < models.RatingMin || *p.Rating > models.RatingMax {
			return ValidatedPayload{}, &MissingFieldError{Field: "rating"}
		}
		return ValidatedPayload{Rating: *p.Rating}, nil

	case models.KindPurchase:
		if p.Amount == nil || *p.Amount < 0 {
			return ValidatedPayload{}, &MissingFieldError{Field: "amount"}
		}
		return ValidatedPayload{Amount: *p.Amount}, nil

	default:
		// view / complete: payload fields are ignored
		return ValidatedPayload{}, nil
	}
}
