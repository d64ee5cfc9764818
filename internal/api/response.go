// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/coursemetry/internal/logging"
)

// APIError is the error body shape for all failed requests.
type APIError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Field names the offending payload field for validation errors
	Field string `json:"field,omitempty"`

	// RequestID is the request ID for tracing
	RequestID string `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error *APIError `json:"error"`
}

// Error codes for API responses
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeConflict           = "CONFLICT"
)

// writeJSON writes a JSON response with proper headers.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes a standardized error response.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeFieldError(w, r, statusCode, code, message, "")
}

func writeFieldError(w http.ResponseWriter, r *http.Request, statusCode int, code, message, field string) {
	writeJSON(w, statusCode, errorResponse{Error: &APIError{
		Code:      code,
		Message:   message,
		Field:     field,
		RequestID: logging.RequestIDFromContext(r.Context()),
	}})
}
