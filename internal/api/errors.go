package api

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind string

const (
	KindNetwork Kind = "network"
	KindTimeout Kind = "timeout"
	KindServer  Kind = "server"
	KindParse   Kind = "parse"
)

// Fallback messages used when the backend gives no structured error.
const (
	msgServerError  = "server error"
	msgTimeout      = "request timed out"
	msgNetworkError = "network error, backend unreachable"
)

// Error is the single error type returned for any failed REST call.
type Error struct {
	Kind    Kind
	Op      string // "GET /api/v1/endpoints"
	Status  int    // HTTP status, 0 when no response was received
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}
