package exchange

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass partitions gateway failures by how callers should react.
type ErrorClass int

const (
	// ClassRateLimited: retry after long exponential backoff.
	ClassRateLimited ErrorClass = iota
	// ClassServerError: transient 5xx or network failure, retry with short backoff.
	ClassServerError
	// ClassValidation: the request itself is wrong (bad side, off-tick price,
	// reduce-only without a position). Never retried blindly.
	ClassValidation
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassServerError:
		return "server_error"
	case ClassValidation:
		return "validation"
	}
	return "unknown"
}

// APIError is a classified gateway failure.
type APIError struct {
	Class      ErrorClass
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pacifica %s status %d (%s): %s", e.Endpoint, e.StatusCode, e.Class, e.Message)
}

// Retryable reports whether the failure may resolve on its own.
func (e *APIError) Retryable() bool {
	return e.Class != ClassValidation
}

// classify maps an HTTP status to an error class.
func classify(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 500:
		return ClassServerError
	default:
		return ClassValidation
	}
}

// ErrCircuitOpen is returned while the circuit breaker cooldown is active.
var ErrCircuitOpen = errors.New("exchange circuit open: cooling down after consecutive failures")

// IsValidation reports whether err is a non-retryable validation failure.
func IsValidation(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Class == ClassValidation
}

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Class == ClassRateLimited
}
