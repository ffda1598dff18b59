package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for the hard refusal paths. Callers branch on these with
// errors.Is; they never carry vendor detail.
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrBudgetExhausted = errors.New("api budget exhausted")
	ErrRateLimited     = errors.New("rate limit refused")
	ErrNoData          = errors.New("no data available")
)

// ErrorKind tags an outbound failure for policy decisions. Kinds, not types:
// the core only ever cares which bucket an error falls in.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindRateLimit  ErrorKind = "ratelimit"
	KindNoData     ErrorKind = "nodata"
	KindExternal   ErrorKind = "external"
	KindValidation ErrorKind = "validation"
)

// ValidationError reports malformed input. It fails the offending operation
// before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Classify buckets an error into an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	if errors.Is(err, ErrRateLimited) {
		return KindRateLimit
	}
	if errors.Is(err, ErrNoData) {
		return KindNoData
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return KindRateLimit
	}

	return KindExternal
}

// IsTransient reports whether an error kind is worth retrying upstream.
func IsTransient(err error) bool {
	k := Classify(err)
	return k == KindTimeout || k == KindRateLimit || k == KindExternal
}
