package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrValidation        = errors.New("validation failed")
	ErrCreditsExhausted  = errors.New("credits exhausted")
	ErrRateLimited       = errors.New("rate limited")
	ErrJobTerminal       = errors.New("job already terminal")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrCancelled         = errors.New("job cancelled")
)

// Stable error codes surfaced to API clients and stored on failed jobs.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeCreditsExhausted    = "CREDITS_EXHAUSTED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeJobTerminal         = "JOB_TERMINAL"
	CodeProviderTimeout     = "PROVIDER_TIMEOUT"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeProviderRateLimited = "PROVIDER_RATE_LIMITED"
	CodeProviderRejected    = "PROVIDER_REJECTED"
	CodeProviderAuth        = "PROVIDER_AUTH"
	CodeSafetyBlocked       = "SAFETY_BLOCKED"
	CodeInvalidPayload      = "INVALID_PAYLOAD"
	CodeCancelled           = "CANCELLED"
	CodeInternal            = "INTERNAL_ERROR"
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Coded is implemented by errors that carry their own code and retry class,
// such as provider failures.
type Coded interface {
	error
	ErrorCode() string
	Retryable() bool
}

// PanicError wraps a value recovered from a panicking pipeline.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Classify returns the error code stored on a failed job and whether another
// attempt could succeed.
func Classify(err error) (code string, retryable bool) {
	if err == nil {
		return "", false
	}
	var coded Coded
	if errors.As(err, &coded) {
		return coded.ErrorCode(), coded.Retryable()
	}
	var p *PanicError
	switch {
	case errors.As(err, &p):
		return CodeInternal, false
	case errors.Is(err, ErrCancelled):
		return CodeCancelled, false
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrValidation):
		return CodeInvalidPayload, false
	case errors.Is(err, context.DeadlineExceeded):
		return CodeProviderTimeout, true
	}
	return CodeInternal, true
}

// CodeOf maps an error to the API code returned to callers.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrCreditsExhausted):
		return CodeCreditsExhausted
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrJobTerminal), errors.Is(err, ErrInvalidTransition):
		return CodeJobTerminal
	}
	code, _ := Classify(err)
	return code
}
