// Package providers adapts external generation APIs to one calling contract.
// Providers are opaque HTTP endpoints; routing and fallback live in the
// router package.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"brandgen/internal/domain"
)

// Call is one generation request addressed to a specific model.
type Call struct {
	TaskType       domain.TaskType
	Model          string
	Prompt         string
	NegativePrompt string
	System         string
	AspectRatio    string
	Quantity       int
	DurationSec    int
	Locale         string
	References     []string
	RequestID      string
}

// Asset is one binary output.
type Asset struct {
	Data   []byte
	URL    string
	MIME   string
	Width  int
	Height int
}

// Usage is what the provider reports, or what the adapter can infer, about
// the resources an attempt consumed.
type Usage struct {
	InputTokens  int
	OutputTokens int
	// Units counts images for image models and seconds for video models.
	Units float64
}

// Output is a successful provider response.
type Output struct {
	Assets []Asset
	Text   string
	Usage  Usage
}

// Provider is implemented by every model backend.
type Provider interface {
	Name() string
	Call(ctx context.Context, call Call) (*Output, error)
}

// Capable is implemented by providers that serve only some task types.
type Capable interface {
	Supports(t domain.TaskType) bool
}

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindRateLimited ErrorKind = "rate_limited"
	KindRejected    ErrorKind = "rejected"
	KindSafety      ErrorKind = "safety"
	KindAuth        ErrorKind = "auth"
	KindBadResponse ErrorKind = "bad_response"
)

// Error is a classified provider failure.
type Error struct {
	Provider string
	Model    string
	Status   int
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s/%s: %s (status %d): %v", e.Provider, e.Model, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt could succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindUnavailable, KindRateLimited, KindBadResponse:
		return true
	}
	return false
}

// ErrorCode maps the kind to the code stored on failed jobs.
func (e *Error) ErrorCode() string {
	switch e.Kind {
	case KindTimeout:
		return domain.CodeProviderTimeout
	case KindRateLimited:
		return domain.CodeProviderRateLimited
	case KindRejected:
		return domain.CodeProviderRejected
	case KindSafety:
		return domain.CodeSafetyBlocked
	case KindAuth:
		return domain.CodeProviderAuth
	}
	return domain.CodeProviderUnavailable
}

var safetyMarkers = []string{"safety", "blocked", "datainspectionfailed", "content_policy", "moderation"}

// FromStatus classifies an HTTP error response.
func FromStatus(provider, model string, status int, msg string) *Error {
	kind := KindRejected
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status >= http.StatusInternalServerError:
		kind = KindUnavailable
	case looksLikeSafety(msg):
		kind = KindSafety
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Provider: provider, Model: model, Status: status, Kind: kind, Err: errors.New(msg)}
}

// FromTransport classifies an error raised before any response arrived.
func FromTransport(provider, model string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	kind := KindUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Provider: provider, Model: model, Kind: kind, Err: err}
}

// Safety builds a safety-block error for responses that arrive with 200 but
// carry a block reason.
func Safety(provider, model, reason string) *Error {
	return &Error{Provider: provider, Model: model, Kind: KindSafety, Err: errors.New(reason)}
}

// BadResponse builds an error for a response that could not be used.
func BadResponse(provider, model string, err error) *Error {
	return &Error{Provider: provider, Model: model, Kind: KindBadResponse, Err: err}
}

// MissingKey is returned by providers configured without credentials.
func MissingKey(provider, model string) *Error {
	return &Error{Provider: provider, Model: model, Kind: KindAuth, Err: errors.New("api key not configured")}
}

func looksLikeSafety(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range safetyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
