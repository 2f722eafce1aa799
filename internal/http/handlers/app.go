package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"brandgen/internal/admission"
	"brandgen/internal/artifacts"
	"brandgen/internal/audit"
	"brandgen/internal/broadcast"
	"brandgen/internal/domain"
	"brandgen/internal/infra"
	"brandgen/internal/ledger"
	"brandgen/internal/middleware"
	"brandgen/internal/queue"
)

// UsageReporter aggregates recorded provider attempts.
type UsageReporter interface {
	UsageSince(ctx context.Context, since time.Time) ([]audit.ModelUsage, error)
}

type App struct {
	Config    *infra.Config
	Logger    *infra.Logger
	Admission *admission.Controller
	Jobs      domain.JobStore
	Ledger    ledger.Ledger
	Queue     queue.Queue
	Hub       *broadcast.Hub
	Artifacts artifacts.Store
	// Usage is optional; the memory backend has no usage table.
	Usage    UsageReporter
	Upgrader websocket.Upgrader
	// Heartbeat overrides the SSE/WebSocket keepalive period.
	Heartbeat time.Duration
	// Checks are probed by the health endpoint.
	Checks map[string]func(context.Context) error
	// CountryLookup resolves client IPs when no edge header names a country.
	CountryLookup middleware.CountryLookup
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	middleware.WriteError(w, status, code, message)
}

// fail maps err onto the error envelope by its stable code.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		msg = "internal error"
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		msg = verr.Error()
	}
	a.error(w, status, code, msg)
}

func statusFor(code string) int {
	switch code {
	case domain.CodeValidation, domain.CodeInvalidPayload:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeCreditsExhausted:
		return http.StatusPaymentRequired
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeJobTerminal:
		return http.StatusConflict
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// loadJobForUser hides other users' jobs behind NOT_FOUND.
func (a *App) loadJobForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	job, err := a.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}
