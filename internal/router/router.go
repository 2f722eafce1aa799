// Package router maps task types to provider models and executes a call with
// a single fallback hop.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"brandgen/internal/domain"
	"brandgen/internal/infra"
	"brandgen/internal/providers"
)

// Result is a successful routed call.
type Result struct {
	Output   *providers.Output
	Provider string
	Model    string
	Cost     float64
	FellBack bool
}

// ModelUsed is the "provider/model" label stored on the job.
func (r *Result) ModelUsed() string { return r.Provider + "/" + r.Model }

// Error reports that both the primary and the fallback failed. It unwraps to
// the fallback's error.
type Error struct {
	TaskType domain.TaskType
	Target   Target
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("route %s: fallback %s failed: %v", e.TaskType, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a Router.
type Options struct {
	Usage  domain.UsageRecorder
	Logger *infra.Logger
	// AttemptTimeout bounds each provider call. Zero leaves only the caller's
	// deadline.
	AttemptTimeout time.Duration
	Now            func() time.Time
}

// Router executes routed provider calls.
type Router struct {
	table          *Table
	providers      map[string]providers.Provider
	usage          domain.UsageRecorder
	logger         *infra.Logger
	tracer         trace.Tracer
	attemptTimeout time.Duration
	now            func() time.Time
}

// New validates table against the registered providers once and returns a
// router over them.
func New(table *Table, registered []providers.Provider, opts Options) (*Router, error) {
	if table == nil {
		return nil, errors.New("router: nil route table")
	}
	registry := make(map[string]providers.Provider, len(registered))
	for _, p := range registered {
		registry[p.Name()] = p
	}
	if err := table.Validate(registry); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		table:          table,
		providers:      registry,
		usage:          opts.Usage,
		logger:         logger,
		tracer:         otel.Tracer("brandgen/router"),
		attemptTimeout: opts.AttemptTimeout,
		now:            now,
	}, nil
}

// Table returns the validated route table.
func (r *Router) Table() *Table { return r.table }

// Route calls the primary target for the task and, on any failure, the
// fallback exactly once. call.Model is overwritten per attempt. When both
// fail the fallback's error is returned wrapped in *Error.
func (r *Router) Route(ctx context.Context, tt domain.TaskType, call providers.Call) (*Result, error) {
	route, ok := r.table.Lookup(tt)
	if !ok {
		return nil, domain.Invalid("taskType", fmt.Sprintf("no route for %q", tt))
	}
	call.TaskType = tt

	res, primaryErr := r.attempt(ctx, route.Primary, call)
	if primaryErr == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, primaryErr
	}
	r.logger.Warn().
		Err(primaryErr).
		Str("job_id", call.RequestID).
		Str("task_type", string(tt)).
		Str("provider", route.Primary.Provider).
		Str("model", route.Primary.Model).
		Str("fallback", route.Fallback.String()).
		Msg("router: primary failed, trying fallback")

	res, fallbackErr := r.attempt(ctx, route.Fallback, call)
	if fallbackErr != nil {
		return nil, &Error{TaskType: tt, Target: route.Fallback, Err: fallbackErr}
	}
	res.FellBack = true
	return res, nil
}

func (r *Router) attempt(ctx context.Context, target Target, call providers.Call) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "router.attempt", trace.WithAttributes(
		attribute.String("task_type", string(call.TaskType)),
		attribute.String("provider", target.Provider),
		attribute.String("model", target.Model),
		attribute.String("job_id", call.RequestID),
	))
	defer span.End()

	if r.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()
	}

	provider := r.providers[target.Provider]
	call.Model = target.Model
	started := r.now()
	out, err := provider.Call(ctx, call)
	latency := r.now().Sub(started)

	rec := domain.UsageRecord{
		JobID:    call.RequestID,
		TaskType: call.TaskType,
		Provider: target.Provider,
		Model:    target.Model,
		Success:  err == nil,
		Latency:  latency,
		At:       started,
	}
	if err == nil {
		rec.Cost = r.table.Pricing[target.Model].Cost(out.Usage)
		rec.InputTokens = out.Usage.InputTokens
		rec.OutputTokens = out.Usage.OutputTokens
		span.SetAttributes(attribute.Float64("cost", rec.Cost))
	} else {
		rec.ErrorCode = domain.CodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, rec.ErrorCode)
	}
	r.record(ctx, rec)

	if err != nil {
		return nil, err
	}
	return &Result{Output: out, Provider: target.Provider, Model: target.Model, Cost: rec.Cost}, nil
}

func (r *Router) record(ctx context.Context, rec domain.UsageRecord) {
	if r.usage == nil {
		return
	}
	// Usage accounting never fails the job.
	if err := r.usage.RecordUsage(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn().Err(err).Str("job_id", rec.JobID).Str("model", rec.Model).Msg("router: record usage failed")
	}
}
