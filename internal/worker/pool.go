// Package worker runs the dequeue, execute, report loop for every queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"brandgen/internal/domain"
	"brandgen/internal/infra"
	"brandgen/internal/pipeline"
	"brandgen/internal/providers"
	"brandgen/internal/queue"
	"brandgen/internal/router"
)

// Options configures a Pool.
type Options struct {
	Queue     queue.Queue
	Store     domain.JobStore
	Pipelines pipeline.Registry
	// Events receives progress and terminal events. Sends never block; a
	// full channel drops the event.
	Events chan<- domain.Event
	Logger *infra.Logger
	// Queues limits the pool to some queues. Empty serves every queue.
	Queues []queue.Spec
	// Concurrency is the number of local goroutines per queue. Zero uses
	// each queue's fleet ceiling.
	Concurrency  int
	PollInterval time.Duration
	// Heartbeat is the lease renewal period.
	Heartbeat time.Duration
	Now       func() time.Time
}

// Pool executes jobs from the queue.
type Pool struct {
	queue        queue.Queue
	store        domain.JobStore
	pipelines    pipeline.Registry
	events       chan<- domain.Event
	logger       *infra.Logger
	specs        []queue.Spec
	concurrency  int
	pollInterval time.Duration
	heartbeat    time.Duration
	tracer       trace.Tracer
	now          func() time.Time
}

// New builds a pool.
func New(opts Options) *Pool {
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	specs := opts.Queues
	if len(specs) == 0 {
		specs = queue.Specs()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 20 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pool{
		queue:        opts.Queue,
		store:        opts.Store,
		pipelines:    opts.Pipelines,
		events:       opts.Events,
		logger:       logger,
		specs:        specs,
		concurrency:  opts.Concurrency,
		pollInterval: poll,
		heartbeat:    heartbeat,
		tracer:       otel.Tracer("brandgen/worker"),
		now:          now,
	}
}

// Run serves every configured queue until ctx ends.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, spec := range p.specs {
		n := p.concurrency
		if n <= 0 {
			n = spec.Concurrency
		}
		for i := 0; i < n; i++ {
			spec, slot := spec, i
			g.Go(func() error {
				p.loop(ctx, spec, slot)
				return nil
			})
		}
		p.logger.Info().Str("queue", spec.Name).Int("goroutines", n).Msg("worker: serving queue")
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, spec queue.Spec, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.RunOnce(ctx, spec)
		if err != nil && ctx.Err() == nil {
			p.logger.Error().Err(err).Str("queue", spec.Name).Int("slot", slot).Msg("worker: iteration failed")
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

// RunOnce dequeues and fully handles at most one delivery. It reports whether
// a delivery was taken.
func (p *Pool) RunOnce(ctx context.Context, spec queue.Spec) (bool, error) {
	d, err := p.queue.Dequeue(ctx, spec.Name)
	if errors.Is(err, queue.ErrEmpty) || errors.Is(err, queue.ErrSaturated) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, p.handle(ctx, spec, d)
}

func (p *Pool) handle(ctx context.Context, spec queue.Spec, d *queue.Delivery) error {
	log := p.logger.With().Str("queue", spec.Name).Str("job_id", d.JobID).Int("attempt", d.Attempt).Logger()

	job, err := p.store.Get(ctx, d.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("worker: job missing, dropping delivery")
		return p.queue.Ack(ctx, d)
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	switch {
	case job.Status.Terminal():
		log.Info().Str("status", string(job.Status)).Msg("worker: job already terminal, skipping")
		return p.queue.Ack(ctx, d)
	case job.Status == domain.JobStatusQueued:
		job, err = p.store.Start(ctx, job.ID, p.now())
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrJobTerminal) {
			log.Info().Err(err).Msg("worker: job changed before start, skipping")
			return p.queue.Ack(ctx, d)
		}
		if err != nil {
			return fmt.Errorf("start job: %w", err)
		}
	case job.CancelRequested:
		return p.cancel(ctx, d, job, log)
	default:
		log.Info().Msg("worker: resuming redelivered job")
	}

	ctx, span := p.tracer.Start(ctx, "worker.execute", trace.WithAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("task_type", string(job.Type)),
		attribute.Int("attempt", d.Attempt),
		attribute.Int("retry_count", job.RetryCount),
	))
	defer span.End()

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	stopHeartbeat := p.startHeartbeat(runCtx, d, cancelRun, log)
	outcome, runErr := p.execute(runCtx, job)
	stopHeartbeat()

	if errors.Is(context.Cause(runCtx), queue.ErrLeaseLost) {
		log.Warn().Msg("worker: lease lost during execution; leaving job to its new owner")
		return nil
	}
	// Finalize even when shutdown cancelled ctx.
	fctx := context.WithoutCancel(ctx)
	if runErr != nil && ctx.Err() != nil && errors.Is(runErr, context.Canceled) {
		log.Info().Msg("worker: shutting down, releasing job for redelivery")
		return p.queue.Nack(fctx, d, 0)
	}
	if runErr == nil {
		return p.complete(fctx, d, job, outcome, log)
	}
	span.RecordError(runErr)
	span.SetStatus(codes.Error, runErr.Error())
	return p.fail(fctx, spec, d, job, runErr, log)
}

// execute runs the pipeline and converts a panic into a fatal error.
func (p *Pool) execute(ctx context.Context, job *domain.Job) (out *pipeline.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("job_id", job.ID).
				Str("task_type", string(job.Type)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker: pipeline panic")
			out, err = nil, &domain.PanicError{Value: r}
		}
	}()
	pl, err := p.pipelines.Lookup(job.Type)
	if err != nil {
		return nil, err
	}
	return pl.Run(ctx, job, &reporter{pool: p, job: job})
}

func (p *Pool) startHeartbeat(ctx context.Context, d *queue.Delivery, cancel context.CancelCauseFunc, log zerolog.Logger) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := p.queue.Touch(ctx, d)
				if errors.Is(err, queue.ErrLeaseLost) {
					cancel(queue.ErrLeaseLost)
					return
				}
				if err != nil {
					log.Warn().Err(err).Msg("worker: lease heartbeat failed")
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (p *Pool) complete(ctx context.Context, d *queue.Delivery, job *domain.Job, out *pipeline.Outcome, log zerolog.Logger) error {
	if err := p.store.RecordModel(ctx, job.ID, out.ModelUsed, out.Cost); err != nil {
		return fmt.Errorf("record model: %w", err)
	}
	err := p.store.Complete(ctx, job.ID, out.Result, p.now())
	if errors.Is(err, domain.ErrCancelled) {
		return p.cancel(ctx, d, job, log)
	}
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	log.Info().Str("model", out.ModelUsed).Float64("cost", out.Cost).Bool("reused", out.Reused).Msg("worker: job complete")

	ev := p.baseEvent(job, domain.EventComplete, domain.JobStatusComplete, pipeline.PhaseDone.Progress)
	ev.Message = pipeline.PhaseDone.Name
	ev.Result = out.Result
	p.emit(ev)
	return p.ack(ctx, d, log)
}

// cancel finalizes a cancelled job. The event carries the stored progress,
// which may be ahead of the copy the caller holds.
func (p *Pool) cancel(ctx context.Context, d *queue.Delivery, job *domain.Job, log zerolog.Logger) error {
	if err := p.store.Cancel(ctx, job.ID, p.now()); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
		return fmt.Errorf("cancel job: %w", err)
	}
	progress := job.Progress
	if current, err := p.store.Get(ctx, job.ID); err == nil {
		progress = current.Progress
	} else {
		log.Warn().Err(err).Msg("worker: reload cancelled job")
	}
	log.Info().Int("progress", progress).Msg("worker: job cancelled")
	p.emit(p.baseEvent(job, domain.EventCancelled, domain.JobStatusCancelled, progress))
	return p.ack(ctx, d, log)
}

func (p *Pool) fail(ctx context.Context, spec queue.Spec, d *queue.Delivery, job *domain.Job, runErr error, log zerolog.Logger) error {
	if errors.Is(runErr, domain.ErrCancelled) {
		return p.cancel(ctx, d, job, log)
	}
	current, err := p.store.Get(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	if current.CancelRequested {
		return p.cancel(ctx, d, current, log)
	}

	if model := failedModel(runErr); model != "" {
		if err := p.store.RecordModel(ctx, job.ID, model, 0); err != nil {
			log.Warn().Err(err).Str("model", model).Msg("worker: record failed model")
		}
	}

	code, retryable := domain.Classify(runErr)
	msg := runErr.Error()
	if retryable && current.RetryCount < current.MaxRetries {
		delay := spec.Backoff(current.RetryCount)
		requeued, err := p.store.Requeue(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		if err := p.queue.Nack(ctx, d, delay); err != nil {
			return fmt.Errorf("nack: %w", err)
		}
		log.Warn().Err(runErr).Str("code", code).Int("retry_count", requeued.RetryCount).Dur("delay", delay).Msg("worker: job will retry")
		ev := p.baseEvent(requeued, domain.EventRetrying, domain.JobStatusQueued, requeued.Progress)
		ev.Error, ev.ErrorCode = msg, code
		yes := true
		ev.Retryable = &yes
		p.emit(ev)
		return nil
	}

	if err := p.store.Fail(ctx, job.ID, msg, code, p.now()); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	log.Error().Err(runErr).Str("code", code).Bool("retryable", retryable).Int("retry_count", current.RetryCount).Msg("worker: job failed")
	ev := p.baseEvent(current, domain.EventFailed, domain.JobStatusFailed, current.Progress)
	ev.Error, ev.ErrorCode = msg, code
	no := false
	ev.Retryable = &no
	p.emit(ev)
	return p.ack(ctx, d, log)
}

// failedModel names the provider model whose call produced err: the fallback
// target when both route targets failed, else the provider that answered.
func failedModel(err error) string {
	var rerr *router.Error
	if errors.As(err, &rerr) {
		return rerr.Target.String()
	}
	var perr *providers.Error
	if errors.As(err, &perr) && perr.Provider != "" {
		return perr.Provider + "/" + perr.Model
	}
	return ""
}

func (p *Pool) ack(ctx context.Context, d *queue.Delivery, log zerolog.Logger) error {
	err := p.queue.Ack(ctx, d)
	if errors.Is(err, queue.ErrLeaseLost) {
		log.Warn().Msg("worker: ack after lease expiry; redelivery will see a terminal job")
		return nil
	}
	return err
}

func (p *Pool) baseEvent(job *domain.Job, kind domain.EventKind, status domain.JobStatus, progress int) domain.Event {
	ev := domain.Event{
		Kind:     kind,
		JobID:    job.ID,
		Type:     job.Type,
		Status:   status,
		Progress: progress,
		At:       p.now(),
	}
	if job.EntityID != nil {
		ev.EntityID = *job.EntityID
	}
	return ev
}

func (p *Pool) emit(ev domain.Event) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn().Str("job_id", ev.JobID).Str("kind", string(ev.Kind)).Msg("worker: event channel full, dropping event")
	}
}

// reporter persists phase progress, emits it, and observes cancel requests.
type reporter struct {
	pool *Pool
	job  *domain.Job
}

func (r *reporter) Phase(ctx context.Context, ph pipeline.Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := r.pool.store.Get(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("check cancel: %w", err)
	}
	if current.CancelRequested || current.Status == domain.JobStatusCancelled {
		return domain.ErrCancelled
	}
	if err := r.pool.store.UpdateProgress(ctx, r.job.ID, ph.Progress); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	ev := r.pool.baseEvent(r.job, domain.EventProgress, domain.JobStatusProcessing, ph.Progress)
	ev.Message = ph.Name
	r.pool.emit(ev)
	return nil
}
