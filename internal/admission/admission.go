// Package admission is the single synchronous entry point for new jobs. It
// validates the request, rate-limits the caller, debits one credit and hands
// the job to its queue.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"brandgen/internal/broadcast"
	"brandgen/internal/domain"
	"brandgen/internal/infra"
	"brandgen/internal/infra/geoip"
	"brandgen/internal/ledger"
	"brandgen/internal/queue"
)

// Request is one job submission.
type Request struct {
	OwnerID      string
	EntityID     *string
	TaskType     domain.TaskType
	Payload      json.RawMessage
	Priority     *int
	SupersedesID *string
	// Country is the caller's ISO country when the edge already knows it;
	// otherwise ClientIP is resolved through the GeoIP database.
	Country  string
	ClientIP string
}

// Admitted is returned once the job is durably queued.
type Admitted struct {
	JobID  string
	Status domain.JobStatus
	Job    *domain.Job
}

type Options struct {
	Ledger ledger.Ledger
	Store  domain.JobStore
	Queue  queue.Queue
	// Audit and Geo are optional.
	Audit domain.AuditRecorder
	Geo   geoip.CountryResolver
	// Events receives the cancellation of queued jobs. Optional.
	Events broadcast.Publisher

	RatePerMinute int
	RateBurst     int

	Logger *infra.Logger
	Now    func() time.Time
}

type Controller struct {
	ledger  ledger.Ledger
	store   domain.JobStore
	queue   queue.Queue
	audit   domain.AuditRecorder
	geo     geoip.CountryResolver
	events  broadcast.Publisher
	limiter *userLimiter
	logger  *infra.Logger
	now     func() time.Time
}

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		ledger:  opts.Ledger,
		store:   opts.Store,
		queue:   opts.Queue,
		audit:   opts.Audit,
		geo:     opts.Geo,
		events:  opts.Events,
		limiter: newUserLimiter(opts.RatePerMinute, opts.RateBurst),
		logger:  logger,
		now:     now,
	}
}

// Admit validates, debits and enqueues. Nothing is written before validation
// and the rate limit pass; a debit whose job never reaches the queue is
// released again.
func (c *Controller) Admit(ctx context.Context, req Request) (*Admitted, error) {
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		return nil, domain.ErrUnauthorized
	}
	if _, err := ValidatePayload(req.TaskType, req.Payload); err != nil {
		return nil, err
	}
	spec, ok := queue.SpecFor(req.TaskType)
	if !ok {
		return nil, domain.Invalid("taskType", fmt.Sprintf("no queue serves %q", req.TaskType))
	}
	now := c.now()
	if !c.limiter.Allow(owner, now) {
		return nil, domain.ErrRateLimited
	}

	creditType := domain.CreditTypeFor(req.TaskType)
	debit, ok, err := c.ledger.CheckAndDebit(ctx, owner, creditType, 1)
	if err != nil {
		return nil, fmt.Errorf("admission: debit: %w", err)
	}
	if !ok {
		return nil, domain.ErrCreditsExhausted
	}

	priority := domain.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	job := domain.NewJob(owner, normalizeID(req.EntityID), req.TaskType, req.Payload, priority, now)
	job.SupersedesID = normalizeID(req.SupersedesID)

	log := c.logger.With().Str("job_id", job.ID).Str("user_id", owner).Str("queue", spec.Name).Logger()
	if err := c.store.Create(ctx, job); err != nil {
		c.release(ctx, debit, log)
		return nil, fmt.Errorf("admission: create job: %w", err)
	}
	if err := c.queue.Enqueue(ctx, spec.Name, queue.Message{JobID: job.ID, Priority: job.Priority}); err != nil {
		c.release(ctx, debit, log)
		// The job row stays behind as cancelled so it never looks pending.
		if cerr := c.store.Cancel(context.WithoutCancel(ctx), job.ID, c.now()); cerr != nil {
			log.Error().Err(cerr).Msg("admission: cancel unqueued job")
		}
		return nil, fmt.Errorf("admission: enqueue: %w", err)
	}

	log.Info().Str("type", string(job.Type)).Int("priority", job.Priority).Msg("admission: job queued")
	c.recordAudit(ctx, job, creditType, req)
	return &Admitted{JobID: job.ID, Status: job.Status, Job: job}, nil
}

// Regenerate admits a fresh job with the same request as a previous one.
// It costs a credit like any other admission.
func (c *Controller) Regenerate(ctx context.Context, ownerID, jobID, clientIP string) (*Admitted, error) {
	prev, err := c.owned(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	priority := prev.Priority
	return c.Admit(ctx, Request{
		OwnerID:      ownerID,
		EntityID:     prev.EntityID,
		TaskType:     prev.Type,
		Payload:      prev.Payload,
		Priority:     &priority,
		SupersedesID: &prev.ID,
		ClientIP:     clientIP,
	})
}

// Cancel requests cancellation. A queued job is cancelled and pulled off its
// queue at once; a processing job is flagged and stops at its next phase
// boundary. No credit is refunded.
func (c *Controller) Cancel(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	if _, err := c.owned(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	job, err := c.store.RequestCancel(ctx, jobID, c.now())
	if err != nil {
		return nil, err
	}
	log := c.logger.With().Str("job_id", job.ID).Str("user_id", ownerID).Logger()
	if job.Status != domain.JobStatusCancelled {
		log.Info().Msg("admission: cancel requested for running job")
		return job, nil
	}
	if spec, ok := queue.SpecFor(job.Type); ok {
		if _, err := c.queue.Remove(ctx, spec.Name, job.ID); err != nil {
			// The worker skips cancelled jobs on delivery anyway.
			log.Warn().Err(err).Msg("admission: remove cancelled job from queue")
		}
	}
	if c.events != nil {
		ev := domain.EventFromJob(job)
		if err := c.events.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("admission: publish cancel event")
		}
	}
	log.Info().Msg("admission: queued job cancelled")
	return job, nil
}

// owned loads a job and hides jobs of other users behind ErrNotFound.
func (c *Controller) owned(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.ErrUnauthorized
	}
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (c *Controller) release(ctx context.Context, debit ledger.Debit, log zerolog.Logger) {
	if err := c.ledger.Release(context.WithoutCancel(ctx), debit); err != nil {
		log.Error().Err(err).Str("entry_id", debit.EntryID).Msg("admission: release debit")
	}
}

func (c *Controller) recordAudit(ctx context.Context, job *domain.Job, creditType domain.CreditType, req Request) {
	if c.audit == nil {
		return
	}
	rec := domain.AuditRecord{
		UserID:  job.OwnerID,
		Action:  "job.admitted",
		JobID:   job.ID,
		Country: c.country(req),
		Properties: map[string]any{
			"task_type":   string(job.Type),
			"credit_type": string(creditType),
			"priority":    job.Priority,
			"cost":        0,
		},
		At: job.CreatedAt,
	}
	if job.SupersedesID != nil {
		rec.Properties["supersedes_id"] = *job.SupersedesID
	}
	if err := c.audit.RecordAudit(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("admission: audit record")
	}
}

func (c *Controller) country(req Request) string {
	if req.Country != "" {
		return strings.ToUpper(req.Country)
	}
	ip := req.ClientIP
	if c.geo == nil || ip == "" {
		return ""
	}
	code, err := c.geo.CountryCode(ip)
	if err != nil {
		if !errors.Is(err, geoip.ErrUnavailable) {
			c.logger.Debug().Err(err).Str("ip", ip).Msg("admission: geoip lookup")
		}
		return ""
	}
	return code
}

func normalizeID(id *string) *string {
	if id == nil {
		return nil
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return nil
	}
	return &v
}
