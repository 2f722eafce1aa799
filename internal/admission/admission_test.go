package admission

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"brandgen/internal/domain"
	"brandgen/internal/jobstore"
	"brandgen/internal/ledger"
	"brandgen/internal/queue"
)

type auditSink struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (a *auditSink) RecordAudit(_ context.Context, rec domain.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

type eventSink struct {
	events []domain.Event
}

func (e *eventSink) Publish(_ context.Context, ev domain.Event) error {
	e.events = append(e.events, ev)
	return nil
}

type staticGeo struct{ code string }

func (s staticGeo) CountryCode(string) (string, error) { return s.code, nil }

// brokenQueue fails every enqueue.
type brokenQueue struct{ queue.Queue }

func (brokenQueue) Enqueue(context.Context, string, queue.Message) error {
	return errors.New("redis: connection refused")
}

type fixture struct {
	ctrl   *Controller
	ledger *ledger.Memory
	store  *jobstore.Memory
	queue  *queue.Redis
	audit  *auditSink
	events *eventSink
	now    time.Time
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 4, 14, 8, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := &fixture{
		ledger: ledger.NewMemory(clock),
		store:  jobstore.NewMemory(clock),
		queue:  queue.NewRedis(rdb, queue.WithClock(clock)),
		audit:  &auditSink{},
		events: &eventSink{},
		now:    now,
	}
	if err := f.ledger.Refill(context.Background(), "user-1", domain.TierFree); err != nil {
		t.Fatalf("Refill: %v", err)
	}
	opts := Options{
		Ledger:        f.ledger,
		Store:         f.store,
		Queue:         f.queue,
		Audit:         f.audit,
		Geo:           staticGeo{code: "ID"},
		Events:        f.events,
		RatePerMinute: 600,
		RateBurst:     100,
		Now:           clock,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.ctrl = New(opts)
	return f
}

func (f *fixture) remaining(t *testing.T, ct domain.CreditType) int {
	t.Helper()
	balances, err := f.ledger.Summary(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	for _, b := range balances {
		if b.CreditType == ct {
			return b.Remaining
		}
	}
	return 0
}

func logoRequest() Request {
	entity := "brand-7"
	return Request{
		OwnerID:  "user-1",
		EntityID: &entity,
		TaskType: domain.TaskLogo,
		Payload:  json.RawMessage(`{"brandName":"Kopi Senja","style":"minimal","colors":["#112233"]}`),
		ClientIP: "203.0.113.9",
	}
}

func TestAdmitQueuesJobAndDebits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	admitted, err := f.ctrl.Admit(ctx, logoRequest())
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if admitted.Status != domain.JobStatusQueued || admitted.JobID == "" {
		t.Fatalf("unexpected admission %+v", admitted)
	}
	job, err := f.store.Get(ctx, admitted.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != domain.JobStatusQueued || job.Priority != domain.DefaultPriority || job.EntityID == nil || *job.EntityID != "brand-7" {
		t.Fatalf("unexpected job %+v", job)
	}
	if got := f.remaining(t, domain.CreditLogo); got != ledger.Allotment(domain.TierFree, domain.CreditLogo)-1 {
		t.Fatalf("remaining = %d", got)
	}
	spec, _ := queue.SpecFor(domain.TaskLogo)
	d, err := f.queue.Dequeue(ctx, spec.Name)
	if err != nil || d.JobID != job.ID {
		t.Fatalf("Dequeue = %+v, %v", d, err)
	}
	if len(f.audit.records) != 1 {
		t.Fatalf("audit records = %d", len(f.audit.records))
	}
	rec := f.audit.records[0]
	if rec.Action != "job.admitted" || rec.Country != "ID" || rec.JobID != job.ID || rec.Properties["credit_type"] != "logo" {
		t.Fatalf("unexpected audit record %+v", rec)
	}
}

func TestAdmitExhaustedCredits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	allot := ledger.Allotment(domain.TierFree, domain.CreditLogo)
	for i := 0; i < allot; i++ {
		if _, err := f.ctrl.Admit(ctx, logoRequest()); err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
	}
	_, err := f.ctrl.Admit(ctx, logoRequest())
	if !errors.Is(err, domain.ErrCreditsExhausted) || domain.CodeOf(err) != domain.CodeCreditsExhausted {
		t.Fatalf("expected credits exhausted, got %v", err)
	}
	spec, _ := queue.SpecFor(domain.TaskLogo)
	stats, err := f.queue.Stats(ctx, spec.Name)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Ready != int64(allot) {
		t.Fatalf("ready = %d, want %d", stats.Ready, allot)
	}
}

func TestAdmitValidationConsumesNoCredit(t *testing.T) {
	big := `{"brandName":"` + strings.Repeat("a", MaxPayloadBytes) + `"}`
	tests := []struct {
		name  string
		mut   func(*Request)
		field string
	}{
		{"unknown task type", func(r *Request) { r.TaskType = "poster" }, "taskType"},
		{"missing payload", func(r *Request) { r.Payload = nil }, "payload"},
		{"oversized payload", func(r *Request) { r.Payload = json.RawMessage(big) }, "payload"},
		{"unknown field", func(r *Request) { r.Payload = json.RawMessage(`{"brandName":"x","font":"serif"}`) }, "payload"},
		{"required field", func(r *Request) { r.Payload = json.RawMessage(`{"style":"minimal"}`) }, "brandName"},
		{"enum", func(r *Request) { r.Payload = json.RawMessage(`{"brandName":"x","style":"grunge"}`) }, "style"},
		{"nested dive", func(r *Request) { r.Payload = json.RawMessage(`{"brandName":"x","colors":["blue"]}`) }, "colors[0]"},
		{"locale", func(r *Request) { r.Payload = json.RawMessage(`{"brandName":"x","locale":"not a tag!"}`) }, "locale"},
	}
	f := newFixture(t, nil)
	before := f.remaining(t, domain.CreditLogo)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := logoRequest()
			tc.mut(&req)
			_, err := f.ctrl.Admit(context.Background(), req)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("field = %q, want %q", verr.Field, tc.field)
			}
			if domain.CodeOf(err) != domain.CodeValidation {
				t.Fatalf("code = %s", domain.CodeOf(err))
			}
		})
	}
	if got := f.remaining(t, domain.CreditLogo); got != before {
		t.Fatalf("validation consumed credit: %d -> %d", before, got)
	}
}

func TestAdmitRequiresOwner(t *testing.T) {
	f := newFixture(t, nil)
	req := logoRequest()
	req.OwnerID = "  "
	if _, err := f.ctrl.Admit(context.Background(), req); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAdmitRateLimitedBeforeDebit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.RatePerMinute = 1
		o.RateBurst = 1
	})
	ctx := context.Background()
	if _, err := f.ctrl.Admit(ctx, logoRequest()); err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	before := f.remaining(t, domain.CreditLogo)
	_, err := f.ctrl.Admit(ctx, logoRequest())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if got := f.remaining(t, domain.CreditLogo); got != before {
		t.Fatalf("rate-limited request consumed credit")
	}
}

func TestAdmitReleasesDebitWhenEnqueueFails(t *testing.T) {
	f := newFixture(t, nil)
	f.ctrl.queue = brokenQueue{Queue: f.queue}
	before := f.remaining(t, domain.CreditLogo)

	_, err := f.ctrl.Admit(context.Background(), logoRequest())
	if err == nil || domain.CodeOf(err) != domain.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if got := f.remaining(t, domain.CreditLogo); got != before {
		t.Fatalf("debit not released: %d -> %d", before, got)
	}
	if len(f.audit.records) != 0 {
		t.Fatalf("failed admission was audited")
	}
}

func TestRegenerateLinksPreviousJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first, err := f.ctrl.Admit(ctx, logoRequest())
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	again, err := f.ctrl.Regenerate(ctx, "user-1", first.JobID, "")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if again.JobID == first.JobID || again.Job.SupersedesID == nil || *again.Job.SupersedesID != first.JobID {
		t.Fatalf("unexpected regeneration %+v", again.Job)
	}
	if got := f.remaining(t, domain.CreditLogo); got != ledger.Allotment(domain.TierFree, domain.CreditLogo)-2 {
		t.Fatalf("regeneration should cost a credit, remaining = %d", got)
	}
	if _, err := f.ctrl.Regenerate(ctx, "user-2", first.JobID, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign regenerate err = %v", err)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	admitted, err := f.ctrl.Admit(ctx, logoRequest())
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	before := f.remaining(t, domain.CreditLogo)

	job, err := f.ctrl.Cancel(ctx, "user-1", admitted.JobID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s", job.Status)
	}
	spec, _ := queue.SpecFor(domain.TaskLogo)
	if _, err := f.queue.Dequeue(ctx, spec.Name); !errors.Is(err, queue.ErrEmpty) {
		t.Fatalf("cancelled job still queued: %v", err)
	}
	if len(f.events.events) != 1 || f.events.events[0].Kind != domain.EventCancelled {
		t.Fatalf("events = %+v", f.events.events)
	}
	if got := f.remaining(t, domain.CreditLogo); got != before {
		t.Fatalf("cancel refunded credit")
	}
	if _, err := f.ctrl.Cancel(ctx, "user-1", admitted.JobID); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestCancelProcessingJobOnlyFlags(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	admitted, err := f.ctrl.Admit(ctx, logoRequest())
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if _, err := f.store.Start(ctx, admitted.JobID, f.now); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job, err := f.ctrl.Cancel(ctx, "user-1", admitted.JobID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Status != domain.JobStatusProcessing || !job.CancelRequested {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("running job cancel emitted events")
	}
}

func TestUserLimiterRefills(t *testing.T) {
	l := newUserLimiter(60, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !l.Allow("u", now) || !l.Allow("u", now) {
		t.Fatalf("burst not honoured")
	}
	if l.Allow("u", now) {
		t.Fatalf("limit not enforced")
	}
	if !l.Allow("other", now) {
		t.Fatalf("limits leak across users")
	}
	if !l.Allow("u", now.Add(time.Second)) {
		t.Fatalf("token not refilled after a second")
	}
	var unlimited *userLimiter
	if !unlimited.Allow("u", now) {
		t.Fatalf("nil limiter must allow")
	}
}
