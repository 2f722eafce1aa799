package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	"brandgen/internal/domain"
)

func newJob(t *testing.T, store domain.JobStore) *domain.Job {
	t.Helper()
	job := domain.NewJob("owner-1", nil, domain.TaskLogo, json.RawMessage(`{"brandName":"Acme"}`), 5, time.Now())
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func TestMemoryLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	job := newJob(t, store)

	started, err := store.Start(ctx, job.ID, time.Now())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != domain.JobStatusProcessing || started.StartedAt == nil {
		t.Fatalf("unexpected started job %+v", started)
	}
	if err := store.UpdateProgress(ctx, job.ID, 40); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := store.Complete(ctx, job.ID, &domain.JobResult{ArtifactURL: "http://x/0.png"}, time.Now()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != domain.JobStatusComplete || got.Progress != 100 || got.Result == nil || got.CompletedAt == nil {
		t.Fatalf("unexpected completed job %+v", got)
	}
	if err := store.UpdateProgress(ctx, job.ID, 10); err != nil {
		t.Fatalf("UpdateProgress on terminal job: %v", err)
	}
	if got, _ := store.Get(ctx, job.ID); got.Progress != 100 {
		t.Fatalf("terminal progress changed to %d", got.Progress)
	}
}

func TestMemoryProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	job := newJob(t, store)
	_, _ = store.Start(ctx, job.ID, time.Now())

	for _, p := range []int{10, 40, 20, 80, 5, 80} {
		_ = store.UpdateProgress(ctx, job.ID, p)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Progress != 80 {
		t.Fatalf("progress = %d, want 80", got.Progress)
	}
}

func TestMemoryProgressIgnoredWhileQueued(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	job := newJob(t, store)
	_ = store.UpdateProgress(ctx, job.ID, 50)
	if got, _ := store.Get(ctx, job.ID); got.Progress != 0 {
		t.Fatalf("queued job progress = %d", got.Progress)
	}
}

func TestMemoryRequestCancel(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)

	queued := newJob(t, store)
	got, err := store.RequestCancel(ctx, queued.ID, time.Now())
	if err != nil {
		t.Fatalf("RequestCancel queued: %v", err)
	}
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("queued job not cancelled immediately: %s", got.Status)
	}

	running := newJob(t, store)
	_, _ = store.Start(ctx, running.ID, time.Now())
	got, err = store.RequestCancel(ctx, running.ID, time.Now())
	if err != nil {
		t.Fatalf("RequestCancel processing: %v", err)
	}
	if got.Status != domain.JobStatusProcessing || !got.CancelRequested {
		t.Fatalf("processing job should be flagged, got %+v", got)
	}
	if err := store.Complete(ctx, running.ID, &domain.JobResult{}, time.Now()); !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("Complete after cancel request = %v, want ErrCancelled", err)
	}
	if err := store.Cancel(ctx, running.ID, time.Now()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := store.RequestCancel(ctx, running.ID, time.Now()); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("RequestCancel on terminal = %v, want ErrJobTerminal", err)
	}
}

func TestMemoryFailRequiresCode(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	job := newJob(t, store)
	_, _ = store.Start(ctx, job.ID, time.Now())
	if err := store.Fail(ctx, job.ID, "boom", "", time.Now()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Fail without code = %v", err)
	}
	if err := store.Fail(ctx, job.ID, "boom", domain.CodeProviderRejected, time.Now()); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Error == "" || got.ErrorCode != domain.CodeProviderRejected {
		t.Fatalf("failed job missing error fields: %+v", got)
	}
}

func TestMemoryRequeueIncrementsRetryCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	job := newJob(t, store)
	_, _ = store.Start(ctx, job.ID, time.Now())
	got, err := store.Requeue(ctx, job.ID)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if got.Status != domain.JobStatusQueued || got.RetryCount != 1 {
		t.Fatalf("unexpected requeued job %+v", got)
	}
	if _, err := store.Requeue(ctx, job.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Requeue of queued job = %v", err)
	}
}

func TestMemoryRecordModelOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	job := newJob(t, store)
	for i := 0; i < 2; i++ {
		if err := store.RecordModel(ctx, job.ID, "gemini/flash", 0.04); err != nil {
			t.Fatalf("RecordModel: %v", err)
		}
	}
	got, _ := store.Get(ctx, job.ID)
	if got.ModelUsed != "gemini/flash" || got.Cost != 0.04 {
		t.Fatalf("model=%q cost=%v after repeated record", got.ModelUsed, got.Cost)
	}
}

func TestMemoryCancelLeavesNoErrorFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	job := newJob(t, store)
	_, _ = store.Start(ctx, job.ID, time.Now())
	requeued, err := store.Requeue(ctx, job.ID)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if requeued.Error != "" || requeued.ErrorCode != "" {
		t.Fatalf("requeued job carries error %q/%q", requeued.Error, requeued.ErrorCode)
	}
	_, _ = store.Start(ctx, job.ID, time.Now())
	if err := store.Cancel(ctx, job.ID, time.Now()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != domain.JobStatusCancelled || got.Error != "" || got.ErrorCode != "" {
		t.Fatalf("unexpected cancelled job %+v", got)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	if _, err := NewMemory(nil).Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing = %v", err)
	}
}

// Random operation sequences must never take a job out of a terminal state or
// lower its progress.
func TestMemoryRandomOperationsRespectStateMachine(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		store := NewMemory(nil)
		job := newJob(t, store)
		prev, _ := store.Get(ctx, job.ID)
		for step := 0; step < 30; step++ {
			switch rng.Intn(7) {
			case 0:
				_, _ = store.Start(ctx, job.ID, time.Now())
			case 1:
				_ = store.UpdateProgress(ctx, job.ID, rng.Intn(101))
			case 2:
				_ = store.Complete(ctx, job.ID, &domain.JobResult{}, time.Now())
			case 3:
				_, _ = store.Requeue(ctx, job.ID)
			case 4:
				_ = store.Fail(ctx, job.ID, "fatal", domain.CodeProviderRejected, time.Now())
			case 5:
				_, _ = store.RequestCancel(ctx, job.ID, time.Now())
			case 6:
				_ = store.Cancel(ctx, job.ID, time.Now())
			}
			cur, _ := store.Get(ctx, job.ID)
			if cur.Status != prev.Status && !domain.CanTransition(prev.Status, cur.Status) {
				t.Fatalf("illegal transition %s -> %s", prev.Status, cur.Status)
			}
			if prev.Status.Terminal() && cur.Status != prev.Status {
				t.Fatalf("left terminal state %s", prev.Status)
			}
			if cur.Status == domain.JobStatusProcessing && prev.Status == domain.JobStatusProcessing && cur.Progress < prev.Progress {
				t.Fatalf("progress decreased %d -> %d", prev.Progress, cur.Progress)
			}
			prev = cur
		}
	}
}
