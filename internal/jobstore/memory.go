// Package jobstore persists jobs and enforces the status state machine.
package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"brandgen/internal/domain"
)

// Memory is an in-process domain.JobStore.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{jobs: make(map[string]*domain.Job), now: now}
}

func (m *Memory) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return domain.Invalid("job", "id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return domain.Invalid("job", "duplicate id")
	}
	c := job.Clone()
	c.Status = domain.JobStatusQueued
	m.jobs[job.ID] = c
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (m *Memory) ListByEntity(ctx context.Context, entityID string, limit int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if j.EntityID != nil && *j.EntityID == entityID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// transition applies mutate when the job may move to next. The job is
// returned after mutation.
func (m *Memory) transition(id string, next domain.JobStatus, mutate func(j *domain.Job) error) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !domain.CanTransition(j.Status, next) {
		return nil, transitionError(j.Status)
	}
	if mutate != nil {
		if err := mutate(j); err != nil {
			return nil, err
		}
	}
	j.Status = next
	j.UpdatedAt = m.now().UTC()
	return j.Clone(), nil
}

func (m *Memory) Start(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	return m.transition(id, domain.JobStatusProcessing, func(j *domain.Job) error {
		if j.StartedAt == nil {
			t := at.UTC()
			j.StartedAt = &t
		}
		return nil
	})
}

func (m *Memory) UpdateProgress(ctx context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != domain.JobStatusProcessing {
		return nil
	}
	if p := clampProgress(progress); p > j.Progress {
		j.Progress = p
		j.UpdatedAt = m.now().UTC()
	}
	return nil
}

func (m *Memory) RecordModel(ctx context.Context, id, model string, cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.ModelUsed = model
	j.Cost = cost
	j.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) Complete(ctx context.Context, id string, result *domain.JobResult, at time.Time) error {
	_, err := m.transition(id, domain.JobStatusComplete, func(j *domain.Job) error {
		if j.CancelRequested {
			return domain.ErrCancelled
		}
		if result == nil {
			return domain.Invalid("result", "required")
		}
		r := *result
		j.Result = &r
		j.Progress = 100
		j.Error, j.ErrorCode = "", ""
		t := at.UTC()
		j.CompletedAt = &t
		return nil
	})
	return err
}

func (m *Memory) Requeue(ctx context.Context, id string) (*domain.Job, error) {
	return m.transition(id, domain.JobStatusQueued, func(j *domain.Job) error {
		j.RetryCount++
		j.Error, j.ErrorCode = "", ""
		return nil
	})
}

func (m *Memory) Fail(ctx context.Context, id, reason, code string, at time.Time) error {
	if reason == "" || code == "" {
		return domain.Invalid("error", "failed jobs need a message and code")
	}
	_, err := m.transition(id, domain.JobStatusFailed, func(j *domain.Job) error {
		j.Error, j.ErrorCode = reason, code
		t := at.UTC()
		j.CompletedAt = &t
		return nil
	})
	return err
}

func (m *Memory) RequestCancel(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.Status.Terminal() {
		return nil, domain.ErrJobTerminal
	}
	j.CancelRequested = true
	j.Error, j.ErrorCode = "", ""
	if j.Status == domain.JobStatusQueued {
		j.Status = domain.JobStatusCancelled
		t := at.UTC()
		j.CompletedAt = &t
	}
	j.UpdatedAt = m.now().UTC()
	return j.Clone(), nil
}

func (m *Memory) Cancel(ctx context.Context, id string, at time.Time) error {
	_, err := m.transition(id, domain.JobStatusCancelled, func(j *domain.Job) error {
		j.CancelRequested = true
		j.Error, j.ErrorCode = "", ""
		t := at.UTC()
		j.CompletedAt = &t
		return nil
	})
	return err
}

func transitionError(current domain.JobStatus) error {
	if current.Terminal() {
		return domain.ErrJobTerminal
	}
	return domain.ErrInvalidTransition
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

var _ domain.JobStore = (*Memory)(nil)
