package domain

import (
	"context"
	"time"
)

// JobStore persists jobs and enforces the status state machine on every write.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*Job, error)
	// Start moves a queued job to processing.
	Start(ctx context.Context, id string, at time.Time) (*Job, error)
	// UpdateProgress raises progress of a processing job; lower values are ignored.
	UpdateProgress(ctx context.Context, id string, progress int) error
	// RecordModel stores the model and cost of the latest provider call,
	// replacing earlier values.
	RecordModel(ctx context.Context, id, model string, cost float64) error
	// Complete fails with ErrCancelled when a cancel was requested meanwhile.
	Complete(ctx context.Context, id string, result *JobResult, at time.Time) error
	// Requeue returns a processing job to queued and increments its retry count.
	// The error fields are cleared; only failed jobs carry them.
	Requeue(ctx context.Context, id string) (*Job, error)
	Fail(ctx context.Context, id, reason, code string, at time.Time) error
	// RequestCancel cancels a queued job outright and flags a processing one.
	RequestCancel(ctx context.Context, id string, at time.Time) (*Job, error)
	Cancel(ctx context.Context, id string, at time.Time) error
}
