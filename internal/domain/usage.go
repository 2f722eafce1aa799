package domain

import (
	"context"
	"time"
)

// UsageRecord describes one provider attempt.
type UsageRecord struct {
	JobID        string
	TaskType     TaskType
	Provider     string
	Model        string
	Success      bool
	Latency      time.Duration
	Cost         float64
	InputTokens  int
	OutputTokens int
	ErrorCode    string
	At           time.Time
}

// AuditRecord is an append-only trail entry for user-facing actions.
type AuditRecord struct {
	UserID     string
	Action     string
	JobID      string
	Country    string
	Properties map[string]any
	At         time.Time
}

// UsageRecorder persists provider attempts.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// AuditRecorder persists audit records.
type AuditRecorder interface {
	RecordAudit(ctx context.Context, rec AuditRecord) error
}
