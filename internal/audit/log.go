package audit

import (
	"context"

	"brandgen/internal/domain"
	"brandgen/internal/infra"
)

// Log writes records to the structured log. It backs the memory store
// backend, where no database is configured.
type Log struct {
	logger *infra.Logger
}

func NewLog(logger *infra.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) RecordUsage(_ context.Context, rec domain.UsageRecord) error {
	ev := l.logger.Info()
	if !rec.Success {
		ev = l.logger.Warn().Str("code", rec.ErrorCode)
	}
	ev.Str("job_id", rec.JobID).
		Str("type", string(rec.TaskType)).
		Str("provider", rec.Provider).
		Str("model", rec.Model).
		Bool("success", rec.Success).
		Dur("latency", rec.Latency).
		Float64("cost", rec.Cost).
		Int("input_tokens", rec.InputTokens).
		Int("output_tokens", rec.OutputTokens).
		Msg("usage")
	return nil
}

func (l *Log) RecordAudit(_ context.Context, rec domain.AuditRecord) error {
	l.logger.Info().
		Str("user_id", rec.UserID).
		Str("action", rec.Action).
		Str("job_id", rec.JobID).
		Str("country", rec.Country).
		Fields(rec.Properties).
		Msg("audit")
	return nil
}

var (
	_ domain.UsageRecorder = (*Log)(nil)
	_ domain.AuditRecorder = (*Log)(nil)
)
