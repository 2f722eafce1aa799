// Package audit persists provider usage and user-facing audit trails.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brandgen/internal/domain"
	"brandgen/internal/infra"
	"brandgen/internal/sqlinline"
)

// ModelUsage aggregates attempts against one model.
type ModelUsage struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Attempts     int     `json:"attempts"`
	Failures     int     `json:"failures"`
	Cost         float64 `json:"cost"`
	AvgLatencyMS float64 `json:"avgLatencyMs"`
}

// Postgres writes usage_events and audit_events rows.
type Postgres struct {
	sql infra.SQLExecutor
}

func NewPostgres(sql infra.SQLExecutor) *Postgres {
	return &Postgres{sql: sql}
}

func (p *Postgres) RecordUsage(ctx context.Context, rec domain.UsageRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := p.sql.Exec(ctx, sqlinline.QInsertUsageEvent,
		nullableUUID(rec.JobID), string(rec.TaskType), rec.Provider, rec.Model, rec.Success,
		int(rec.Latency.Milliseconds()), rec.Cost, rec.InputTokens, rec.OutputTokens, rec.ErrorCode, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: insert usage event: %w", err)
	}
	return nil
}

func (p *Postgres) RecordAudit(ctx context.Context, rec domain.AuditRecord) error {
	var props []byte
	if len(rec.Properties) > 0 {
		b, err := json.Marshal(rec.Properties)
		if err != nil {
			return fmt.Errorf("audit: encode properties: %w", err)
		}
		props = b
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := p.sql.Exec(ctx, sqlinline.QInsertAuditEvent,
		rec.UserID, rec.Action, nullableUUID(rec.JobID), rec.Country, props, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: insert audit event: %w", err)
	}
	return nil
}

// UsageSince returns per-model attempt totals recorded at or after since.
func (p *Postgres) UsageSince(ctx context.Context, since time.Time) ([]ModelUsage, error) {
	rows, err := p.sql.Query(ctx, sqlinline.QUsageByModel, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("audit: usage by model: %w", err)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.Provider, &u.Model, &u.Attempts, &u.Failures, &u.Cost, &u.AvgLatencyMS); err != nil {
			return nil, fmt.Errorf("audit: scan usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullableUUID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

var (
	_ domain.UsageRecorder = (*Postgres)(nil)
	_ domain.AuditRecorder = (*Postgres)(nil)
)
