package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"brandgen/internal/domain"
	"brandgen/internal/infra"
	"brandgen/internal/sqlinline"
)

// Postgres is the durable domain.JobStore. Every update is guarded by the
// permitted source states in its WHERE clause; a zero-row update is resolved
// by reloading the job to report the precise reason.
type Postgres struct {
	sql infra.SQLExecutor
}

func NewPostgres(sql infra.SQLExecutor) *Postgres {
	return &Postgres{sql: sql}
}

func (p *Postgres) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return domain.Invalid("job", "id required")
	}
	_, err := p.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID, job.OwnerID, job.EntityID, string(job.Type), []byte(job.Payload),
		job.MaxRetries, job.Priority, job.SupersedesID, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(p.sql.QueryRow(ctx, sqlinline.QSelectJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (p *Postgres) ListByEntity(ctx context.Context, entityID string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.sql.Query(ctx, sqlinline.QListJobsByEntity, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (p *Postgres) Start(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	job, err := scanJob(p.sql.QueryRow(ctx, sqlinline.QStartJob, id, at.UTC()))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, p.explain(ctx, id)
		}
		return nil, err
	}
	return job, nil
}

func (p *Postgres) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := p.sql.Exec(ctx, sqlinline.QUpdateJobProgress, id, clampProgress(progress))
	return err
}

func (p *Postgres) RecordModel(ctx context.Context, id, model string, cost float64) error {
	tag, err := p.sql.Exec(ctx, sqlinline.QRecordJobModel, id, model, cost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) Complete(ctx context.Context, id string, result *domain.JobResult, at time.Time) error {
	if result == nil {
		return domain.Invalid("result", "required")
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	tag, err := p.sql.Exec(ctx, sqlinline.QCompleteJob, id, raw, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.explain(ctx, id)
	}
	return nil
}

func (p *Postgres) Requeue(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(p.sql.QueryRow(ctx, sqlinline.QRequeueJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, p.explain(ctx, id)
		}
		return nil, err
	}
	return job, nil
}

func (p *Postgres) Fail(ctx context.Context, id, reason, code string, at time.Time) error {
	if reason == "" || code == "" {
		return domain.Invalid("error", "failed jobs need a message and code")
	}
	tag, err := p.sql.Exec(ctx, sqlinline.QFailJob, id, reason, code, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.explain(ctx, id)
	}
	return nil
}

func (p *Postgres) RequestCancel(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	job, err := scanJob(p.sql.QueryRow(ctx, sqlinline.QRequestCancelJob, id, at.UTC()))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, p.explain(ctx, id)
		}
		return nil, err
	}
	return job, nil
}

func (p *Postgres) Cancel(ctx context.Context, id string, at time.Time) error {
	tag, err := p.sql.Exec(ctx, sqlinline.QCancelJob, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.explain(ctx, id)
	}
	return nil
}

// explain turns a guarded update that matched nothing into a domain error.
func (p *Postgres) explain(ctx context.Context, id string) error {
	job, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.CancelRequested && job.Status == domain.JobStatusProcessing {
		return domain.ErrCancelled
	}
	return transitionError(job.Status)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		j            domain.Job
		jobType      string
		status       string
		payload      []byte
		result       []byte
		errMsg       *string
		errCode      *string
		modelUsed    *string
		supersedesID *string
	)
	if err := row.Scan(
		&j.ID, &j.OwnerID, &j.EntityID, &jobType, &status, &j.Progress, &payload, &result, &errMsg,
		&errCode, &j.RetryCount, &j.MaxRetries, &modelUsed, &j.Cost, &j.Priority,
		&j.CancelRequested, &supersedesID, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Type = domain.TaskType(jobType)
	j.Status = domain.JobStatus(status)
	j.Payload = json.RawMessage(payload)
	if len(result) > 0 {
		var r domain.JobResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		j.Result = &r
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	if errCode != nil {
		j.ErrorCode = *errCode
	}
	if modelUsed != nil {
		j.ModelUsed = *modelUsed
	}
	j.SupersedesID = supersedesID
	return &j, nil
}

var _ domain.JobStore = (*Postgres)(nil)
