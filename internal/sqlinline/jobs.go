package sqlinline

// Every job query returns the same column list so one scanner serves them all:
// id, owner_id, entity_id, type, status, progress, payload, result, error,
// error_code, retry_count, max_retries, model_used, cost, priority,
// cancel_requested, supersedes_id, created_at, started_at, completed_at, updated_at.

const QInsertJob = `--sql 9fa8d7f8-32c3-4190-a6fb-a862ab7a64db
insert into jobs (
    id, owner_id, entity_id, type, status, progress, payload, retry_count, max_retries,
    priority, supersedes_id, created_at, updated_at
)
values (
    $1::uuid, $2::text, $3::text, $4::text, 'queued', 0, $5::jsonb, 0, $6::int,
    $7::int, $8::uuid, $9::timestamptz, $9::timestamptz
);
`

const QSelectJob = `--sql 46ae430a-c514-45e9-aca6-f2473ef186aa
select id::text, owner_id, entity_id, type, status, progress, payload, result, error,
       error_code, retry_count, max_retries, model_used, cost, priority,
       cancel_requested, supersedes_id::text, created_at, started_at, completed_at, updated_at
from jobs
where id = $1::uuid;
`

const QListJobsByEntity = `--sql be2b4511-e1fb-4665-a1e9-ab9eda4cc3a6
select id::text, owner_id, entity_id, type, status, progress, payload, result, error,
       error_code, retry_count, max_retries, model_used, cost, priority,
       cancel_requested, supersedes_id::text, created_at, started_at, completed_at, updated_at
from jobs
where entity_id = $1::text
order by created_at desc
limit $2::int;
`

const QStartJob = `--sql e0de6ee3-46bd-49e9-9988-4b9f5402b2ef
update jobs
set status = 'processing',
    started_at = coalesce(started_at, $2::timestamptz),
    updated_at = now()
where id = $1::uuid and status = 'queued'
returning id::text, owner_id, entity_id, type, status, progress, payload, result, error,
          error_code, retry_count, max_retries, model_used, cost, priority,
          cancel_requested, supersedes_id::text, created_at, started_at, completed_at, updated_at;
`

const QUpdateJobProgress = `--sql 3f66b861-ff25-4578-9891-4cf30e0e1e88
update jobs
set progress = greatest(progress, $2::int),
    updated_at = now()
where id = $1::uuid and status = 'processing';
`

const QRecordJobModel = `--sql 7e1d750e-37ae-487d-b8c6-423c477a8103
update jobs
set model_used = $2::text,
    cost = $3::numeric,
    updated_at = now()
where id = $1::uuid;
`

const QCompleteJob = `--sql 413cd8e5-ee84-43e4-b1d1-4bb0fe12b75e
update jobs
set status = 'complete',
    progress = 100,
    result = $2::jsonb,
    error = null,
    error_code = null,
    completed_at = $3::timestamptz,
    updated_at = now()
where id = $1::uuid and status = 'processing' and not cancel_requested;
`

const QRequeueJob = `--sql a499629d-d075-4f24-b16b-94b3cc855eb5
update jobs
set status = 'queued',
    retry_count = retry_count + 1,
    error = null,
    error_code = null,
    updated_at = now()
where id = $1::uuid and status = 'processing'
returning id::text, owner_id, entity_id, type, status, progress, payload, result, error,
          error_code, retry_count, max_retries, model_used, cost, priority,
          cancel_requested, supersedes_id::text, created_at, started_at, completed_at, updated_at;
`

const QFailJob = `--sql 246289b2-0203-4eca-9461-c9d3f9d6f7a0
update jobs
set status = 'failed',
    error = $2::text,
    error_code = $3::text,
    completed_at = $4::timestamptz,
    updated_at = now()
where id = $1::uuid and status = 'processing';
`

const QRequestCancelJob = `--sql 32b19074-e686-40fb-8dc5-56ab6d9f3e4f
update jobs
set status = case when status = 'queued' then 'cancelled' else status end,
    completed_at = case when status = 'queued' then $2::timestamptz else completed_at end,
    cancel_requested = true,
    error = null,
    error_code = null,
    updated_at = now()
where id = $1::uuid and status in ('queued', 'processing')
returning id::text, owner_id, entity_id, type, status, progress, payload, result, error,
          error_code, retry_count, max_retries, model_used, cost, priority,
          cancel_requested, supersedes_id::text, created_at, started_at, completed_at, updated_at;
`

const QCancelJob = `--sql eebe14da-0fbc-4432-b9fb-b6213d2faca5
update jobs
set status = 'cancelled',
    cancel_requested = true,
    error = null,
    error_code = null,
    completed_at = $2::timestamptz,
    updated_at = now()
where id = $1::uuid and status in ('queued', 'processing');
`
