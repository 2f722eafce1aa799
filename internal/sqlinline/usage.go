package sqlinline

const QInsertUsageEvent = `--sql 0d1325f5-15a8-4b0a-afa0-4a19cc8df354
insert into usage_events (
    id, job_id, task_type, provider, model, success, latency_ms, cost,
    input_tokens, output_tokens, error_code, created_at
)
values (
    gen_random_uuid(), $1::uuid, $2::text, $3::text, $4::text, $5::boolean, $6::int, $7::numeric,
    $8::int, $9::int, nullif($10::text, ''), $11::timestamptz
);
`

const QInsertAuditEvent = `--sql f95fcb73-5b3a-492f-9c09-4666676833e8
insert into audit_events (id, user_id, action, job_id, country, properties, created_at)
values (gen_random_uuid(), $1::text, $2::text, $3::uuid, nullif($4::text, ''), coalesce($5::jsonb, '{}'::jsonb), $6::timestamptz);
`

// QUsageByModel aggregates attempts since $1 per provider and model.
const QUsageByModel = `--sql 6b1f0f53-6c0e-4d7b-9f55-2a7d84c3e0b1
select provider, model,
       count(*)::int as attempts,
       count(*) filter (where not success)::int as failures,
       coalesce(sum(cost), 0)::float8 as cost,
       coalesce(avg(latency_ms), 0)::float8 as avg_latency_ms
from usage_events
where created_at >= $1::timestamptz
group by provider, model
order by cost desc, provider, model;
`
