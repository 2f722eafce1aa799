package sqlinline

const QSelectDebitableCreditEntry = `--sql 6d59ba51-4787-4daa-8c3e-729992a31484
select id::text, remaining
from credit_ledger
where user_id = $1::text
  and credit_type = $2::text
  and period_start <= $3::timestamptz
  and period_end > $3::timestamptz
  and remaining >= $4::int
order by period_start asc
limit 1
for update;
`

const QDebitCreditEntry = `--sql cb7f8cff-935e-4be7-8271-7d787198f1ee
update credit_ledger
set remaining = remaining - $2::int,
    used = used + $2::int,
    updated_at = now()
where id = $1::uuid and remaining >= $2::int;
`

const QReleaseCreditEntry = `--sql 204926c7-accf-4ad5-a75e-9404ad6f5671
update credit_ledger
set remaining = remaining + $2::int,
    used = used - $2::int,
    updated_at = now()
where id = $1::uuid and used >= $2::int;
`

// Replaying the same tier for a period leaves the row untouched; a different
// tier resets it to the new allotment.
const QUpsertCreditEntry = `--sql 04524363-0bad-48f7-a469-1213a4026b5c
insert into credit_ledger (
    id, user_id, credit_type, tier, remaining, used, period_start, period_end, created_at, updated_at
)
values ($1::uuid, $2::text, $3::text, $4::text, $5::int, 0, $6::timestamptz, $7::timestamptz, now(), now())
on conflict (user_id, credit_type, period_start) do update
set tier = excluded.tier,
    remaining = excluded.remaining,
    used = 0,
    period_end = excluded.period_end,
    updated_at = now()
where credit_ledger.tier is distinct from excluded.tier;
`

const QSelectCreditSummary = `--sql 1d22bb26-99a1-4cee-8705-d06587bf3cfe
select credit_type, sum(remaining)::int, sum(used)::int, max(period_end)
from credit_ledger
where user_id = $1::text
  and period_start <= $2::timestamptz
  and period_end > $2::timestamptz
group by credit_type
order by credit_type;
`
