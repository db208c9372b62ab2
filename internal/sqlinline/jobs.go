package sqlinline

const jobColumns = `id, owner_ref, prompt_json, provider_task_id, status, cost, charged, refunded,
cancel_requested, result_ref, error_code, error_message, retry_count, awaiting_since,
last_polled_at, created_at, updated_at`

const QInsertJob = `--sql 8c448032-7c77-4aff-8dc1-e23d95a8cea7
insert into generation_jobs (id, owner_ref, prompt_json, status, cost)
values ($1, $2, $3, $4, $5);
`

const QSelectJobByID = `--sql 91bb044d-1e37-4126-b88c-08fae548f084
select ` + jobColumns + `
from generation_jobs
where id = $1;
`

const QSelectJobByProviderTaskID = `--sql 734d389a-7d97-4141-a1b9-5e6cc5576a78
select ` + jobColumns + `
from generation_jobs
where provider_task_id = $1;
`

const QAdvanceJobStatus = `--sql accd0c86-10c6-4d7f-b70b-294cc52d4617
update generation_jobs
set status = $3, updated_at = now()
where id = $1 and status = $2;
`

const QMarkJobAwaiting = `--sql 70451ff6-9826-4425-89c5-8d2ccfb5fc81
update generation_jobs
set status = 'AWAITING_RESULT',
    provider_task_id = $2,
    awaiting_since = now(),
    updated_at = now()
where id = $1
  and provider_task_id is null
  and status not in ('DONE', 'FAILED');
`

const QFinalizeJobDone = `--sql 150c868b-f63a-4dc7-89c3-a59312a423bc
update generation_jobs
set status = 'DONE', result_ref = $2, updated_at = now()
where id = $1 and status not in ('DONE', 'FAILED');
`

const QFinalizeJobFailed = `--sql 5eb5d9f1-a4ef-4bd5-9374-b1798be6a1b5
update generation_jobs
set status = 'FAILED', error_code = $2, error_message = $3, updated_at = now()
where id = $1 and status not in ('DONE', 'FAILED')
returning charged;
`

const QSetJobCharged = `--sql 8e463d6b-c368-4dd5-8fc7-0762a1de98db
update generation_jobs
set charged = true, updated_at = now()
where id = $1 and charged = false;
`

const QClaimJobRefund = `--sql 5d5091f5-f121-4b99-a09f-feeca57a2ee3
update generation_jobs
set refunded = true, updated_at = now()
where id = $1 and status = 'FAILED' and charged = true and refunded = false;
`

const QRecordJobPoll = `--sql 6d74c17a-98df-4829-b50c-b1982c36e3ca
update generation_jobs
set retry_count = retry_count + 1, updated_at = now()
where id = $1;
`

const QRequestJobCancel = `--sql 425148c3-ba65-488c-a105-dc83d05cd5a1
update generation_jobs
set cancel_requested = true, updated_at = now()
where id = $1 and status not in ('DONE', 'FAILED');
`

const QClaimDueJobs = `--sql 14e14fe1-9c75-492c-8fe5-6083f49685ba
with due as (
    select id
    from generation_jobs
    where status in ('AWAITING_RESULT', 'RUNNING')
      and awaiting_since <= now() - ($2::float8 * interval '1 second')
      and (last_polled_at is null or last_polled_at <= now() - ($3::float8 * interval '1 second'))
    order by coalesce(last_polled_at, awaiting_since) asc
    for update skip locked
    limit $1
),
leased as (
    update generation_jobs
    set last_polled_at = now(), updated_at = now()
    where id in (select id from due)
    returning ` + jobColumns + `
)
select * from leased;
`
