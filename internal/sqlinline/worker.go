package sqlinline

// QWorkerClaimRun moves the oldest queued run to running. Concurrent workers
// never claim the same row.
const QWorkerClaimRun = `--sql d0560823-74ab-4438-8331-e617f29caf02
with next_run as (
    select id
    from pipeline_runs
    where status = 'queued'
    order by created_at asc
    for update skip locked
    limit 1
)
update pipeline_runs
set status = 'running', attempts = attempts + 1, updated_at = now()
where id in (select id from next_run)
returning id::text, status, concept_json, created_at, updated_at;
`

const QWorkerCompleteRun = `--sql ba9f49d7-b7ea-41c8-ab05-bf8f8527de52
update pipeline_runs
set status = $2::text,
    reason = $3::text,
    outcome_json = $4::jsonb,
    updated_at = now()
where id = $1::uuid
  and status = 'running';
`
