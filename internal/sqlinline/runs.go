package sqlinline

const QInsertRun = `--sql 74d57995-89ad-4265-9b6c-bbc5ae6b3bae
insert into pipeline_runs (id, status, concept_json, reason, attempts, created_at, updated_at)
values ($1::uuid, $2::text, $3::jsonb, '', 0, now(), now())
returning created_at, updated_at;
`

const QSelectRunByID = `--sql 404e4d5d-0cb5-4bbc-930e-a45d8cec52cb
select id::text, status, concept_json, coalesce(outcome_json, 'null'::jsonb), reason, created_at, updated_at
from pipeline_runs
where id = $1::uuid;
`

const QListRecentRuns = `--sql 51ce403b-b03e-4357-ae83-ca72516aba6f
select id::text, status, concept_json, coalesce(outcome_json, 'null'::jsonb), reason, created_at, updated_at
from pipeline_runs
order by created_at desc
limit $1::int;
`
