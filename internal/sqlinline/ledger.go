package sqlinline

// Ledger statements are single CTEs so the balance mutation and the
// append-only entry land atomically without an explicit transaction.

const QLedgerReserve = `--sql dab87682-f886-47ca-91e4-daa9f235b547
with debit as (
    update accounts
    set balance = balance - $2, updated_at = now()
    where owner_ref = $1 and balance >= $2
    returning balance
)
insert into ledger_entries (id, owner_ref, delta, kind, state, job_id, resulting_balance)
select $4, $1, -$2, 'reserve', 'held', $3, debit.balance
from debit
returning id;
`

const QLedgerCommit = `--sql 092b3ac6-415b-4a37-bfca-5894ca8818fe
update ledger_entries
set state = 'committed'
where id = $1 and kind = 'reserve' and state = 'held'
returning id;
`

const QLedgerRelease = `--sql 3de1b370-d3a3-4257-8888-5c8cde861a39
with rel as (
    update ledger_entries
    set state = 'released'
    where id = $1 and kind = 'reserve' and state = 'held'
    returning owner_ref, delta, job_id
),
credit as (
    update accounts a
    set balance = a.balance - rel.delta, updated_at = now()
    from rel
    where a.owner_ref = rel.owner_ref
    returning a.balance
)
insert into ledger_entries (id, owner_ref, delta, kind, state, job_id, resulting_balance)
select gen_random_uuid(), rel.owner_ref, -rel.delta, 'release', 'applied', rel.job_id, credit.balance
from rel, credit
returning id;
`

const QLedgerRefund = `--sql f062d3b4-2943-4c20-94a1-3ab7caa9c7be
with credit as (
    update accounts
    set balance = balance + $2, updated_at = now()
    where owner_ref = $1
    returning balance
)
insert into ledger_entries (id, owner_ref, delta, kind, state, job_id, resulting_balance)
select gen_random_uuid(), $1, $2, 'refund', 'applied', $3, credit.balance
from credit
returning id;
`

const QSelectReservationState = `--sql fcdfdd6f-d42c-41a0-8dcc-6aac68edb71e
select state
from ledger_entries
where id = $1 and kind = 'reserve';
`

const QSelectBalance = `--sql 77e63066-96fc-4c5a-a24b-4e43b762e14d
select balance
from accounts
where owner_ref = $1;
`
