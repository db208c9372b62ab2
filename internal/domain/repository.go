package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobRepository defines persistence for generation jobs. Every status-changing
// method is a compare-and-set so concurrent finalizers serialize on the store.
type JobRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*GenerationJob, error)
	GetByProviderTaskID(ctx context.Context, taskID string) (*GenerationJob, error)

	// AdvanceStatus moves the job from exactly `from` to `to`. It reports
	// false when the job was not in `from` (somebody else got there first).
	AdvanceStatus(ctx context.Context, id uuid.UUID, from, to JobStatus) (bool, error)

	// MarkAwaiting records the provider task id and enters AWAITING_RESULT,
	// starting the stuck-timeout clock.
	MarkAwaiting(ctx context.Context, id uuid.UUID, providerTaskID string) error

	// FinalizeDone transitions to DONE if the job is still non-terminal and
	// sets the result reference. It reports whether this caller won.
	FinalizeDone(ctx context.Context, id uuid.UUID, resultRef string) (bool, error)

	// FinalizeFailed transitions to FAILED if the job is still non-terminal
	// and records the failure reason. The returned charged flag tells the
	// winner whether a refund is owed.
	FinalizeFailed(ctx context.Context, id uuid.UUID, jobErr JobError) (won bool, charged bool, err error)

	// SetCharged marks the ledger commit as applied. Set at most once.
	SetCharged(ctx context.Context, id uuid.UUID) error

	// ClaimRefund flips the refunded flag if the job is FAILED, charged and
	// not yet refunded. Exactly one caller observes true per job.
	ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error)

	// RecordPoll increments retry_count after a pending poll.
	RecordPoll(ctx context.Context, id uuid.UUID) error

	// RequestCancel flags a non-terminal job for best-effort cancellation.
	RequestCancel(ctx context.Context, id uuid.UUID) (bool, error)

	// ClaimDue leases up to limit in-flight jobs whose next poll is due:
	// first-poll grace elapsed and last_polled_at older than pollInterval.
	// Leasing bumps last_polled_at so concurrent workers skip the same jobs.
	ClaimDue(ctx context.Context, limit int, pollInterval, firstPollDelay time.Duration) ([]*GenerationJob, error)
}

// Reservation is a hold on an owner's balance created by Reserve.
type Reservation struct {
	ID       uuid.UUID
	OwnerRef string
	Amount   int64
	JobID    uuid.UUID
}

// Ledger is the balance/accounting subsystem consumed by the orchestration
// core. Reserve, Commit and Release are atomic per owner; Release after a
// Commit on the same reservation is rejected. Refund is the distinct,
// explicit post-commit reversal.
type Ledger interface {
	Reserve(ctx context.Context, ownerRef string, amount int64, jobID uuid.UUID) (*Reservation, error)
	Commit(ctx context.Context, reservationID uuid.UUID) error
	Release(ctx context.Context, reservationID uuid.UUID) error
	Refund(ctx context.Context, ownerRef string, amount int64, jobID uuid.UUID) error
	Balance(ctx context.Context, ownerRef string) (int64, error)
}
