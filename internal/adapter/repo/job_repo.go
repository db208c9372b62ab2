package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"genserver/internal/domain"
	"genserver/internal/infra"
	"genserver/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. All
// status-changing statements are conditional updates; RowsAffected tells the
// caller whether its compare-and-set won.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	promptJSON, err := json.Marshal(job.Prompt)
	if err != nil {
		return fmt.Errorf("encode prompt: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerRef,
		promptJSON,
		job.Status,
		job.Cost,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, id)
	return scanJob(row)
}

// GetByProviderTaskID fetches the job that owns a provider task handle.
func (r *JobRepositoryPG) GetByProviderTaskID(ctx context.Context, taskID string) (*domain.GenerationJob, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectJobByProviderTaskID, taskID)
	return scanJob(row)
}

// AdvanceStatus moves the job from exactly `from` to `to`.
func (r *JobRepositoryPG) AdvanceStatus(ctx context.Context, id uuid.UUID, from, to domain.JobStatus) (bool, error) {
	if !from.CanAdvanceTo(to) {
		return false, fmt.Errorf("status %s cannot advance to %s", from, to)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QAdvanceJobStatus, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAwaiting records the provider task id and enters AWAITING_RESULT.
func (r *JobRepositoryPG) MarkAwaiting(ctx context.Context, id uuid.UUID, providerTaskID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkJobAwaiting, id, providerTaskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobFinalized
	}
	return nil
}

// FinalizeDone transitions the job to DONE if it is still non-terminal.
func (r *JobRepositoryPG) FinalizeDone(ctx context.Context, id uuid.UUID, resultRef string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFinalizeJobDone, id, resultRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeFailed transitions the job to FAILED if it is still non-terminal.
func (r *JobRepositoryPG) FinalizeFailed(ctx context.Context, id uuid.UUID, jobErr domain.JobError) (bool, bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QFinalizeJobFailed, id, jobErr.Code, jobErr.Message)
	var charged bool
	if err := row.Scan(&charged); err != nil {
		if infra.IsNoRows(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, charged, nil
}

// SetCharged marks the ledger commit as applied to this job.
func (r *JobRepositoryPG) SetCharged(ctx context.Context, id uuid.UUID) error {
	_, err := r.sql.Exec(ctx, sqlinline.QSetJobCharged, id)
	return err
}

// ClaimRefund flips the refunded flag; exactly one caller wins per job.
func (r *JobRepositoryPG) ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QClaimJobRefund, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordPoll increments the poll counter after a pending provider response.
func (r *JobRepositoryPG) RecordPoll(ctx context.Context, id uuid.UUID) error {
	_, err := r.sql.Exec(ctx, sqlinline.QRecordJobPoll, id)
	return err
}

// RequestCancel flags a non-terminal job for best-effort cancellation.
func (r *JobRepositoryPG) RequestCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QRequestJobCancel, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimDue leases in-flight jobs whose next poll is due. The lease bumps
// last_polled_at so concurrent workers skip the same rows.
func (r *JobRepositoryPG) ClaimDue(ctx context.Context, limit int, pollInterval, firstPollDelay time.Duration) ([]*domain.GenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QClaimDueJobs, limit, firstPollDelay.Seconds(), pollInterval.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*domain.GenerationJob, error) {
	var (
		job          domain.GenerationJob
		promptJSON   []byte
		taskID       *string
		resultRef    *string
		errorCode    *string
		errorMessage *string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerRef,
		&promptJSON,
		&taskID,
		&job.Status,
		&job.Cost,
		&job.Charged,
		&job.Refunded,
		&job.CancelRequested,
		&resultRef,
		&errorCode,
		&errorMessage,
		&job.RetryCount,
		&job.AwaitingSince,
		&job.LastPolledAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(promptJSON, &job.Prompt); err != nil {
		return nil, fmt.Errorf("decode prompt: %w", err)
	}
	if taskID != nil {
		job.ProviderTaskID = *taskID
	}
	if resultRef != nil {
		job.ResultRef = *resultRef
	}
	if errorCode != nil {
		job.Error = &domain.JobError{Code: domain.FailureCode(*errorCode)}
		if errorMessage != nil {
			job.Error.Message = *errorMessage
		}
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
