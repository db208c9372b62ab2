package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"genserver/internal/domain"
	"genserver/internal/infra"
	"genserver/internal/metrics"
	"genserver/internal/provider"
	"genserver/internal/taskrunner"
)

// Dispatcher is the provider surface the coordinator needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, p domain.GenerationPrompt) (*provider.DispatchResult, error)
}

// Coordinator validates submissions, reserves funds, creates the job record
// and drives the dispatch step. It owns the billing side effects of dispatch:
// commit on success, release on failure before any task handle exists.
type Coordinator struct {
	jobs     domain.JobRepository
	ledger   domain.Ledger
	provider Dispatcher
	fin      *Finalizer
	runner   taskrunner.Runner
	metrics  *metrics.Set
	logger   infra.Logger
}

func NewCoordinator(
	jobs domain.JobRepository,
	ledger domain.Ledger,
	dispatcher Dispatcher,
	fin *Finalizer,
	runner taskrunner.Runner,
	m *metrics.Set,
	logger infra.Logger,
) *Coordinator {
	return &Coordinator{
		jobs:     jobs,
		ledger:   ledger,
		provider: dispatcher,
		fin:      fin,
		runner:   runner,
		metrics:  m,
		logger:   logger,
	}
}

// Submit validates the request, reserves funds and dispatches to the
// provider. Validation and funding errors are returned without creating a
// job. With an inline runner the returned job reflects the dispatch outcome;
// with a pooled runner the caller gets the QUEUED handle immediately.
func (c *Coordinator) Submit(ctx context.Context, ownerRef string, prompt domain.GenerationPrompt) (*domain.GenerationJob, error) {
	if !domain.ValidOwnerRef(ownerRef) {
		return nil, domain.ErrUnauthorized
	}
	prompt.Normalize()
	if err := prompt.Validate(); err != nil {
		return nil, err
	}
	cost, err := provider.Cost(prompt.Model, prompt.Quantity)
	if err != nil {
		return nil, err
	}

	job := &domain.GenerationJob{
		ID:       uuid.New(),
		OwnerRef: ownerRef,
		Prompt:   prompt,
		Status:   domain.JobStatusQueued,
		Cost:     cost,
	}

	reservation, err := c.ledger.Reserve(ctx, ownerRef, cost, job.ID)
	if err != nil {
		return nil, err
	}
	if err := c.jobs.Create(ctx, job); err != nil {
		if relErr := c.ledger.Release(ctx, reservation.ID); relErr != nil {
			c.logger.Error().Err(relErr).Str("job_id", job.ID.String()).Msg("submit: release after create failure")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	// The dispatch task must outlive the request on a pooled runner.
	taskCtx := context.WithoutCancel(ctx)
	runErr := c.runner.Run(taskCtx, job.ID.String(), func(ctx context.Context) error {
		return c.dispatch(ctx, job, reservation)
	})
	return job, runErr
}

// Get returns the job scoped to its owner.
func (c *Coordinator) Get(ctx context.Context, ownerRef string, id uuid.UUID) (*domain.GenerationJob, error) {
	job, err := c.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerRef != ownerRef {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// Cancel flags a non-terminal job for cancellation. The reconciler attempts
// a best-effort provider-side cancel and finalizes with a refund; no hard
// real-time guarantee is given once the provider has started work.
func (c *Coordinator) Cancel(ctx context.Context, ownerRef string, id uuid.UUID) error {
	job, err := c.Get(ctx, ownerRef, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return domain.ErrJobFinalized
	}
	flagged, err := c.jobs.RequestCancel(ctx, id)
	if err != nil {
		return err
	}
	if !flagged {
		return domain.ErrJobFinalized
	}
	c.logger.Info().Str("job_id", id.String()).Msg("submit: cancel requested")
	return nil
}

// Balance reads the owner's current prepaid balance.
func (c *Coordinator) Balance(ctx context.Context, ownerRef string) (int64, error) {
	if !domain.ValidOwnerRef(ownerRef) {
		return 0, domain.ErrUnauthorized
	}
	return c.ledger.Balance(ctx, ownerRef)
}

// dispatch performs the provider call and settles billing for its outcome.
// It mutates job in place so inline submissions return the final state.
func (c *Coordinator) dispatch(ctx context.Context, job *domain.GenerationJob, reservation *domain.Reservation) error {
	if _, err := c.jobs.AdvanceStatus(ctx, job.ID, domain.JobStatusQueued, domain.JobStatusSubmitted); err != nil {
		return err
	}
	job.Status = domain.JobStatusSubmitted

	out, err := c.provider.Dispatch(ctx, job.Prompt)
	if err != nil {
		c.countProviderError(err)
		jobErr := domain.JobError{Code: domain.FailureDispatch, Message: err.Error()}
		if failErr := c.fin.Fail(ctx, job, jobErr, "coordinator"); failErr != nil {
			c.logger.Error().Err(failErr).Str("job_id", job.ID.String()).Msg("submit: record dispatch failure")
		}
		// Nothing was charged; the hold goes straight back.
		if relErr := c.ledger.Release(ctx, reservation.ID); relErr != nil {
			c.logger.Error().Err(relErr).Str("job_id", job.ID.String()).Msg("submit: release after dispatch failure")
		}
		job.Status = domain.JobStatusFailed
		job.Error = &jobErr
		return fmt.Errorf("dispatch: %w", err)
	}

	if out.Sync {
		return c.settleSync(ctx, job, reservation, out.ResultRef)
	}
	return c.settleAsync(ctx, job, reservation, out.TaskID)
}

// settleSync commits the charge and finalizes DONE within the dispatch step.
// The job never enters the polling set, so no reconciliation pass can
// observe an intermediate state.
func (c *Coordinator) settleSync(ctx context.Context, job *domain.GenerationJob, reservation *domain.Reservation, resultRef string) error {
	if err := c.ledger.Commit(ctx, reservation.ID); err != nil {
		return c.abortSettle(ctx, job, reservation, fmt.Errorf("commit charge: %w", err))
	}
	if err := c.jobs.SetCharged(ctx, job.ID); err != nil {
		return err
	}
	job.Charged = true
	if err := c.fin.Succeed(ctx, job, resultRef, "coordinator"); err != nil {
		return err
	}
	job.Status = domain.JobStatusDone
	job.ResultRef = resultRef
	c.metrics.SubmissionsTotal.WithLabelValues("sync").Inc()
	return nil
}

// settleAsync records the task handle, enters the polling set and commits
// the charge: the job is in flight and billable.
func (c *Coordinator) settleAsync(ctx context.Context, job *domain.GenerationJob, reservation *domain.Reservation, taskID string) error {
	if err := c.jobs.MarkAwaiting(ctx, job.ID, taskID); err != nil {
		return err
	}
	job.Status = domain.JobStatusAwaitingResult
	job.ProviderTaskID = taskID
	if err := c.ledger.Commit(ctx, reservation.ID); err != nil {
		return c.abortSettle(ctx, job, reservation, fmt.Errorf("commit charge: %w", err))
	}
	if err := c.jobs.SetCharged(ctx, job.ID); err != nil {
		return err
	}
	job.Charged = true
	c.metrics.SubmissionsTotal.WithLabelValues("async").Inc()
	c.logger.Info().
		Str("job_id", job.ID.String()).
		Str("task_uuid", taskID).
		Msg("submit: awaiting asynchronous result")
	return nil
}

// abortSettle handles a failed charge commit: the job fails and the hold is
// released best effort.
func (c *Coordinator) abortSettle(ctx context.Context, job *domain.GenerationJob, reservation *domain.Reservation, cause error) error {
	jobErr := domain.JobError{Code: domain.FailureDispatch, Message: cause.Error()}
	if failErr := c.fin.Fail(ctx, job, jobErr, "coordinator"); failErr != nil {
		c.logger.Error().Err(failErr).Str("job_id", job.ID.String()).Msg("submit: record charge failure")
	}
	if relErr := c.ledger.Release(ctx, reservation.ID); relErr != nil {
		c.logger.Error().Err(relErr).Str("job_id", job.ID.String()).Msg("submit: release after charge failure")
	}
	job.Status = domain.JobStatusFailed
	job.Error = &jobErr
	return cause
}

func (c *Coordinator) countProviderError(err error) {
	code := provider.CodeUnknown
	var provErr *provider.Error
	if errors.As(err, &provErr) {
		code = provErr.Code
	}
	c.metrics.ProviderErrors.WithLabelValues(string(code)).Inc()
}
