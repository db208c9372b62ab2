package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genserver/internal/domain"
	"genserver/internal/infra"
	"genserver/internal/metrics"
	"genserver/internal/provider"
	"genserver/internal/taskrunner"
)

// Poller is the provider surface the reconciler needs.
type Poller interface {
	Poll(ctx context.Context, taskID string) (*provider.PollResult, error)
	Cancel(ctx context.Context, taskID string) error
}

// ReconcilerConfig carries the timing knobs of the poll-and-reconcile loop.
type ReconcilerConfig struct {
	PollInterval   time.Duration
	FirstPollDelay time.Duration
	StuckTimeout   time.Duration
	BatchSize      int
}

// Reconciler drives in-flight jobs to a terminal state: it polls the
// provider for jobs awaiting an asynchronous result, honors cancel requests
// and force-fails jobs that exceed the stuck timeout. It may race the
// notification receiver on the same job; the finalizer's compare-and-set
// resolves that race.
type Reconciler struct {
	jobs     domain.JobRepository
	provider Poller
	fin      *Finalizer
	runner   taskrunner.Runner
	cfg      ReconcilerConfig
	metrics  *metrics.Set
	logger   infra.Logger
	now      func() time.Time
}

func NewReconciler(
	jobs domain.JobRepository,
	poller Poller,
	fin *Finalizer,
	runner taskrunner.Runner,
	cfg ReconcilerConfig,
	m *metrics.Set,
	logger infra.Logger,
) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Reconciler{
		jobs:     jobs,
		provider: poller,
		fin:      fin,
		runner:   runner,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes the reconcile loop until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Dur("stuck_timeout", r.cfg.StuckTimeout).
		Msg("reconciler: started")
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reconciler: tick failed")
			}
		}
	}
}

// Tick claims one batch of due jobs and fans their reconciliation out on the
// task runner.
func (r *Reconciler) Tick(ctx context.Context) error {
	due, err := r.jobs.ClaimDue(ctx, r.cfg.BatchSize, r.cfg.PollInterval, r.cfg.FirstPollDelay)
	if err != nil {
		return fmt.Errorf("claim due jobs: %w", err)
	}
	for _, job := range due {
		job := job
		if err := r.runner.Run(ctx, job.ID.String(), func(ctx context.Context) error {
			return r.reconcile(ctx, job)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) reconcile(ctx context.Context, job *domain.GenerationJob) error {
	if job.CancelRequested {
		if job.ProviderTaskID != "" {
			if err := r.provider.Cancel(ctx, job.ProviderTaskID); err != nil {
				r.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("reconciler: provider cancel failed")
			}
		}
		return r.fin.Fail(ctx, job, domain.JobError{Code: domain.FailureCancelled, Message: "cancelled by user"}, "reconciler")
	}

	if job.Stuck(r.now(), r.cfg.StuckTimeout) {
		jobErr := domain.JobError{
			Code:    domain.FailureStuckTimeout,
			Message: fmt.Sprintf("no terminal update within %s", r.cfg.StuckTimeout),
		}
		return r.fin.Fail(ctx, job, jobErr, "reconciler")
	}

	r.metrics.PollsTotal.Inc()
	poll, err := r.provider.Poll(ctx, job.ProviderTaskID)
	if err != nil {
		r.countProviderError(err)
		// Poll failures never finalize by themselves; the stuck timeout
		// bounds how long an unreachable provider can hold a job.
		r.logger.Warn().Err(err).
			Str("job_id", job.ID.String()).
			Str("task_uuid", job.ProviderTaskID).
			Msg("reconciler: poll failed")
		return r.jobs.RecordPoll(ctx, job.ID)
	}

	switch poll.Status {
	case provider.PollPending:
		return r.jobs.RecordPoll(ctx, job.ID)
	case provider.PollRunning:
		if job.Status == domain.JobStatusAwaitingResult {
			if _, err := r.jobs.AdvanceStatus(ctx, job.ID, domain.JobStatusAwaitingResult, domain.JobStatusRunning); err != nil {
				return err
			}
		}
		return r.jobs.RecordPoll(ctx, job.ID)
	case provider.PollDone:
		return r.fin.Succeed(ctx, job, poll.ResultRef, "reconciler")
	case provider.PollFailed:
		return r.fin.Fail(ctx, job, domain.JobError{Code: domain.FailureProvider, Message: poll.Message}, "reconciler")
	default:
		return fmt.Errorf("unexpected poll status %q", poll.Status)
	}
}

func (r *Reconciler) countProviderError(err error) {
	code := provider.CodeUnknown
	var provErr *provider.Error
	if errors.As(err, &provErr) {
		code = provErr.Code
	}
	r.metrics.ProviderErrors.WithLabelValues(string(code)).Inc()
}
