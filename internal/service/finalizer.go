package service

import (
	"context"
	"errors"

	"genserver/internal/domain"
	"genserver/internal/infra"
	"genserver/internal/metrics"
)

// Finalizer owns terminal transitions. The reconciler and the notification
// receiver share it so that commit/refund logic cannot diverge; the terminal
// compare-and-set in the job store is the single serialization point, so any
// number of callers may race and exactly one wins.
type Finalizer struct {
	jobs    domain.JobRepository
	ledger  domain.Ledger
	metrics *metrics.Set
	logger  infra.Logger
}

func NewFinalizer(jobs domain.JobRepository, ledger domain.Ledger, m *metrics.Set, logger infra.Logger) *Finalizer {
	return &Finalizer{jobs: jobs, ledger: ledger, metrics: m, logger: logger}
}

// Succeed finalizes the job as DONE with the artifact reference. Losing the
// compare-and-set means another finalizer got there first; that delivery is
// acknowledged as a no-op.
func (f *Finalizer) Succeed(ctx context.Context, job *domain.GenerationJob, resultRef, source string) error {
	won, err := f.jobs.FinalizeDone(ctx, job.ID, resultRef)
	if err != nil {
		return err
	}
	if !won {
		f.metrics.DuplicateFinalizes.Inc()
		f.logger.Debug().Str("job_id", job.ID.String()).Str("source", source).Msg("finalize: already terminal")
		return nil
	}
	f.metrics.FinalizationsTotal.WithLabelValues(string(domain.JobStatusDone), source).Inc()
	f.logger.Info().
		Str("job_id", job.ID.String()).
		Str("source", source).
		Msg("finalize: job done")
	return nil
}

// Fail finalizes the job as FAILED and, if the job was charged, issues the
// refund. The refund claim is a second compare-and-set so the ledger call is
// issued exactly once no matter how many finalizers race; the ledger's
// per-job refund uniqueness backstops it.
func (f *Finalizer) Fail(ctx context.Context, job *domain.GenerationJob, jobErr domain.JobError, source string) error {
	won, charged, err := f.jobs.FinalizeFailed(ctx, job.ID, jobErr)
	if err != nil {
		return err
	}
	if !won {
		f.metrics.DuplicateFinalizes.Inc()
		f.logger.Debug().Str("job_id", job.ID.String()).Str("source", source).Msg("finalize: already terminal")
		return nil
	}
	f.metrics.FinalizationsTotal.WithLabelValues(string(domain.JobStatusFailed), source).Inc()
	f.logger.Info().
		Str("job_id", job.ID.String()).
		Str("source", source).
		Str("code", string(jobErr.Code)).
		Str("reason", jobErr.Message).
		Msg("finalize: job failed")
	if !charged {
		return nil
	}
	return f.refund(ctx, job)
}

func (f *Finalizer) refund(ctx context.Context, job *domain.GenerationJob) error {
	claimed, err := f.jobs.ClaimRefund(ctx, job.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	if err := f.ledger.Refund(ctx, job.OwnerRef, job.Cost, job.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadyRefunded) {
			return nil
		}
		// The claim is not rolled back: retrying the refund from job state
		// would risk double crediting. The ledger's own durability mechanism
		// owns the retry from here.
		f.logger.Error().Err(err).
			Str("job_id", job.ID.String()).
			Str("owner_ref", job.OwnerRef).
			Int64("amount", job.Cost).
			Msg("finalize: refund call failed")
		return err
	}
	f.metrics.RefundsTotal.Inc()
	f.logger.Info().
		Str("job_id", job.ID.String()).
		Str("owner_ref", job.OwnerRef).
		Int64("amount", job.Cost).
		Msg("finalize: refund issued")
	return nil
}
