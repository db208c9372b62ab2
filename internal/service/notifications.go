package service

import (
	"context"
	"errors"
	"strings"

	"genserver/internal/domain"
	"genserver/internal/infra"
)

// Event is a provider push notification after the transport layer has
// checked the shared secret. The core only consumes the boolean outcome of
// that check.
type Event struct {
	TaskID        string
	Status        string
	ResultRef     string
	Message       string
	Authenticated bool
}

// Notifications finalizes jobs from provider-pushed completion events. It is
// idempotent by construction: the finalizer's terminal compare-and-set turns
// duplicate and late deliveries into acknowledged no-ops, with no separate
// deduplication bookkeeping.
type Notifications struct {
	jobs   domain.JobRepository
	fin    *Finalizer
	logger infra.Logger
}

func NewNotifications(jobs domain.JobRepository, fin *Finalizer, logger infra.Logger) *Notifications {
	return &Notifications{jobs: jobs, fin: fin, logger: logger}
}

// Receive applies one completion event. Unknown task ids are acknowledged
// and dropped; only authentication failures surface as errors.
func (n *Notifications) Receive(ctx context.Context, ev Event) error {
	if !ev.Authenticated {
		return domain.ErrUnauthorized
	}
	if ev.TaskID == "" {
		n.logger.Debug().Msg("notification: missing task id, ignored")
		return nil
	}

	job, err := n.jobs.GetByProviderTaskID(ctx, ev.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			n.logger.Debug().Str("task_uuid", ev.TaskID).Msg("notification: unknown task, ignored")
			return nil
		}
		return err
	}
	if job.Status.Terminal() {
		n.logger.Debug().
			Str("job_id", job.ID.String()).
			Str("task_uuid", ev.TaskID).
			Msg("notification: duplicate delivery, ignored")
		return nil
	}

	switch strings.ToLower(ev.Status) {
	case "success", "succeeded":
		if ev.ResultRef == "" {
			return n.fin.Fail(ctx, job, domain.JobError{Code: domain.FailureProvider, Message: "success notification without artifacts"}, "notification")
		}
		return n.fin.Succeed(ctx, job, ev.ResultRef, "notification")
	case "error", "failed":
		return n.fin.Fail(ctx, job, domain.JobError{Code: domain.FailureProvider, Message: ev.Message}, "notification")
	default:
		n.logger.Warn().
			Str("task_uuid", ev.TaskID).
			Str("status", ev.Status).
			Msg("notification: unexpected status, ignored")
		return nil
	}
}
