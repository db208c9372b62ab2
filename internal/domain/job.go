package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates job lifecycle states. Transitions are monotonic: a job
// never moves to a status with a lower rank, and DONE/FAILED are terminal.
type JobStatus string

const (
	JobStatusQueued         JobStatus = "QUEUED"
	JobStatusSubmitted      JobStatus = "SUBMITTED"
	JobStatusAwaitingResult JobStatus = "AWAITING_RESULT"
	JobStatusRunning        JobStatus = "RUNNING"
	JobStatusDone           JobStatus = "DONE"
	JobStatusFailed         JobStatus = "FAILED"
)

var statusRank = map[JobStatus]int{
	JobStatusQueued:         0,
	JobStatusSubmitted:      1,
	JobStatusAwaitingResult: 2,
	JobStatusRunning:        3,
	JobStatusDone:           4,
	JobStatusFailed:         4,
}

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// CanAdvanceTo reports whether moving from s to next respects the ordering.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// FailureCode classifies why a job ended in FAILED.
type FailureCode string

const (
	FailureDispatch     FailureCode = "DISPATCH_FAILURE"
	FailureProvider     FailureCode = "PROVIDER_FAILURE"
	FailureStuckTimeout FailureCode = "STUCK_TIMEOUT"
	FailureCancelled    FailureCode = "CANCELLED_BY_USER"
)

// JobError is the structured failure reason recorded on a FAILED job.
type JobError struct {
	Code    FailureCode `json:"code"`
	Message string      `json:"message,omitempty"`
}

// GenerationJob encapsulates one generation request and its full lifecycle.
// The submission coordinator creates it; only the reconciler and the
// notification receiver mutate it afterwards, serialized by the terminal
// status compare-and-set in the job store.
type GenerationJob struct {
	ID              uuid.UUID
	OwnerRef        string
	Prompt          GenerationPrompt
	ProviderTaskID  string // set at most once, async path only
	Status          JobStatus
	Cost            int64
	Charged         bool
	Refunded        bool
	CancelRequested bool
	ResultRef       string
	Error           *JobError
	RetryCount      int
	AwaitingSince   *time.Time // set when the job enters AWAITING_RESULT
	LastPolledAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Stuck reports whether the job has been in flight longer than threshold
// without reaching a terminal state.
func (j *GenerationJob) Stuck(now time.Time, threshold time.Duration) bool {
	if j.Status.Terminal() || j.AwaitingSince == nil {
		return false
	}
	return now.Sub(*j.AwaitingSince) > threshold
}
