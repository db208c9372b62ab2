package provider

import "fmt"

// ErrorCode is the small taxonomy of provider failures surfaced to callers.
// Retry policy belongs to the caller: the coordinator never retries dispatch,
// the reconciler treats RATE_LIMITED and PROVIDER_UNAVAILABLE polls as
// transient.
type ErrorCode string

const (
	CodeRateLimited    ErrorCode = "RATE_LIMITED"
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	CodeUnavailable    ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeUnknown        ErrorCode = "UNKNOWN"
)

// Error wraps a provider-side failure with its taxonomy code.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider: %s", e.Code)
	}
	return fmt.Sprintf("provider: %s: %s", e.Code, e.Message)
}

// Transient reports whether the failure is worth polling through.
func (e *Error) Transient() bool {
	return e.Code == CodeRateLimited || e.Code == CodeUnavailable
}

// DispatchResult normalizes the provider's two completion modes into one
// shape: either the result is already known (Sync) or a task handle was
// issued and completion arrives later via polling or push notification.
type DispatchResult struct {
	Sync      bool
	ResultRef string // artifact reference, sync path only
	TaskID    string // provider task handle, async path only
}

// PollStatus enumerates the provider's view of an asynchronous task.
type PollStatus string

const (
	PollPending PollStatus = "pending"
	PollRunning PollStatus = "running"
	PollDone    PollStatus = "done"
	PollFailed  PollStatus = "failed"
)

// PollResult is the normalized status of one asynchronous task.
type PollResult struct {
	Status    PollStatus
	ResultRef string
	Message   string
}
