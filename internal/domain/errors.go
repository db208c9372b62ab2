package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidPrompt        = errors.New("invalid prompt")
	ErrUnsupportedModel     = errors.New("unsupported model")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrJobFinalized         = errors.New("job already finalized")
	ErrReservationCommitted = errors.New("reservation already committed")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrAlreadyRefunded      = errors.New("job already refunded")
	ErrProviderFailure      = errors.New("provider failure")
)
