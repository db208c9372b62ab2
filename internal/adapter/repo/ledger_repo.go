package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"genserver/internal/domain"
	"genserver/internal/infra"
	"genserver/internal/sqlinline"
)

// LedgerPG implements domain.Ledger on PostgreSQL. Each operation is a single
// CTE statement combining the balance mutation with the append-only entry, so
// no explicit transaction is needed and partial effects cannot be observed.
type LedgerPG struct {
	sql infra.SQLExecutor
}

// NewLedger creates a ledger backed by the accounts/ledger_entries tables.
func NewLedger(sql infra.SQLExecutor) *LedgerPG {
	return &LedgerPG{sql: sql}
}

// Reserve places a hold of amount on the owner's balance. The balance is
// debited immediately; Commit and Release decide the hold's fate.
func (l *LedgerPG) Reserve(ctx context.Context, ownerRef string, amount int64, jobID uuid.UUID) (*domain.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reserve amount must be positive, got %d", amount)
	}
	reservationID := uuid.New()
	row := l.sql.QueryRow(ctx, sqlinline.QLedgerReserve, ownerRef, amount, jobID, reservationID)
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrInsufficientFunds
		}
		return nil, err
	}
	return &domain.Reservation{ID: id, OwnerRef: ownerRef, Amount: amount, JobID: jobID}, nil
}

// Commit converts a held reservation into a final charge.
func (l *LedgerPG) Commit(ctx context.Context, reservationID uuid.UUID) error {
	row := l.sql.QueryRow(ctx, sqlinline.QLedgerCommit, reservationID)
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return l.reservationConflict(ctx, reservationID, "committed")
		}
		return err
	}
	return nil
}

// Release returns held funds to the owner. A reservation that was already
// committed cannot be released; use Refund for post-commit reversals.
func (l *LedgerPG) Release(ctx context.Context, reservationID uuid.UUID) error {
	row := l.sql.QueryRow(ctx, sqlinline.QLedgerRelease, reservationID)
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return l.reservationConflict(ctx, reservationID, "released")
		}
		return err
	}
	return nil
}

// Refund credits amount back to the owner for a charged, failed job. A
// partial unique index on (job_id) where kind = 'refund' rejects a second
// refund for the same job.
func (l *LedgerPG) Refund(ctx context.Context, ownerRef string, amount int64, jobID uuid.UUID) error {
	row := l.sql.QueryRow(ctx, sqlinline.QLedgerRefund, ownerRef, amount, jobID)
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyRefunded
		}
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

// Balance reads the owner's current balance. Unknown owners read as zero.
func (l *LedgerPG) Balance(ctx context.Context, ownerRef string) (int64, error) {
	row := l.sql.QueryRow(ctx, sqlinline.QSelectBalance, ownerRef)
	var balance int64
	if err := row.Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// reservationConflict distinguishes why a conditional reservation update
// matched no rows: the reservation is missing, already committed, or the
// requested transition already happened (an idempotent repeat).
func (l *LedgerPG) reservationConflict(ctx context.Context, reservationID uuid.UUID, want string) error {
	row := l.sql.QueryRow(ctx, sqlinline.QSelectReservationState, reservationID)
	var state string
	if err := row.Scan(&state); err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrReservationNotFound
		}
		return err
	}
	if state == want {
		return nil
	}
	if state == "committed" {
		return domain.ErrReservationCommitted
	}
	return fmt.Errorf("reservation %s in unexpected state %q", reservationID, state)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ domain.Ledger = (*LedgerPG)(nil)
