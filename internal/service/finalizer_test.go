package service

import (
	"context"
	"testing"

	"genserver/internal/domain"
)

func TestFailRefundsExactlyOnce(t *testing.T) {
	env := newTestEnv(t, map[string]int64{testOwner: 100})
	job := submitAsync(t, env, "task-refund-once")
	jobErr := domain.JobError{Code: domain.FailureProvider, Message: "boom"}

	if err := env.fin.Fail(context.Background(), job, jobErr, "reconciler"); err != nil {
		t.Fatalf("first fail: %v", err)
	}
	if err := env.fin.Fail(context.Background(), job, jobErr, "notification"); err != nil {
		t.Fatalf("second fail: %v", err)
	}

	balance, _ := env.ledger.Balance(context.Background(), testOwner)
	if balance != 100 {
		t.Fatalf("balance = %d, want exactly one 10 credit refund", balance)
	}
	if !env.ledger.refunds[job.ID] {
		t.Fatal("ledger should record the refund")
	}
}

func TestFailUnchargedJobSkipsRefund(t *testing.T) {
	env := newTestEnv(t, map[string]int64{testOwner: 100})
	job := submitAsync(t, env, "task-uncharged")

	// Simulate a crash between MarkAwaiting and SetCharged.
	env.jobs.mu.Lock()
	env.jobs.jobs[job.ID].Charged = false
	env.jobs.mu.Unlock()

	jobErr := domain.JobError{Code: domain.FailureStuckTimeout, Message: "no terminal update"}
	if err := env.fin.Fail(context.Background(), job, jobErr, "reconciler"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if env.ledger.refunds[job.ID] {
		t.Fatal("uncharged job must not trigger a ledger refund")
	}
}

func TestSucceedAfterFailIsNoOp(t *testing.T) {
	env := newTestEnv(t, map[string]int64{testOwner: 100})
	job := submitAsync(t, env, "task-late-success")

	jobErr := domain.JobError{Code: domain.FailureStuckTimeout, Message: "timed out"}
	if err := env.fin.Fail(context.Background(), job, jobErr, "reconciler"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := env.fin.Succeed(context.Background(), job, "https://cdn.example/late.png", "notification"); err != nil {
		t.Fatalf("late succeed: %v", err)
	}

	stored, _ := env.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, terminal state must not flip", stored.Status)
	}
	if stored.ResultRef != "" {
		t.Fatalf("result ref = %q, want empty on FAILED", stored.ResultRef)
	}
}
