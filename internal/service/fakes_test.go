package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"genserver/internal/domain"
	"genserver/internal/metrics"
	"genserver/internal/provider"
	"genserver/internal/taskrunner"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.GenerationJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[uuid.UUID]*domain.GenerationJob)}
}

func cloneJob(j *domain.GenerationJob) *domain.GenerationJob {
	cp := *j
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.AwaitingSince != nil {
		t := *j.AwaitingSince
		cp.AwaitingSince = &t
	}
	if j.LastPolledAt != nil {
		t := *j.LastPolledAt
		cp.LastPolledAt = &t
	}
	return &cp
}

func (m *memJobs) Create(ctx context.Context, job *domain.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneJob(job)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.jobs[job.ID] = cp
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *memJobs) GetByProviderTaskID(ctx context.Context, taskID string) (*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ProviderTaskID == taskID {
			return cloneJob(job), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobs) AdvanceStatus(ctx context.Context, id uuid.UUID, from, to domain.JobStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	return true, nil
}

func (m *memJobs) MarkAwaiting(ctx context.Context, id uuid.UUID, providerTaskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.ProviderTaskID != "" || job.Status.Terminal() {
		return domain.ErrJobFinalized
	}
	now := time.Now()
	job.Status = domain.JobStatusAwaitingResult
	job.ProviderTaskID = providerTaskID
	job.AwaitingSince = &now
	return nil
}

func (m *memJobs) FinalizeDone(ctx context.Context, id uuid.UUID, resultRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = domain.JobStatusDone
	job.ResultRef = resultRef
	return true, nil
}

func (m *memJobs) FinalizeFailed(ctx context.Context, id uuid.UUID, jobErr domain.JobError) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		return false, false, nil
	}
	job.Status = domain.JobStatusFailed
	job.Error = &jobErr
	return true, job.Charged, nil
}

func (m *memJobs) SetCharged(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.Charged = true
	}
	return nil
}

func (m *memJobs) ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != domain.JobStatusFailed || !job.Charged || job.Refunded {
		return false, nil
	}
	job.Refunded = true
	return true, nil
}

func (m *memJobs) RecordPoll(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.RetryCount++
	}
	return nil
}

func (m *memJobs) RequestCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.CancelRequested = true
	return true, nil
}

func (m *memJobs) ClaimDue(ctx context.Context, limit int, pollInterval, firstPollDelay time.Duration) ([]*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var due []*domain.GenerationJob
	for _, job := range m.jobs {
		if len(due) >= limit {
			break
		}
		if job.Status != domain.JobStatusAwaitingResult && job.Status != domain.JobStatusRunning {
			continue
		}
		if job.AwaitingSince == nil || now.Sub(*job.AwaitingSince) < firstPollDelay {
			continue
		}
		if job.LastPolledAt != nil && now.Sub(*job.LastPolledAt) < pollInterval {
			continue
		}
		leased := now
		job.LastPolledAt = &leased
		due = append(due, cloneJob(job))
	}
	return due, nil
}

type reservationState struct {
	ownerRef string
	amount   int64
	state    string
}

type memLedger struct {
	mu           sync.Mutex
	balances     map[string]int64
	reservations map[uuid.UUID]*reservationState
	refunds      map[uuid.UUID]bool
}

func newMemLedger(balances map[string]int64) *memLedger {
	if balances == nil {
		balances = make(map[string]int64)
	}
	return &memLedger{
		balances:     balances,
		reservations: make(map[uuid.UUID]*reservationState),
		refunds:      make(map[uuid.UUID]bool),
	}
}

func (m *memLedger) Reserve(ctx context.Context, ownerRef string, amount int64, jobID uuid.UUID) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[ownerRef] < amount {
		return nil, domain.ErrInsufficientFunds
	}
	m.balances[ownerRef] -= amount
	id := uuid.New()
	m.reservations[id] = &reservationState{ownerRef: ownerRef, amount: amount, state: "held"}
	return &domain.Reservation{ID: id, OwnerRef: ownerRef, Amount: amount, JobID: jobID}, nil
}

func (m *memLedger) Commit(ctx context.Context, reservationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if res.state == "released" {
		return fmt.Errorf("commit released reservation")
	}
	res.state = "committed"
	return nil
}

func (m *memLedger) Release(ctx context.Context, reservationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	switch res.state {
	case "committed":
		return domain.ErrReservationCommitted
	case "released":
		return nil
	}
	res.state = "released"
	m.balances[res.ownerRef] += res.amount
	return nil
}

func (m *memLedger) Refund(ctx context.Context, ownerRef string, amount int64, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refunds[jobID] {
		return domain.ErrAlreadyRefunded
	}
	m.refunds[jobID] = true
	m.balances[ownerRef] += amount
	return nil
}

func (m *memLedger) Balance(ctx context.Context, ownerRef string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[ownerRef], nil
}

type stubProvider struct {
	mu         sync.Mutex
	dispatchFn func(p domain.GenerationPrompt) (*provider.DispatchResult, error)
	pollFn     func(taskID string) (*provider.PollResult, error)
	cancelled  []string
	cancelErr  error
}

func (s *stubProvider) Dispatch(ctx context.Context, p domain.GenerationPrompt) (*provider.DispatchResult, error) {
	s.mu.Lock()
	fn := s.dispatchFn
	s.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no dispatch stub")
	}
	return fn(p)
}

func (s *stubProvider) Poll(ctx context.Context, taskID string) (*provider.PollResult, error) {
	s.mu.Lock()
	fn := s.pollFn
	s.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no poll stub")
	}
	return fn(taskID)
}

func (s *stubProvider) Cancel(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, taskID)
	return s.cancelErr
}

func (s *stubProvider) cancelledTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

type testEnv struct {
	jobs    *memJobs
	ledger  *memLedger
	prov    *stubProvider
	metrics *metrics.Set
	fin     *Finalizer
	coord   *Coordinator
	logger  zerolog.Logger
}

func newTestEnv(t *testing.T, balances map[string]int64) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs:    newMemJobs(),
		ledger:  newMemLedger(balances),
		prov:    &stubProvider{},
		metrics: metrics.New(prometheus.NewRegistry()),
		logger:  zerolog.Nop(),
	}
	env.fin = NewFinalizer(env.jobs, env.ledger, env.metrics, env.logger)
	env.coord = NewCoordinator(env.jobs, env.ledger, env.prov, env.fin, taskrunner.Inline{}, env.metrics, env.logger)
	return env
}

func (e *testEnv) reconciler(cfg ReconcilerConfig) *Reconciler {
	return NewReconciler(e.jobs, e.prov, e.fin, taskrunner.Inline{}, cfg, e.metrics, e.logger)
}

func imagePrompt(model string) domain.GenerationPrompt {
	return domain.GenerationPrompt{
		Kind:  domain.OutputImage,
		Text:  "a lighthouse at dusk",
		Model: model,
	}
}
