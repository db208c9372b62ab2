package taskrunner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"genserver/internal/infra"
)

// Task is one idempotent unit of background work, keyed by job id so that
// redelivery is safe.
type Task func(ctx context.Context) error

// Runner executes tasks either inline with the caller or on a worker pool.
type Runner interface {
	Run(ctx context.Context, key string, task Task) error
}

// Inline executes the task synchronously and returns its error. The
// submission coordinator uses it so dispatch failures surface to the caller.
type Inline struct{}

func (Inline) Run(ctx context.Context, _ string, task Task) error {
	return task(ctx)
}

// Pool executes tasks on a bounded worker pool. A task whose key is already
// in flight is dropped: operations are idempotent per job, so collapsing
// duplicate deliveries is safe and keeps one writer per job inside this
// process.
type Pool struct {
	group  *errgroup.Group
	logger infra.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewPool creates a pool running at most limit tasks concurrently.
func NewPool(limit int, logger infra.Logger) *Pool {
	group := new(errgroup.Group)
	if limit > 0 {
		group.SetLimit(limit)
	}
	return &Pool{
		group:    group,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Run schedules the task. It blocks only when the pool is at capacity and
// always returns nil: task errors are logged, not propagated, because the
// task's own state (the job record) is the source of truth.
func (p *Pool) Run(ctx context.Context, key string, task Task) error {
	p.mu.Lock()
	if _, busy := p.inflight[key]; busy {
		p.mu.Unlock()
		p.logger.Debug().Str("task_key", key).Msg("taskrunner: duplicate task dropped")
		return nil
	}
	p.inflight[key] = struct{}{}
	p.mu.Unlock()

	p.group.Go(func() error {
		defer func() {
			p.mu.Lock()
			delete(p.inflight, key)
			p.mu.Unlock()
		}()
		if err := task(ctx); err != nil {
			p.logger.Error().Err(err).Str("task_key", key).Msg("taskrunner: task failed")
		}
		return nil
	})
	return nil
}

// Wait blocks until all in-flight tasks have finished.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}

var (
	_ Runner = Inline{}
	_ Runner = (*Pool)(nil)
)
