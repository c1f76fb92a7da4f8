// Package workerpool implements the bounded, worker-local intra-job
// concurrency spec.md §5 requires: each job is processed in full by one
// worker, and any intra-job parallelism must be bounded by a worker-local
// pool with explicit cancellation propagation. Built on
// golang.org/x/sync/errgroup and golang.org/x/sync/semaphore, the pack's
// standard answer to bounded fan-out (DataDog, apptainer, knative-func and
// opa's manifests all carry golang.org/x/sync).
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent work to at most N in-flight tasks and cancels the
// remaining tasks as soon as one returns an error.
type Pool struct {
	sem *semaphore.Weighted
	grp *errgroup.Group
	ctx context.Context
}

// New creates a Pool bounded to size concurrent tasks. size <= 0 is
// treated as 1 (sequential, but still going through the same code path so
// cancellation propagation is exercised identically).
func New(ctx context.Context, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	grp, grpCtx := errgroup.WithContext(ctx)
	return &Pool{
		sem: semaphore.NewWeighted(int64(size)),
		grp: grp,
		ctx: grpCtx,
	}
}

// Go schedules fn on a new goroutine and returns without blocking; that
// goroutine waits for a pool slot before running fn. If the pool's context
// is cancelled before a slot is acquired (e.g. by a sibling task's error),
// fn is not run and the cancellation error is reported through Wait.
func (p *Pool) Go(fn func(ctx context.Context) error) {
	p.grp.Go(func() error {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)
		return fn(p.ctx)
	})
}

// Wait blocks until every scheduled task has returned, and returns the
// first non-nil error (if any).
func (p *Pool) Wait() error {
	return p.grp.Wait()
}
