package pipeline

import (
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// AutoConcurrency sizes the worker pool to GOMAXPROCS.
const AutoConcurrency = -1

// Pool bounds the goroutines used for region computation. A task that cannot
// get a worker slot runs on the calling goroutine, so nested fan-out from
// inside a worker never waits on a slot and cannot deadlock.
type Pool struct {
	workers int
	sem     *semaphore.Weighted
}

// NewPool creates a pool with n extra workers. n == 0 runs every task on the
// caller; AutoConcurrency uses GOMAXPROCS.
func NewPool(n int) *Pool {
	if n == AutoConcurrency {
		n = runtime.GOMAXPROCS(0)
	}
	if n <= 0 {
		return &Pool{}
	}
	return &Pool{workers: n, sem: semaphore.NewWeighted(int64(n))}
}

// Workers returns the worker count, 0 for single-threaded.
func (p *Pool) Workers() int {
	return p.workers
}

// Run executes every task and returns the first error. All tasks run to
// completion; there is no cancellation.
func (p *Pool) Run(tasks ...func() error) error {
	if p.sem == nil || len(tasks) < 2 {
		var first error
		for _, t := range tasks {
			if err := t(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	var (
		g         errgroup.Group
		inlineErr error
	)
	last := len(tasks) - 1
	for i, t := range tasks {
		if i < last && p.sem.TryAcquire(1) {
			g.Go(func() error {
				defer p.sem.Release(1)
				return t()
			})
			continue
		}
		if err := t(); err != nil && inlineErr == nil {
			inlineErr = err
		}
	}
	if err := g.Wait(); err != nil && inlineErr == nil {
		return err
	}
	return inlineErr
}
