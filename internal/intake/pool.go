package intake

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many CPU-heavy decode jobs run at once.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool with the given number of slots (minimum 1).
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Do runs fn once a slot is free. It returns ctx's error if the wait is cancelled.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}
