package processors

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// WorkersPerProcess is the number of worker slots a single process occupies while it runs.
// A process acquires its slots together and holds them until its output streams were drained.
const WorkersPerProcess = 3

// Pool bounds the number of stream workers running across all processes.
// A nil Pool or a Pool created with limit 0 never blocks.
type Pool struct {
	slots *semaphore.Weighted
	limit int64
}

// NewPool creates a pool admitting at most limit concurrent workers. Zero means unbounded.
// A positive limit is raised to WorkersPerProcess so that one process can always make progress.
func NewPool(limit int64) *Pool {
	if limit <= 0 {
		return &Pool{}
	}
	if limit < WorkersPerProcess {
		limit = WorkersPerProcess
	}
	return &Pool{slots: semaphore.NewWeighted(limit), limit: limit}
}

// Limit reports the configured bound; zero means unbounded.
func (pool *Pool) Limit() int64 {
	if pool == nil {
		return 0
	}
	return pool.limit
}

func (pool *Pool) acquire(executionContext context.Context, slotCount int64) error {
	if pool == nil || pool.slots == nil || slotCount == 0 {
		return nil
	}
	return pool.slots.Acquire(executionContext, slotCount)
}

func (pool *Pool) release(slotCount int64) {
	if pool == nil || pool.slots == nil || slotCount == 0 {
		return
	}
	pool.slots.Release(slotCount)
}
