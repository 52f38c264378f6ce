// Package uploadqueue runs background upload tasks and lets the caller wait
// until every task, including ones added while waiting, has finished.
package uploadqueue

import (
	"context"
	"sync"

	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Queue tracks in-flight tasks. Task failures are logged and collected; they
// never stop other tasks or fail Wait.
type Queue struct {
	ctx    context.Context
	logger logging.Logger

	mu      sync.Mutex
	pending int
	idle    chan struct{}
	started int
	failed  []error
}

// New returns a queue whose tasks run with ctx. Cancelling ctx is seen by
// tasks but does not remove them from the queue.
func New(ctx context.Context, logger logging.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{ctx: ctx, logger: logger, idle: idle}
}

// Append starts task immediately and tracks it until it returns.
func (q *Queue) Append(task Task) {
	q.mu.Lock()
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	q.started++
	q.mu.Unlock()

	go func() {
		err := task(q.ctx)

		q.mu.Lock()
		defer q.mu.Unlock()
		if err != nil {
			q.failed = append(q.failed, err)
			q.logger.Error("Upload task failed", logging.Err(err))
		}
		q.pending--
		if q.pending == 0 {
			close(q.idle)
		}
	}()
}

// Wait blocks until the queue is observed empty or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.pending == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pending returns the number of tasks still running.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Started returns how many tasks were ever appended.
func (q *Queue) Started() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

// Failed returns the errors of every failed task so far.
func (q *Queue) Failed() []error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]error(nil), q.failed...)
}
