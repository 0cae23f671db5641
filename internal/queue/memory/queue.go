// Package memory provides the in-process admission queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/sitecapture/internal/queue"
)

// Queue is a bounded in-memory FIFO with context-aware operations. When the
// buffer is full, Enqueue blocks and blocked callers are served in order.
type Queue struct {
	ch        chan *queue.Job
	closed    chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:     make(chan *queue.Job, capacity),
		closed: make(chan struct{}),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job *queue.Job) error {
	select {
	case <-q.closed:
		return queue.ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.closed:
		return queue.ErrClosed
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.closed:
		return nil, queue.ErrClosed
	case job := <-q.ch:
		return job, nil
	}
}

// Len reports buffered jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Closed is closed once Close runs.
func (q *Queue) Closed() <-chan struct{} {
	return q.closed
}

// Close stops the queue. Buffered jobs are left for their callers to abandon.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}
