// Package dispatcher admits capture work into a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecapture/internal/queue"
	"github.com/JakeFAU/sitecapture/internal/worker"
)

// IDGenerator produces job IDs for logs.
type IDGenerator interface {
	NewID() (string, error)
}

// Closer is implemented by queues that can be shut down.
type Closer interface {
	Close()
}

// Dispatcher fans queued work out to a pool of workers. At most one job
// per worker runs at a time; the rest wait in queue order.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
	stats   *queue.Stats
	ids     IDGenerator
	logger  *zap.Logger
	stop    sync.Once
}

// New creates a Dispatcher with concurrency workers sharing q.
func New(q queue.Queue, concurrency int, stats *queue.Stats, ids IDGenerator, logger *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if stats == nil {
		stats = queue.NewStats(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := make([]*worker.Worker, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		workers = append(workers, worker.New(q, stats, logger.With(zap.Int("worker", i))))
	}
	return &Dispatcher{
		queue:   q,
		workers: workers,
		stats:   stats,
		ids:     ids,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes. The queue
// is closed on return so waiting callers are released.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	d.Close()
	wg.Wait()
}

// Close stops admitting new work.
func (d *Dispatcher) Close() {
	d.stop.Do(func() {
		if c, ok := d.queue.(Closer); ok {
			c.Close()
		}
	})
}

// Do enqueues task and waits for it. If ctx ends before a worker admits
// the task, it is withdrawn and never runs. Once admitted, Do waits for
// the task to finish regardless of ctx.
func (d *Dispatcher) Do(ctx context.Context, task func(context.Context) error) error {
	id := ""
	if d.ids != nil {
		if generated, err := d.ids.NewID(); err == nil {
			id = generated
		}
	}
	job := queue.NewJob(ctx, id, task)

	d.stats.Submitted()
	if err := d.queue.Enqueue(ctx, job); err != nil {
		d.stats.Withdrawn()
		if errors.Is(err, queue.ErrClosed) {
			return queue.ErrClosed
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}

	select {
	case err := <-job.Done():
		return err
	case <-ctx.Done():
		if job.Abandon() {
			d.stats.Withdrawn()
			d.logger.Debug("job abandoned before admission", zap.String("job_id", id))
			return fmt.Errorf("abandoned before admission: %w", ctx.Err())
		}
		return <-job.Done()
	case <-d.queue.Closed():
		if job.Abandon() {
			d.stats.Withdrawn()
			return queue.ErrClosed
		}
		return <-job.Done()
	}
}

// Pending returns the number of jobs waiting for a worker.
func (d *Dispatcher) Pending() int {
	return d.stats.Pending()
}

// Active returns the number of jobs currently running.
func (d *Dispatcher) Active() int {
	return d.stats.Active()
}
