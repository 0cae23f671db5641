// Package worker implements the admission execution loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecapture/internal/queue"
)

// Worker consumes admission jobs one at a time.
type Worker struct {
	queue  queue.Queue
	stats  *queue.Stats
	logger *zap.Logger
}

// New constructs a Worker.
func New(q queue.Queue, stats *queue.Stats, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = queue.NewStats(nil)
	}
	return &Worker{
		queue:  q,
		stats:  stats,
		logger: logger,
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
// A job that is already running is always finished first.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(job)
	}
}

func (w *Worker) process(job *queue.Job) {
	if !job.Admit() {
		w.logger.Debug("skipping abandoned job", zap.String("job_id", job.ID))
		return
	}
	w.stats.Started()
	defer w.stats.Finished()

	w.logger.Debug("job admitted", zap.String("job_id", job.ID))
	if err := job.Run(); err != nil {
		w.logger.Warn("job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
