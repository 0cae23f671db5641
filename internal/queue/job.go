// Package queue defines the admission job and the queue contract the
// dispatcher and workers share.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// ErrClosed is returned once the queue stops accepting or handing out jobs.
var ErrClosed = errors.New("queue closed")

// ErrPanicked matches any *PanicError.
var ErrPanicked = errors.New("task panicked")

// PanicError carries a value recovered from a task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap lets errors.Is match ErrPanicked.
func (e *PanicError) Unwrap() error {
	return ErrPanicked
}

// Queue provides FIFO enqueue/dequeue semantics for admission jobs.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context) (*Job, error)
	// Closed is closed when the queue shuts down.
	Closed() <-chan struct{}
}

const (
	stateWaiting int32 = iota
	stateRunning
	stateAbandoned
)

// Job is a unit of capture work waiting for a worker. Exactly one of Admit
// or Abandon succeeds for each job.
type Job struct {
	ID string

	ctx   context.Context
	task  func(context.Context) error
	state atomic.Int32
	done  chan error
}

// NewJob wraps task. The task runs with ctx's values but not its
// cancellation: once admitted, work is never interrupted by the caller.
func NewJob(ctx context.Context, id string, task func(context.Context) error) *Job {
	return &Job{
		ID:   id,
		ctx:  context.WithoutCancel(ctx),
		task: task,
		done: make(chan error, 1),
	}
}

// Admit claims the job for a worker. It fails if the caller already gave up.
func (j *Job) Admit() bool {
	return j.state.CompareAndSwap(stateWaiting, stateRunning)
}

// Abandon withdraws a job that has not been admitted yet.
func (j *Job) Abandon() bool {
	return j.state.CompareAndSwap(stateWaiting, stateAbandoned)
}

// Run executes the task and reports its error on Done. A panicking task
// is reported as a *PanicError so the worker survives it.
func (j *Job) Run() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
		j.done <- err
	}()
	return j.task(j.ctx)
}

// Done delivers the task's error once Run finishes.
func (j *Job) Done() <-chan error {
	return j.done
}

// Stats tracks how many jobs wait for admission and how many run.
type Stats struct {
	pending  atomic.Int64
	active   atomic.Int64
	observer func(pending, active int)
}

// NewStats returns Stats that call observer after every change.
func NewStats(observer func(pending, active int)) *Stats {
	return &Stats{observer: observer}
}

// Pending returns the number of jobs waiting for a worker.
func (s *Stats) Pending() int { return int(s.pending.Load()) }

// Active returns the number of running jobs.
func (s *Stats) Active() int { return int(s.active.Load()) }

// Submitted records a new waiting job.
func (s *Stats) Submitted() { s.pending.Add(1); s.publish() }

// Withdrawn records a waiting job that will never run.
func (s *Stats) Withdrawn() { s.pending.Add(-1); s.publish() }

// Started moves a job from waiting to running.
func (s *Stats) Started() {
	s.pending.Add(-1)
	s.active.Add(1)
	s.publish()
}

// Finished records a completed job.
func (s *Stats) Finished() { s.active.Add(-1); s.publish() }

func (s *Stats) publish() {
	if s.observer != nil {
		s.observer(s.Pending(), s.Active())
	}
}
