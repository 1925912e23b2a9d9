// Package memq is the in-process task queue: a buffered channel drained by
// a worker pool. It is the default deferred-write backend when Redis is
// not configured, and the queue double in tests.
package memq

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	dErrors "scribe/pkg/domain-errors"

	"scribe/internal/audit/queue"
)

type Queue struct {
	jobs      chan queue.Job
	processor *queue.Processor
}

// New creates an in-process queue feeding the given processor.
func New(processor *queue.Processor, buffer int) *Queue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Queue{
		jobs:      make(chan queue.Job, buffer),
		processor: processor,
	}
}

// Enqueue hands a job to the worker pool without blocking the caller.
// A full buffer is reported as unavailable; the caller's suppression
// policy decides what to do with that.
func (q *Queue) Enqueue(_ context.Context, job queue.Job) error {
	select {
	case q.jobs <- job:
		return nil
	default:
		return dErrors.New(dErrors.CodeUnavailable, "audit queue full")
	}
}

// Run drains the queue with the given number of workers until ctx is
// cancelled. Retries are rescheduled onto the same channel after their
// backoff delay.
func (q *Queue) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case job := <-q.jobs:
					q.handle(ctx, g, job)
				}
			}
		})
	}
	return g.Wait()
}

func (q *Queue) handle(ctx context.Context, g *errgroup.Group, job queue.Job) {
	disposition, delay := q.processor.Process(ctx, job)
	if disposition != queue.Retry {
		return
	}
	retry := job
	retry.Attempt++
	g.Go(func() error {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		select {
		case <-ctx.Done():
		case q.jobs <- retry:
		}
		return nil
	})
}
