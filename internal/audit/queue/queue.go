// Package queue implements the deferred-write path: a task queue contract,
// the retry policy, and the processor that executes queued writes.
//
// Durability on this path is best-effort. A job that exhausts its attempts
// or outlives its deadline is dead: the failure is logged and counted for
// operators, and the record is gone. Audit logging must never become a
// reason a business operation fails, so nothing here reports back to the
// original caller.
package queue

import (
	"context"
	"log/slog"
	"time"

	"scribe/internal/audit/models"
	"scribe/internal/audit/store"
	"scribe/internal/platform/metrics"
)

// Job is one deferred write. Attempt counts failed executions so far;
// EnqueuedAt anchors the absolute deadline.
type Job struct {
	Record     models.Record `json:"record"`
	Table      string        `json:"table"`
	Attempt    int           `json:"attempt"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// Queue accepts jobs for out-of-band execution with at-least-once
// delivery. Duplicate delivery is safe: PutItem overwrites.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Policy bounds the retry behavior of deferred writes.
type Policy struct {
	MaxAttempts    int
	Backoff        []time.Duration
	Deadline       time.Duration
	AttemptTimeout time.Duration
}

// DefaultPolicy matches the documented schedule: five attempts with
// increasing delays and a ten-minute absolute deadline.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		Backoff:        []time.Duration{10 * time.Second, 30 * time.Second, 90 * time.Second, 180 * time.Second, 300 * time.Second},
		Deadline:       10 * time.Minute,
		AttemptTimeout: 60 * time.Second,
	}
}

// Delay returns the backoff before the given retry (1-based). Retries past
// the end of the schedule reuse its final entry.
func (p Policy) Delay(retry int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := retry - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// Disposition is the outcome of one processing attempt.
type Disposition int

const (
	Succeeded Disposition = iota
	Retry
	Dead
)

// Processor executes queued writes against the store. Queue
// implementations call Process once per delivery and act on the
// disposition: requeue after the returned delay, or drop.
type Processor struct {
	store   store.Client
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// ProcessorOption configures the Processor.
type ProcessorOption func(*Processor)

// WithLogger sets a logger for retry and dead-letter reporting.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithClock overrides the time source for deadline checks.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a processor with the given policy.
func NewProcessor(st store.Client, policy Policy, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:  st,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process attempts the write once. On failure it decides between retry
// (returning the backoff delay before the next attempt) and dead.
func (p *Processor) Process(ctx context.Context, job Job) (Disposition, time.Duration) {
	if !job.EnqueuedAt.IsZero() && p.now().Sub(job.EnqueuedAt) > p.policy.Deadline {
		p.dead(ctx, job, "deadline exceeded")
		return Dead, 0
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.policy.AttemptTimeout)
	err := p.store.PutItem(attemptCtx, job.Record)
	cancel()
	if err == nil {
		if p.metrics != nil {
			p.metrics.RecordsWritten.Inc()
		}
		return Succeeded, 0
	}

	failed := job.Attempt + 1
	if failed >= p.policy.MaxAttempts {
		p.dead(ctx, job, err.Error())
		return Dead, 0
	}

	if p.metrics != nil {
		p.metrics.DeferredRetries.Inc()
	}
	if p.logger != nil {
		p.logger.WarnContext(ctx, "deferred audit write failed, retrying",
			"audit_id", job.Record.AuditID,
			"table", job.Table,
			"attempt", failed,
			"error", err,
		)
	}
	return Retry, p.policy.Delay(failed)
}

func (p *Processor) dead(ctx context.Context, job Job, reason string) {
	if p.metrics != nil {
		p.metrics.DeferredDead.Inc()
	}
	if p.logger != nil {
		p.logger.ErrorContext(ctx, "deferred audit write dead, record lost",
			"audit_id", job.Record.AuditID,
			"table", job.Table,
			"attempts", job.Attempt+1,
			"reason", reason,
		)
	}
}
