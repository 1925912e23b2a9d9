// Package redisq is the Redis-backed task queue: a ready list consumed by
// workers and a sorted-set retry schedule scored by not-before time.
// Delivery is at-least-once; the idempotent store write makes duplicate
// delivery harmless.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"scribe/internal/audit/queue"
)

const (
	readyKey = "scribe:audit:ready"
	retryKey = "scribe:audit:retry"

	popTimeout   = 2 * time.Second
	moveInterval = time.Second
)

type Queue struct {
	client    *redis.Client
	processor *queue.Processor
	logger    *slog.Logger
}

// New creates a Redis-backed queue feeding the given processor. A nil
// logger silences the queue's failure reporting.
func New(client *redis.Client, processor *queue.Processor, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{client: client, processor: processor, logger: logger}
}

// Enqueue pushes a job onto the ready list.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal audit job: %w", err)
	}
	if err := q.client.LPush(ctx, readyKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue audit job: %w", err)
	}
	return nil
}

// Run consumes the ready list with the given number of workers and
// promotes due retries, until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return q.moveDueRetries(ctx) })
	for range workers {
		g.Go(func() error { return q.consume(ctx) })
	}
	return g.Wait()
}

func (q *Queue) consume(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := q.client.BRPop(ctx, popTimeout, readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.WarnContext(ctx, "audit queue pop failed", "error", err)
			continue
		}
		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		q.handle(ctx, []byte(res[1]))
	}
}

func (q *Queue) handle(ctx context.Context, payload []byte) {
	var job queue.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		q.logger.ErrorContext(ctx, "dropping malformed audit job", "error", err)
		return
	}
	disposition, delay := q.processor.Process(ctx, job)
	if disposition != queue.Retry {
		return
	}
	job.Attempt++
	if err := q.scheduleRetry(ctx, job, delay); err != nil {
		q.logger.ErrorContext(ctx, "failed to schedule audit retry, record lost",
			"audit_id", job.Record.AuditID,
			"error", err,
		)
	}
}

func (q *Queue) scheduleRetry(ctx context.Context, job queue.Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal audit retry: %w", err)
	}
	notBefore := float64(time.Now().Add(delay).UnixMilli())
	return q.client.ZAdd(ctx, retryKey, redis.Z{Score: notBefore, Member: payload}).Err()
}

// moveDueRetries promotes retry entries whose not-before time has passed
// back onto the ready list.
func (q *Queue) moveDueRetries(ctx context.Context) error {
	ticker := time.NewTicker(moveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		due, err := q.client.ZRangeByScore(ctx, retryKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: now,
		}).Result()
		if err != nil {
			q.logger.WarnContext(ctx, "audit retry sweep failed", "error", err)
			continue
		}
		for _, member := range due {
			// Remove first so a concurrent sweeper cannot double-promote.
			removed, err := q.client.ZRem(ctx, retryKey, member).Result()
			if err != nil || removed == 0 {
				continue
			}
			if err := q.client.LPush(ctx, readyKey, member).Err(); err != nil {
				q.logger.WarnContext(ctx, "audit retry promotion failed", "error", err)
			}
		}
	}
}
