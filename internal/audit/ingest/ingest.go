// Package ingest shapes audit events into records and persists them,
// synchronously or through the deferred-write queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"scribe/internal/audit/models"
	"scribe/internal/audit/queue"
	"scribe/internal/audit/store"
	"scribe/internal/platform/metrics"
	"scribe/pkg/requestcontext"
)

// Ingestor builds audit records and writes them to the store, or hands
// them to the queue when deferred-write mode is configured.
type Ingestor struct {
	store     store.Client
	queue     queue.Queue // nil = synchronous writes
	table     string
	retention *time.Duration // nil = infinite retention, no expires_at
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// Option configures the Ingestor.
type Option func(*Ingestor)

// WithQueue switches the ingestor to deferred-write mode.
func WithQueue(q queue.Queue) Option {
	return func(i *Ingestor) { i.queue = q }
}

// WithRetention sets the expiry horizon; nil disables expiry.
func WithRetention(d *time.Duration) Option {
	return func(i *Ingestor) { i.retention = d }
}

// WithClock overrides the time source, making timestamps and expiry
// deterministic under test.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// WithLogger sets a logger for suppressed-failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingestor) { i.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// New creates an ingestor writing to the given store and table.
func New(st store.Client, table string, opts ...Option) (*Ingestor, error) {
	if st == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	ing := &Ingestor{
		store:  st,
		table:  table,
		now:    time.Now,
		tracer: otel.Tracer("scribe/audit/ingest"),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing, nil
}

// Ingest records one audit event. It never reports failure to the caller:
// a broken audit pipeline must not abort the business operation that
// triggered the event. Failures are logged and counted instead.
func (i *Ingestor) Ingest(ctx context.Context, event models.Event) {
	ctx, span := i.tracer.Start(ctx, "audit.Ingest")
	defer span.End()

	if err := i.ingest(ctx, event); err != nil {
		if i.metrics != nil {
			i.metrics.WritesSuppressed.Inc()
		}
		if i.logger != nil {
			i.logger.ErrorContext(ctx, "audit ingest failed, event dropped",
				"subject_type", event.SubjectType,
				"subject_id", event.SubjectID,
				"action", event.Action,
				"error", err,
			)
		}
	}
}

// ingest carries the real error so the suppression policy lives in exactly
// one place, the public wrapper above.
func (i *Ingestor) ingest(ctx context.Context, event models.Event) error {
	record, err := i.buildRecord(ctx, event)
	if err != nil {
		return err
	}

	if i.queue != nil {
		job := queue.Job{
			Record:     record,
			Table:      i.table,
			EnqueuedAt: i.now(),
		}
		if err := i.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue deferred write: %w", err)
		}
		if i.metrics != nil {
			i.metrics.DeferredEnqueued.Inc()
		}
		return nil
	}

	if err := i.store.PutItem(ctx, record); err != nil {
		return err
	}
	if i.metrics != nil {
		i.metrics.RecordsWritten.Inc()
	}
	return nil
}

func (i *Ingestor) buildRecord(ctx context.Context, event models.Event) (models.Record, error) {
	// The authenticated actor backfills what the event left blank, the
	// same way the origin fields fall back to request metadata below.
	event.ActorType = fallback(event.ActorType, requestcontext.ActorType(ctx))
	event.ActorID = fallback(event.ActorID, requestcontext.ActorID(ctx))

	created := i.timestamp(ctx)
	createdAt := created.Format(time.RFC3339Nano)
	auditID := "audit_" + uuid.NewString()

	action := event.Action
	if action == "" {
		action = "unknown"
	}

	before, err := serializeState(event.Before)
	if err != nil {
		return models.Record{}, fmt.Errorf("serialize before state: %w", err)
	}
	after, err := serializeState(event.After)
	if err != nil {
		return models.Record{}, fmt.Errorf("serialize after state: %w", err)
	}

	record := models.Record{
		PK:          partitionKey(event),
		SK:          sortKey(createdAt, action, auditID),
		AuditID:     auditID,
		AuditType:   models.TypeTag,
		ActorType:   event.ActorType,
		ActorID:     event.ActorID,
		Event:       action,
		SubjectType: event.SubjectType,
		SubjectID:   event.SubjectID,
		Before:      before,
		After:       after,
		OriginURL:   fallback(event.OriginURL, requestcontext.RequestURL(ctx)),
		OriginIP:    fallback(event.OriginIP, requestcontext.ClientIP(ctx)),
		OriginAgent: fallback(event.OriginAgent, requestcontext.UserAgent(ctx)),
		Tags:        normalizeTags(event.Tags),
		CreatedAt:   createdAt,
	}
	if i.retention != nil {
		record.ExpiresAt = created.Add(*i.retention).Unix()
	}
	return record, nil
}

// timestamp prefers the request-scoped time so every record written within
// one request shares the same created_at; workers and tests fall back to
// the ingestor's clock.
func (i *Ingestor) timestamp(ctx context.Context) time.Time {
	if t, ok := requestcontext.TimeOf(ctx); ok {
		return t.UTC()
	}
	return i.now().UTC()
}

// partitionKey groups records by actor when one is known, otherwise by the
// mutated subject.
func partitionKey(event models.Event) string {
	if event.ActorID != "" {
		return "ACTOR#" + event.ActorID
	}
	return event.SubjectType + "#" + event.SubjectID
}

// sortKey leads with the timestamp so reverse-order reads within one
// partition yield most-recent-first; the audit id suffix keeps it unique.
func sortKey(createdAt, action, auditID string) string {
	return createdAt + "#" + action + "#" + auditID
}

// serializeState renders a state snapshot as JSON, or nothing when the
// snapshot is empty: absent attributes are dropped instead of stored as
// placeholders.
func serializeState(state map[string]any) (string, error) {
	if len(state) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// normalizeTags trims whitespace and drops empties and duplicates,
// preserving order. Nil in, nil out, so the tags attribute stays absent
// on untagged records.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func fallback(value, alt string) string {
	if value != "" {
		return value
	}
	return alt
}
