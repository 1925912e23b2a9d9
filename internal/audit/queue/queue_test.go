package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe/internal/audit/models"
	"scribe/internal/audit/store/memory"
)

func testJob(enqueuedAt time.Time, attempt int) Job {
	return Job{
		Record: models.Record{
			PK:      "Wallet#42",
			SK:      "2026-03-01T12:00:00Z#updated#audit_1",
			AuditID: "audit_1",
		},
		Table:      "audit-logs",
		Attempt:    attempt,
		EnqueuedAt: enqueuedAt,
	}
}

func TestProcess_Succeeds(t *testing.T) {
	st := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewProcessor(st, DefaultPolicy(), WithClock(func() time.Time { return now }))

	disposition, delay := p.Process(context.Background(), testJob(now, 0))

	assert.Equal(t, Succeeded, disposition)
	assert.Zero(t, delay)
	assert.Equal(t, 1, st.Len())
}

func TestProcess_DuplicateDeliveryIsIdempotent(t *testing.T) {
	st := memory.New()
	p := NewProcessor(st, DefaultPolicy())
	job := testJob(time.Now(), 0)

	disposition, _ := p.Process(context.Background(), job)
	require.Equal(t, Succeeded, disposition)
	disposition, _ = p.Process(context.Background(), job)
	require.Equal(t, Succeeded, disposition)

	assert.Equal(t, 1, st.Len())
}

func TestProcess_FailureSchedulesRetry(t *testing.T) {
	st := memory.New()
	st.FailPuts(errors.New("throttled"))
	p := NewProcessor(st, DefaultPolicy())

	disposition, delay := p.Process(context.Background(), testJob(time.Now(), 0))
	assert.Equal(t, Retry, disposition)
	assert.Equal(t, 10*time.Second, delay)

	disposition, delay = p.Process(context.Background(), testJob(time.Now(), 1))
	assert.Equal(t, Retry, disposition)
	assert.Equal(t, 30*time.Second, delay)
}

func TestProcess_ExhaustedAttemptsAreDead(t *testing.T) {
	st := memory.New()
	st.FailPuts(errors.New("throttled"))
	p := NewProcessor(st, DefaultPolicy())

	disposition, delay := p.Process(context.Background(), testJob(time.Now(), 4))

	assert.Equal(t, Dead, disposition)
	assert.Zero(t, delay)
	assert.Zero(t, st.Len())
}

func TestProcess_DeadlineExceededIsDeadWithoutAttempt(t *testing.T) {
	st := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewProcessor(st, DefaultPolicy(), WithClock(func() time.Time { return now }))

	enqueued := now.Add(-11 * time.Minute)
	disposition, _ := p.Process(context.Background(), testJob(enqueued, 0))

	assert.Equal(t, Dead, disposition)
	assert.Zero(t, st.Len(), "a dead job must not be written")
}

func TestProcess_ZeroEnqueuedAtSkipsDeadlineCheck(t *testing.T) {
	st := memory.New()
	p := NewProcessor(st, DefaultPolicy())

	disposition, _ := p.Process(context.Background(), testJob(time.Time{}, 0))

	assert.Equal(t, Succeeded, disposition)
}

func TestPolicy_DelaySchedule(t *testing.T) {
	policy := DefaultPolicy()

	assert.Equal(t, 10*time.Second, policy.Delay(1))
	assert.Equal(t, 30*time.Second, policy.Delay(2))
	assert.Equal(t, 90*time.Second, policy.Delay(3))
	assert.Equal(t, 180*time.Second, policy.Delay(4))
	assert.Equal(t, 300*time.Second, policy.Delay(5))
	// Past the schedule the last entry repeats.
	assert.Equal(t, 300*time.Second, policy.Delay(9))
	assert.Equal(t, 10*time.Second, policy.Delay(0))

	assert.Zero(t, Policy{}.Delay(1))
}
