package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe/internal/audit/models"
	"scribe/internal/audit/store"
	"scribe/internal/audit/store/memory"
)

// countingStore wraps the memory store and tallies calls, so tests can
// assert which retrieval paths actually touched the store.
type countingStore struct {
	*memory.Store
	queries   int
	scans     int
	describes int
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New()}
}

func (c *countingStore) Query(ctx context.Context, in store.QueryInput) (store.Page, error) {
	c.queries++
	return c.Store.Query(ctx, in)
}

func (c *countingStore) Scan(ctx context.Context, in store.ScanInput) (store.Page, error) {
	c.scans++
	return c.Store.Scan(ctx, in)
}

func (c *countingStore) DescribeIndex(ctx context.Context, name string) (store.IndexStatus, error) {
	c.describes++
	return c.Store.DescribeIndex(ctx, name)
}

// stubStore returns canned pages, for shapes the memory store cannot
// produce (index and scan disagreeing about the same data).
type stubStore struct {
	queryPage store.Page
	queryErr  error
	scanPage  store.Page
	scanErr   error

	scanCalls  int
	lastScanIn store.ScanInput
}

func (s *stubStore) PutItem(context.Context, models.Record) error { return nil }

func (s *stubStore) Query(context.Context, store.QueryInput) (store.Page, error) {
	return s.queryPage, s.queryErr
}

func (s *stubStore) Scan(_ context.Context, in store.ScanInput) (store.Page, error) {
	s.scanCalls++
	s.lastScanIn = in
	return s.scanPage, s.scanErr
}

func (s *stubStore) DescribeIndex(context.Context, string) (store.IndexStatus, error) {
	return store.IndexStatus{Exists: true, Status: "ACTIVE"}, nil
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(subjectType, subjectID, actorID, event string, at time.Time) models.Record {
	createdAt := at.Format(time.RFC3339Nano)
	auditID := fmt.Sprintf("audit_%s-%s-%d", subjectType, subjectID, at.UnixNano())
	pk := subjectType + "#" + subjectID
	if actorID != "" {
		pk = "ACTOR#" + actorID
	}
	return models.Record{
		PK:          pk,
		SK:          createdAt + "#" + event + "#" + auditID,
		AuditID:     auditID,
		AuditType:   models.TypeTag,
		ActorID:     actorID,
		Event:       event,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		CreatedAt:   createdAt,
	}
}

func seed(t *testing.T, st store.Client, records ...models.Record) {
	t.Helper()
	for _, rec := range records {
		require.NoError(t, st.PutItem(context.Background(), rec))
	}
}

func TestSearch_PrimaryKeyNewestFirst(t *testing.T) {
	st := memory.New()
	seed(t, st,
		record("Wallet", "42", "", models.EventCreated, baseTime),
		record("Wallet", "42", "", models.EventUpdated, baseTime.Add(time.Minute)),
		record("Wallet", "99", "", models.EventCreated, baseTime),
	)

	svc := New(st)
	page := svc.Search(context.Background(), 10, nil, models.Filters{
		SubjectType: "Wallet", SubjectID: "42",
	})

	require.Empty(t, page.Error)
	require.Equal(t, 2, page.Count)
	assert.Equal(t, models.EventUpdated, page.Items[0].Event)
	assert.Equal(t, models.EventCreated, page.Items[1].Event)
}

func TestSearch_PrimaryKeyPagination(t *testing.T) {
	st := memory.New()
	seed(t, st,
		record("Wallet", "42", "", models.EventCreated, baseTime),
		record("Wallet", "42", "", models.EventUpdated, baseTime.Add(time.Minute)),
		record("Wallet", "42", "", models.EventDeleted, baseTime.Add(2*time.Minute)),
	)

	svc := New(st)
	filters := models.Filters{SubjectType: "Wallet", SubjectID: "42"}

	first := svc.Search(context.Background(), 2, nil, filters)
	require.Equal(t, 2, first.Count)
	require.NotNil(t, first.Cursor)
	assert.Equal(t, models.EventDeleted, first.Items[0].Event)

	second := svc.Search(context.Background(), 2, first.Cursor, filters)
	require.Equal(t, 1, second.Count)
	assert.Equal(t, models.EventCreated, second.Items[0].Event)
	assert.Nil(t, second.Cursor)
}

func TestSearch_PrimaryKeyDateRange(t *testing.T) {
	st := memory.New()
	seed(t, st,
		record("Wallet", "42", "", models.EventCreated, baseTime.Add(-48*time.Hour)),
		record("Wallet", "42", "", models.EventUpdated, baseTime),
		record("Wallet", "42", "", models.EventDeleted, baseTime.Add(48*time.Hour)),
	)

	svc := New(st)
	page := svc.Search(context.Background(), 10, nil, models.Filters{
		SubjectType: "Wallet",
		SubjectID:   "42",
		StartDate:   baseTime.Add(-time.Hour).Format(time.RFC3339),
		EndDate:     baseTime.Add(time.Hour).Format(time.RFC3339),
	})

	require.Equal(t, 1, page.Count)
	assert.Equal(t, models.EventUpdated, page.Items[0].Event)
	// The range is filtered client-side, so the store still examined
	// everything in the over-fetched window.
	assert.Equal(t, 3, page.ScannedCount)
}

func TestSearch_PrimaryKeyDateRangeInclusiveBounds(t *testing.T) {
	st := memory.New()
	seed(t, st, record("Wallet", "42", "", models.EventUpdated, baseTime))

	svc := New(st)
	exact := baseTime.Format(time.RFC3339Nano)
	page := svc.Search(context.Background(), 10, nil, models.Filters{
		SubjectType: "Wallet",
		SubjectID:   "42",
		StartDate:   exact,
		EndDate:     exact,
	})

	assert.Equal(t, 1, page.Count)
}

func TestSearch_PrimaryKeyActorEventFilter(t *testing.T) {
	st := memory.New()
	seed(t, st,
		record("Wallet", "42", "", models.EventCreated, baseTime),
		record("Wallet", "42", "", models.EventUpdated, baseTime.Add(time.Minute)),
	)

	svc := New(st)
	page := svc.Search(context.Background(), 10, nil, models.Filters{
		SubjectType: "Wallet",
		SubjectID:   "42",
		Event:       models.EventCreated,
	})

	require.Equal(t, 1, page.Count)
	assert.Equal(t, models.EventCreated, page.Items[0].Event)
}

func TestSearch_PrimaryKeyErrorPage(t *testing.T) {
	st := memory.New()
	st.FailQueries(errors.New("throttled"))

	svc := New(st)
	page := svc.Search(context.Background(), 10, nil, models.Filters{
		SubjectType: "Wallet", SubjectID: "42",
	})

	assert.Equal(t, "audit query failed", page.Error)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.Count)
}

func TestSearch_PartialSubjectRejectedWithoutStoreCalls(t *testing.T) {
	st := newCountingStore()
	svc := New(st, WithIndex("created-at-index", false))

	for _, filters := range []models.Filters{
		{SubjectID: "42"},
		{SubjectType: "Wallet"},
	} {
		page := svc.Search(context.Background(), 10, nil, filters)
		assert.Equal(t, "for fast search, please provide both subject_id and subject_type", page.Message)
		assert.Empty(t, page.Error)
		assert.NotNil(t, page.Items)
		assert.Zero(t, page.Count)
	}

	assert.Zero(t, st.queries)
	assert.Zero(t, st.scans)
	assert.Zero(t, st.describes)
}

func TestSearch_DefaultLimit(t *testing.T) {
	st := memory.New()
	for i := 0; i < 30; i++ {
		seed(t, st, record("Wallet", "42", "", models.EventUpdated, baseTime.Add(time.Duration(i)*time.Minute)))
	}

	svc := New(st)
	page := svc.Search(context.Background(), 0, nil, models.Filters{
		SubjectType: "Wallet", SubjectID: "42",
	})

	assert.Equal(t, 25, page.Count)
	assert.NotNil(t, page.Cursor)
}

func TestSearch_IndexOnly(t *testing.T) {
	st := newCountingStore()
	seed(t, st,
		record("Wallet", "1", "", models.EventCreated, baseTime),
		record("Wallet", "2", "", models.EventUpdated, baseTime.Add(time.Minute)),
	)

	svc := New(st, WithIndex("created-at-index", true))
	page := svc.Search(context.Background(), 10, nil, models.Filters{})

	require.Equal(t, 2, page.Count)
	assert.Equal(t, models.EventUpdated, page.Items[0].Event)
	assert.Equal(t, models.EventCreated, page.Items[1].Event)
	assert.Zero(t, st.scans, "index-only must not touch the base table")
}

func TestSearch_IndexOnlyDateRange(t *testing.T) {
	st := memory.New()
	seed(t, st,
		record("Wallet", "1", "", models.EventCreated, baseTime.Add(-48*time.Hour)),
		record("Wallet", "2", "", models.EventUpdated, baseTime),
	)

	svc := New(st, WithIndex("created-at-index", true))
	page := svc.Search(context.Background(), 10, nil, models.Filters{
		StartDate: baseTime.Add(-time.Hour).Format(time.RFC3339),
	})

	require.Equal(t, 1, page.Count)
	assert.Equal(t, "2", page.Items[0].SubjectID)
}

func TestSearch_IndexNotReadyFallsBackToScan(t *testing.T) {
	st := newCountingStore()
	st.SetIndexStatus(store.IndexStatus{Exists: true, Status: "CREATING"})
	seed(t, st, record("Wallet", "42", "", models.EventCreated, baseTime))

	svc := New(st, WithIndex("created-at-index", true))
	page := svc.Search(context.Background(), 10, nil, models.Filters{})

	require.Equal(t, 1, page.Count)
	assert.Zero(t, st.queries)
	assert.Equal(t, 1, st.scans)
}

func TestSearch_IndexProbeErrorFallsBackToScan(t *testing.T) {
	st := newCountingStore()
	st.FailDescribes(errors.New("access denied"))
	seed(t, st, record("Wallet", "42", "", models.EventCreated, baseTime))

	svc := New(st, WithIndex("created-at-index", true))
	page := svc.Search(context.Background(), 10, nil, models.Filters{})

	require.Equal(t, 1, page.Count)
	assert.Zero(t, st.queries)
}

func TestSearch_IndexErrorFallsBackToScan(t *testing.T) {
	st := newCountingStore()
	st.FailQueries(errors.New("throttled"))
	seed(t, st, record("Wallet", "42", "", models.EventCreated, baseTime))

	svc := New(st, WithIndex("created-at-index", true))
	page := svc.Search(context.Background(), 10, nil, models.Filters{})

	require.Empty(t, page.Error)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, 1, st.scans)
}

func TestSearch_HybridIndexSatisfiesLimit(t *testing.T) {
	st := newCountingStore()
	seed(t, st,
		record("Wallet", "1", "", models.EventCreated, baseTime),
		record("Wallet", "2", "", models.EventUpdated, baseTime.Add(time.Minute)),
		record("Wallet", "3", "", models.EventDeleted, baseTime.Add(2*time.Minute)),
	)

	svc := New(st, WithIndex("created-at-index", false))
	page := svc.Search(context.Background(), 2, nil, models.Filters{})

	require.Equal(t, 2, page.Count)
	assert.Zero(t, st.scans, "a full index page must skip the scan leg")
	// The index leg restarts every call, so its last key is not a resume
	// token and must never leak out as the page cursor.
	assert.Nil(t, page.Cursor, "an index-satisfied page ends pagination")
}

func TestSearch_HybridIndexSatisfiedPageNeverRepeats(t *testing.T) {
	st := newCountingStore()
	for i := 0; i < 5; i++ {
		seed(t, st, record("Wallet", fmt.Sprint(i), "", models.EventUpdated, baseTime.Add(time.Duration(i)*time.Minute)))
	}

	svc := New(st, WithIndex("created-at-index", false))

	first := svc.Search(context.Background(), 2, nil, models.Filters{})
	require.Equal(t, 2, first.Count)

	// Round-tripping whatever cursor came back must not replay the first
	// page with the same cursor again.
	second := svc.Search(context.Background(), 2, first.Cursor, models.Filters{})
	if first.Cursor != nil {
		require.NotEqual(t, first.Items, second.Items, "pagination must advance")
	}
	assert.Nil(t, first.Cursor)
}

func TestSearch_HybridMergesDedupesAndSorts(t *testing.T) {
	newer := record("Wallet", "1", "", models.EventUpdated, baseTime.Add(time.Minute))
	older := record("Wallet", "2", "", models.EventCreated, baseTime)
	oldest := record("Wallet", "3", "", models.EventDeleted, baseTime.Add(-time.Minute))

	st := &stubStore{
		queryPage: store.Page{Items: []models.Record{older}, Count: 1, ScannedCount: 4},
		scanPage: store.Page{
			Items:        []models.Record{oldest, older, newer}, // older arrives from both legs
			Count:        3,
			ScannedCount: 7,
			LastKey:      models.PageKey{"PK": oldest.PK, "SK": oldest.SK},
		},
	}

	svc := New(st, WithIndex("created-at-index", false))
	page := svc.Search(context.Background(), 3, nil, models.Filters{})

	require.Empty(t, page.Error)
	require.Equal(t, 3, page.Count)
	assert.Equal(t, newer.AuditID, page.Items[0].AuditID)
	assert.Equal(t, older.AuditID, page.Items[1].AuditID)
	assert.Equal(t, oldest.AuditID, page.Items[2].AuditID)
	assert.Equal(t, 11, page.ScannedCount, "scanned_count sums both legs")
	assert.Equal(t, st.scanPage.LastKey, page.Cursor, "cursor belongs to the scan leg")
}

func TestSearch_HybridCursorGoesToScanLeg(t *testing.T) {
	st := &stubStore{
		queryPage: store.Page{},
		scanPage:  store.Page{},
	}
	cursor := models.PageKey{"PK": "Wallet#1", "SK": "x"}

	svc := New(st, WithIndex("created-at-index", false))
	svc.Search(context.Background(), 5, cursor, models.Filters{})

	require.Equal(t, 1, st.scanCalls)
	assert.Equal(t, cursor, st.lastScanIn.StartKey)
	assert.Equal(t, 5, st.lastScanIn.Limit, "scan leg fetches what the index leg left over")
}

func TestSearch_ScanSortsClientSide(t *testing.T) {
	st := memory.New()
	// Partition-key order deliberately disagrees with recency.
	seed(t, st,
		record("Alpha", "1", "", models.EventCreated, baseTime),
		record("Beta", "2", "", models.EventUpdated, baseTime.Add(2*time.Minute)),
		record("Gamma", "3", "", models.EventDeleted, baseTime.Add(time.Minute)),
	)

	svc := New(st)
	page := svc.Search(context.Background(), 10, nil, models.Filters{})

	require.Equal(t, 3, page.Count)
	assert.Equal(t, "2", page.Items[0].SubjectID)
	assert.Equal(t, "3", page.Items[1].SubjectID)
	assert.Equal(t, "1", page.Items[2].SubjectID)
}

func TestSearch_ScanAppliesFilters(t *testing.T) {
	st := memory.New()
	seed(t, st,
		record("Wallet", "1", "u-1", models.EventCreated, baseTime),
		record("Wallet", "2", "u-2", models.EventUpdated, baseTime.Add(time.Minute)),
	)

	svc := New(st)
	page := svc.Search(context.Background(), 10, nil, models.Filters{ActorID: "u-2"})

	require.Equal(t, 1, page.Count)
	assert.Equal(t, "u-2", page.Items[0].ActorID)
}

func TestSearch_ScanErrorPage(t *testing.T) {
	st := memory.New()
	st.FailScans(errors.New("throttled"))

	svc := New(st)
	page := svc.Search(context.Background(), 10, nil, models.Filters{})

	assert.Equal(t, "failed to load recent audits", page.Error)
	assert.NotNil(t, page.Items)
	assert.Zero(t, page.Count)
}
