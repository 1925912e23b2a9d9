// Package memory implements the store contract in process memory. It is
// the test double for the engine and a zero-dependency local backend.
// Limit semantics mirror DynamoDB: the limit bounds items examined before
// filtering, and a page key is returned whenever more items remain.
package memory

import (
	"context"
	"sort"
	"sync"

	"scribe/internal/audit/models"
	"scribe/internal/audit/store"
)

type Store struct {
	mu      sync.RWMutex
	records map[string][]models.Record // partition key -> records sorted by SK ascending

	indexStatus store.IndexStatus
	putErr      error
	queryErr    error
	scanErr     error
	describeErr error
}

func New() *Store {
	return &Store{
		records:     make(map[string][]models.Record),
		indexStatus: store.IndexStatus{Exists: true, Status: "ACTIVE"},
	}
}

// SetIndexStatus overrides the reported index status.
func (s *Store) SetIndexStatus(status store.IndexStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexStatus = status
}

// FailPuts makes subsequent PutItem calls return err; nil restores writes.
func (s *Store) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// FailQueries makes subsequent Query calls return err; nil restores reads.
func (s *Store) FailQueries(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr = err
}

// FailScans makes subsequent Scan calls return err; nil restores reads.
func (s *Store) FailScans(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanErr = err
}

// FailDescribes makes subsequent DescribeIndex calls return err.
func (s *Store) FailDescribes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.describeErr = err
}

// Len returns the total number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, recs := range s.records {
		n += len(recs)
	}
	return n
}

// Get returns the record at (pk, sk), if present.
func (s *Store) Get(pk, sk string) (models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records[pk] {
		if rec.SK == sk {
			return rec, true
		}
	}
	return models.Record{}, false
}

func (s *Store) PutItem(_ context.Context, record models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	recs := s.records[record.PK]
	for i, existing := range recs {
		if existing.SK == record.SK {
			recs[i] = record // idempotent overwrite
			return nil
		}
	}
	recs = append(recs, record)
	sort.Slice(recs, func(i, j int) bool { return recs[i].SK < recs[j].SK })
	s.records[record.PK] = recs
	return nil
}

func (s *Store) Query(_ context.Context, in store.QueryInput) (store.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queryErr != nil {
		return store.Page{}, s.queryErr
	}
	if in.IndexName == "" {
		return s.queryBase(in), nil
	}
	return s.queryIndex(in), nil
}

// queryBase walks one partition newest-first.
func (s *Store) queryBase(in store.QueryInput) store.Page {
	recs := s.records[in.PartitionKey]

	startSK, resuming := in.StartKey["SK"]
	var candidates []models.Record
	// Reverse order: descending SK, skipping anything at or above the
	// resume point.
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if resuming && rec.SK >= startSK {
			continue
		}
		candidates = append(candidates, rec)
	}

	page := store.Page{}
	for i, rec := range candidates {
		if in.Limit > 0 && page.ScannedCount >= in.Limit {
			break
		}
		page.ScannedCount++
		if matchFilter(rec, in.Filter) {
			page.Items = append(page.Items, rec)
		}
		if in.Limit > 0 && page.ScannedCount >= in.Limit && i < len(candidates)-1 {
			page.LastKey = models.PageKey{"PK": rec.PK, "SK": rec.SK}
		}
	}
	page.Count = len(page.Items)
	return page
}

// queryIndex serves the (audit_type, created_at) index.
func (s *Store) queryIndex(in store.QueryInput) store.Page {
	var candidates []models.Record
	for _, recs := range s.records {
		for _, rec := range recs {
			if rec.AuditType != in.PartitionKey {
				continue
			}
			if in.Range != nil {
				if in.Range.Start != "" && rec.CreatedAt < in.Range.Start {
					continue
				}
				if in.Range.End != "" && rec.CreatedAt > in.Range.End {
					continue
				}
			}
			candidates = append(candidates, rec)
		}
	}
	// Descending created_at, SK as a deterministic tie-break.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt != candidates[j].CreatedAt {
			return candidates[i].CreatedAt > candidates[j].CreatedAt
		}
		return candidates[i].SK > candidates[j].SK
	})

	page := store.Page{}
	resumeCreated, resuming := in.StartKey["created_at"]
	resumeSK := in.StartKey["SK"]
	for i, rec := range candidates {
		if resuming {
			if rec.CreatedAt > resumeCreated || (rec.CreatedAt == resumeCreated && rec.SK >= resumeSK) {
				continue
			}
		}
		if in.Limit > 0 && page.ScannedCount >= in.Limit {
			break
		}
		page.ScannedCount++
		if matchFilter(rec, in.Filter) {
			page.Items = append(page.Items, rec)
		}
		if in.Limit > 0 && page.ScannedCount >= in.Limit && i < len(candidates)-1 {
			page.LastKey = models.PageKey{
				"PK":         rec.PK,
				"SK":         rec.SK,
				"audit_type": rec.AuditType,
				"created_at": rec.CreatedAt,
			}
		}
	}
	page.Count = len(page.Items)
	return page
}

func (s *Store) Scan(_ context.Context, in store.ScanInput) (store.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.scanErr != nil {
		return store.Page{}, s.scanErr
	}

	// Deterministic full-table order: partition key, then sort key.
	pks := make([]string, 0, len(s.records))
	for pk := range s.records {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	var all []models.Record
	for _, pk := range pks {
		all = append(all, s.records[pk]...)
	}

	page := store.Page{}
	resumePK, resuming := in.StartKey["PK"]
	resumeSK := in.StartKey["SK"]
	for i, rec := range all {
		if resuming {
			if rec.PK < resumePK || (rec.PK == resumePK && rec.SK <= resumeSK) {
				continue
			}
		}
		if in.Limit > 0 && page.ScannedCount >= in.Limit {
			break
		}
		page.ScannedCount++
		if matchScanFilter(rec, in.Filter) {
			page.Items = append(page.Items, rec)
		}
		if in.Limit > 0 && page.ScannedCount >= in.Limit && i < len(all)-1 {
			page.LastKey = models.PageKey{"PK": rec.PK, "SK": rec.SK}
		}
	}
	page.Count = len(page.Items)
	return page, nil
}

func (s *Store) DescribeIndex(_ context.Context, _ string) (store.IndexStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.describeErr != nil {
		return store.IndexStatus{}, s.describeErr
	}
	return s.indexStatus, nil
}

func matchFilter(rec models.Record, f *store.Filter) bool {
	if f == nil {
		return true
	}
	if f.ActorID != "" && rec.ActorID != f.ActorID {
		return false
	}
	if f.Event != "" && rec.Event != f.Event {
		return false
	}
	return true
}

func matchScanFilter(rec models.Record, f *store.ScanFilter) bool {
	if f == nil {
		return true
	}
	if f.ActorID != "" && rec.ActorID != f.ActorID {
		return false
	}
	if f.Event != "" && rec.Event != f.Event {
		return false
	}
	if f.StartDate != "" && rec.CreatedAt < f.StartDate {
		return false
	}
	if f.EndDate != "" && rec.CreatedAt > f.EndDate {
		return false
	}
	return true
}
