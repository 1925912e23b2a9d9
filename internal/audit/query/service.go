// Package query routes audit searches across four retrieval strategies and
// assembles stable, recency-ordered pages from their results.
//
// Strategy selection, in order: a fully-specified subject goes straight to
// a primary-key query; a partial subject is rejected outright rather than
// risking an accidental full-table scan; everything else browses recent
// activity through the date index, a hybrid index+scan merge, or a plain
// scan, degrading tier by tier as the index becomes unavailable.
package query

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"scribe/internal/audit/models"
	"scribe/internal/audit/store"
	"scribe/internal/platform/metrics"
)

// Strategy labels used in logs and metrics.
const (
	strategyPrimaryKey = "primary_key"
	strategyIndex      = "index"
	strategyHybrid     = "hybrid"
	strategyScan       = "scan"
	strategyRejected   = "rejected"
)

const (
	defaultLimit = 25
	maxOverFetch = 1000
)

// Service is the query router.
type Service struct {
	store        store.Client
	indexName    string
	indexEnabled bool
	indexOnly    bool
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithIndex enables the date index tier. exclusive makes the index the
// only recent-browsing source, skipping the hybrid merge.
func WithIndex(name string, exclusive bool) Option {
	return func(s *Service) {
		s.indexName = name
		s.indexEnabled = true
		s.indexOnly = exclusive
	}
}

// WithLogger sets a logger for fallback reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a query service over the given store.
func New(st store.Client, opts ...Option) *Service {
	svc := &Service{
		store:  st,
		tracer: otel.Tracer("scribe/audit/query"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Search returns one page of audit records, most-recent-first. Errors
// never surface as Go errors: failures and rejected input come back as a
// structured page with diagnostic fields, so audit reads cannot take the
// calling application down with them.
func (s *Service) Search(ctx context.Context, limit int, cursor models.PageKey, filters models.Filters) models.Page {
	ctx, span := s.tracer.Start(ctx, "audit.Search")
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SearchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if limit <= 0 {
		limit = defaultLimit
	}

	switch {
	case filters.HasSubject():
		s.count(strategyPrimaryKey)
		return s.searchByPrimaryKey(ctx, limit, cursor, filters)
	case filters.PartialSubject():
		s.count(strategyRejected)
		return models.Page{
			Items:   []models.Record{},
			Message: "for fast search, please provide both subject_id and subject_type",
		}
	default:
		return s.searchRecent(ctx, limit, cursor, filters)
	}
}

// searchByPrimaryKey serves fully-specified subject lookups from the base
// table. A date range cannot be pushed into the key condition, so the
// query over-fetches and filters client-side before truncating.
func (s *Service) searchByPrimaryKey(ctx context.Context, limit int, cursor models.PageKey, filters models.Filters) models.Page {
	queryLimit := limit
	if filters.HasDateRange() {
		queryLimit = min(limit*3, maxOverFetch)
	}

	page, err := s.store.Query(ctx, store.QueryInput{
		PartitionKey: filters.SubjectType + "#" + filters.SubjectID,
		Filter:       nonKeyFilter(filters),
		Limit:        queryLimit,
		StartKey:     cursor,
	})
	if err != nil {
		s.warn(ctx, "primary-key audit query failed", err)
		return errorPage("audit query failed")
	}

	items := page.Items
	if filters.HasDateRange() {
		items = filterByDateRange(items, filters.StartDate, filters.EndDate)
		items = truncate(items, limit)
	}
	return models.Page{
		Items:        items,
		Count:        len(items),
		ScannedCount: page.ScannedCount,
		Cursor:       page.LastKey,
	}
}

// searchRecent selects among the three recent-browsing tiers.
func (s *Service) searchRecent(ctx context.Context, limit int, cursor models.PageKey, filters models.Filters) models.Page {
	if s.indexEnabled && s.IndexReady(ctx) {
		if s.indexOnly {
			page, err := s.searchIndex(ctx, limit, cursor, filters)
			if err == nil {
				s.count(strategyIndex)
				return page
			}
			s.fallback(ctx, "index audit query failed, falling back to scan", err)
		} else {
			page, err := s.searchHybrid(ctx, limit, cursor, filters)
			if err == nil {
				s.count(strategyHybrid)
				return page
			}
			s.fallback(ctx, "hybrid audit query failed, falling back to scan", err)
		}
	}
	s.count(strategyScan)
	return s.searchScan(ctx, limit, cursor, filters)
}

// searchIndex reads the date index: partition is the constant type tag,
// range is created_at, actor/event apply as a post-key filter.
func (s *Service) searchIndex(ctx context.Context, limit int, cursor models.PageKey, filters models.Filters) (models.Page, error) {
	in := store.QueryInput{
		IndexName:    s.indexName,
		PartitionKey: models.TypeTag,
		Filter:       nonKeyFilter(filters),
		Limit:        limit,
		StartKey:     cursor,
	}
	if filters.HasDateRange() {
		in.Range = &store.RangeCondition{Start: filters.StartDate, End: filters.EndDate}
	}
	page, err := s.store.Query(ctx, in)
	if err != nil {
		return models.Page{}, err
	}
	return models.Page{
		Items:        page.Items,
		Count:        len(page.Items),
		ScannedCount: page.ScannedCount,
		Cursor:       page.LastKey,
	}, nil
}

// searchHybrid merges the index with the base table. The index is
// re-run from the start on every call, so the supplied cursor (and the
// returned one) belong to the scan sub-query; scanned_count sums the work
// of both sources.
func (s *Service) searchHybrid(ctx context.Context, limit int, cursor models.PageKey, filters models.Filters) (models.Page, error) {
	indexPage, err := s.searchIndex(ctx, limit, nil, filters)
	if err != nil {
		return models.Page{}, err
	}
	if indexPage.Count >= limit {
		// The index leg restarts from the top on every call, so its last
		// key cannot act as a resume token (and a GSI key is not a valid
		// scan start key). An index-satisfied page ends pagination.
		items := truncate(indexPage.Items, limit)
		return models.Page{
			Items:        items,
			Count:        len(items),
			ScannedCount: indexPage.ScannedCount,
		}, nil
	}

	remaining := limit - indexPage.Count
	scanPage, err := s.store.Scan(ctx, store.ScanInput{
		Filter:   scanFilter(filters),
		Limit:    remaining,
		StartKey: cursor,
	})
	if err != nil {
		return models.Page{}, err
	}

	merged := append(indexPage.Items, scanPage.Items...)
	merged = dedupe(merged)
	sortByRecency(merged)
	merged = truncate(merged, limit)

	return models.Page{
		Items:        merged,
		Count:        len(merged),
		ScannedCount: indexPage.ScannedCount + scanPage.ScannedCount,
		Cursor:       scanPage.LastKey,
	}, nil
}

// searchScan is the last tier: a full scan with filters applied
// server-side. A scan has no inherent recency order, so the page is
// sorted before returning. Only this tier surfaces a failure to the
// caller, as an error field on an empty page.
func (s *Service) searchScan(ctx context.Context, limit int, cursor models.PageKey, filters models.Filters) models.Page {
	page, err := s.store.Scan(ctx, store.ScanInput{
		Filter:   scanFilter(filters),
		Limit:    limit,
		StartKey: cursor,
	})
	if err != nil {
		s.warn(ctx, "audit scan failed", err)
		return errorPage("failed to load recent audits")
	}
	items := page.Items
	sortByRecency(items)
	return models.Page{
		Items:        items,
		Count:        len(items),
		ScannedCount: page.ScannedCount,
		Cursor:       page.LastKey,
	}
}

func (s *Service) count(strategy string) {
	if s.metrics != nil {
		s.metrics.SearchRequests.WithLabelValues(strategy).Inc()
	}
}

func (s *Service) fallback(ctx context.Context, msg string, err error) {
	if s.metrics != nil {
		s.metrics.SearchFallbacks.Inc()
	}
	s.warn(ctx, msg, err)
}

func (s *Service) warn(ctx context.Context, msg string, err error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, "error", err)
	}
}

func errorPage(message string) models.Page {
	return models.Page{Items: []models.Record{}, Error: message}
}

func nonKeyFilter(filters models.Filters) *store.Filter {
	if filters.ActorID == "" && filters.Event == "" {
		return nil
	}
	return &store.Filter{ActorID: filters.ActorID, Event: filters.Event}
}

func scanFilter(filters models.Filters) *store.ScanFilter {
	f := store.ScanFilter{
		ActorID:   filters.ActorID,
		Event:     filters.Event,
		StartDate: filters.StartDate,
		EndDate:   filters.EndDate,
	}
	if f == (store.ScanFilter{}) {
		return nil
	}
	return &f
}
