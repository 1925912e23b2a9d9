// Package store defines the key-value store contract the audit engine
// consumes. Implementations live in subpackages: dynamo for production,
// memory for tests and local development.
package store

import (
	"context"

	"scribe/internal/audit/models"
)

// Page is one page of raw store results. ScannedCount reflects work the
// store performed before filtering, kept for cost observability.
type Page struct {
	Items        []models.Record
	Count        int
	ScannedCount int
	LastKey      models.PageKey
}

// RangeCondition bounds created_at on a key-conditioned index query.
// Bounds are inclusive; either side may be empty.
type RangeCondition struct {
	Start string
	End   string
}

// Filter is applied server-side after the key condition.
type Filter struct {
	ActorID string
	Event   string
}

// QueryInput describes a key-conditioned, reverse-ordered query. An empty
// IndexName targets the base table with PartitionKey as the PK value; a
// non-empty IndexName targets the named index with PartitionKey as the
// audit_type value and Range bounding created_at.
type QueryInput struct {
	IndexName    string
	PartitionKey string
	Range        *RangeCondition
	Filter       *Filter
	Limit        int
	StartKey     models.PageKey
}

// ScanFilter is the server-side filter expression for full-table scans.
type ScanFilter struct {
	ActorID   string
	Event     string
	StartDate string
	EndDate   string
}

// ScanInput describes a full-table read. Scans have no inherent order;
// callers sort the returned page.
type ScanInput struct {
	Filter   *ScanFilter
	Limit    int
	StartKey models.PageKey
}

// IndexStatus reports whether a secondary index exists and is ready for reads.
type IndexStatus struct {
	Exists bool
	Status string
}

// Active reports whether the index can serve queries.
func (s IndexStatus) Active() bool {
	return s.Exists && s.Status == "ACTIVE"
}

// Client is the store contract. PutItem is an unconditional upsert, so
// retried writes of the same (PK, SK) overwrite rather than duplicate.
type Client interface {
	PutItem(ctx context.Context, record models.Record) error
	Query(ctx context.Context, in QueryInput) (Page, error)
	Scan(ctx context.Context, in ScanInput) (Page, error)
	DescribeIndex(ctx context.Context, indexName string) (IndexStatus, error)
}
