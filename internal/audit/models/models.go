// Package models defines the audit record shapes shared by ingestion,
// storage, and query modules.
package models

import (
	"time"
)

// TypeTag is the constant audit_type value stamped on every record. It is
// the partition key of the date index, which is what makes global
// recency browsing a key-conditioned query instead of a scan.
const TypeTag = "AUDIT"

// Mutation kinds recorded in the event attribute.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Record is one immutable audit entry. (PK, SK) is the composite primary
// key; attributes tagged omitempty are dropped from the stored item rather
// than written as empty placeholders.
type Record struct {
	PK          string   `dynamodbav:"PK" json:"PK"`
	SK          string   `dynamodbav:"SK" json:"SK"`
	AuditID     string   `dynamodbav:"audit_id" json:"audit_id"`
	AuditType   string   `dynamodbav:"audit_type" json:"audit_type"`
	ActorType   string   `dynamodbav:"actor_type,omitempty" json:"actor_type,omitempty"`
	ActorID     string   `dynamodbav:"actor_id,omitempty" json:"actor_id,omitempty"`
	Event       string   `dynamodbav:"event,omitempty" json:"event,omitempty"`
	SubjectType string   `dynamodbav:"subject_type,omitempty" json:"subject_type,omitempty"`
	SubjectID   string   `dynamodbav:"subject_id,omitempty" json:"subject_id,omitempty"`
	Before      string   `dynamodbav:"before,omitempty" json:"before,omitempty"`
	After       string   `dynamodbav:"after,omitempty" json:"after,omitempty"`
	OriginURL   string   `dynamodbav:"origin_url,omitempty" json:"origin_url,omitempty"`
	OriginIP    string   `dynamodbav:"origin_ip,omitempty" json:"origin_ip,omitempty"`
	OriginAgent string   `dynamodbav:"origin_agent,omitempty" json:"origin_agent,omitempty"`
	Tags        []string `dynamodbav:"tags,omitempty" json:"tags,omitempty"`
	CreatedAt   string   `dynamodbav:"created_at" json:"created_at"`
	ExpiresAt   int64    `dynamodbav:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// CreatedTime parses the created_at attribute. Records with a missing or
// unparsable timestamp sort as the oldest, so parse failures map to the
// zero time instead of an error.
func (r Record) CreatedTime() time.Time {
	if r.CreatedAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Event is the caller-supplied description of a tracked mutation. Origin
// fields left empty are filled from request context by ingestion.
type Event struct {
	ActorType   string         `json:"actor_type,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	Action      string         `json:"action"`
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	OriginURL   string         `json:"origin_url,omitempty"`
	OriginIP    string         `json:"origin_ip,omitempty"`
	OriginAgent string         `json:"origin_agent,omitempty"`
}

// Filters narrows a search. Subject fields must be supplied together to
// unlock the primary-key path; a lone subject field is rejected rather
// than falling through to a full scan.
type Filters struct {
	SubjectID   string
	SubjectType string
	ActorID     string
	Event       string
	StartDate   string
	EndDate     string
}

// HasSubject reports whether both subject fields are present.
func (f Filters) HasSubject() bool {
	return f.SubjectID != "" && f.SubjectType != ""
}

// PartialSubject reports whether exactly one subject field is present.
func (f Filters) PartialSubject() bool {
	return (f.SubjectID != "") != (f.SubjectType != "")
}

// HasDateRange reports whether any date bound is set.
func (f Filters) HasDateRange() bool {
	return f.StartDate != "" || f.EndDate != ""
}

// PageKey is the store's native last-key-seen token, round-tripped
// opaquely by callers to resume pagination.
type PageKey map[string]string

// Page is the result of one search call, most-recent-first.
type Page struct {
	Items        []Record `json:"items"`
	Count        int      `json:"count"`
	ScannedCount int      `json:"scanned_count"`
	Cursor       PageKey  `json:"cursor,omitempty"`
	Message      string   `json:"message,omitempty"`
	Error        string   `json:"error,omitempty"`
}
