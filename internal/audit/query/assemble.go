package query

import (
	"sort"
	"time"

	"scribe/internal/audit/models"
)

// dedupe drops records whose audit_id was already seen, preserving the
// order of first occurrence.
func dedupe(items []models.Record) []models.Record {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, item := range items {
		if _, ok := seen[item.AuditID]; ok {
			continue
		}
		seen[item.AuditID] = struct{}{}
		out = append(out, item)
	}
	return out
}

// sortByRecency orders items most-recent-first. Records with a missing or
// unparsable created_at compare as the zero time, placing them after
// everything with a real timestamp.
func sortByRecency(items []models.Record) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedTime().After(items[j].CreatedTime())
	})
}

// filterByDateRange applies inclusive bounds on created_at. Records with
// no created_at, or one that fails to parse, are retained: conservative
// inclusion keeps a malformed record visible rather than silently hiding
// it. Bounds that fail to parse are treated as absent.
func filterByDateRange(items []models.Record, startDate, endDate string) []models.Record {
	start, hasStart := parseBound(startDate)
	end, hasEnd := parseBound(endDate)
	if !hasStart && !hasEnd {
		return items
	}
	out := items[:0:0]
	for _, item := range items {
		if item.CreatedAt == "" {
			out = append(out, item)
			continue
		}
		t, err := parseTimestamp(item.CreatedAt)
		if err != nil {
			out = append(out, item)
			continue
		}
		if hasStart && t.Before(start) {
			continue
		}
		if hasEnd && t.After(end) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func truncate(items []models.Record, limit int) []models.Record {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

func parseTimestamp(value string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func parseBound(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := parseTimestamp(value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
