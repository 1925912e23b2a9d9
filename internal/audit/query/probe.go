package query

import "context"

// IndexReady reports whether the date index can serve reads. Any lookup
// error yields false, silently routing callers to the scan tier. The
// result is not cached; callers decide freshness.
func (s *Service) IndexReady(ctx context.Context) bool {
	status, err := s.store.DescribeIndex(ctx, s.indexName)
	if err != nil {
		return false
	}
	return status.Active()
}
