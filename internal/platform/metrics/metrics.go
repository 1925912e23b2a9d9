// Package metrics registers the Prometheus collectors shared across modules.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RecordsWritten   prometheus.Counter
	WritesSuppressed prometheus.Counter
	DeferredEnqueued prometheus.Counter
	DeferredRetries  prometheus.Counter
	DeferredDead     prometheus.Counter
	SearchRequests   *prometheus.CounterVec
	SearchFallbacks  prometheus.Counter
	SearchDuration   prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		RecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audit_records_written_total",
			Help: "Audit records persisted to the store",
		}),
		WritesSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audit_writes_suppressed_total",
			Help: "Ingest failures suppressed at the API boundary",
		}),
		DeferredEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audit_deferred_enqueued_total",
			Help: "Audit records handed to the deferred-write queue",
		}),
		DeferredRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audit_deferred_retries_total",
			Help: "Deferred write attempts that were retried",
		}),
		DeferredDead: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audit_deferred_dead_total",
			Help: "Deferred writes abandoned after exhausting retries or deadline",
		}),
		SearchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_audit_search_requests_total",
			Help: "Search requests by retrieval strategy",
		}, []string{"strategy"}),
		SearchFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audit_search_fallbacks_total",
			Help: "Searches that fell back from the index path to a scan",
		}),
		SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_audit_search_duration_seconds",
			Help:    "Search latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}
