// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_queries_total",
			Help: "Total number of profile queries processed",
		},
		[]string{"query_type", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "gateway_query_duration_seconds",
			Help: "Duration of profile query processing in seconds",
		},
		[]string{"query_type"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_requests_total",
			Help: "Result cache lookups by outcome (hit, miss, negative_hit)",
		},
		[]string{"result"},
	)

	SourceLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_source_lookups_total",
			Help: "Upstream source lookups by outcome (success, not_found, error)",
		},
		[]string{"source", "status"},
	)

	SourceLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "gateway_source_lookup_duration_seconds",
			Help: "Duration of upstream source lookups in seconds",
		},
		[]string{"source"},
	)

	FanoutsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_fanouts_coalesced_total",
			Help: "Queries that shared an in-flight fan-out instead of starting their own",
		},
	)
)
