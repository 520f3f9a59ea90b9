package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh entries served without a request.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dota_cache_hits_total",
			Help: "Total number of reference responses served from cache",
		},
	)

	// CacheMisses tracks lookups with no stored entry.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dota_cache_misses_total",
			Help: "Total number of reference cache misses",
		},
	)

	// NotModified tracks 304 responses to conditional requests.
	NotModified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dota_cache_not_modified_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dota_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
