package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks store hits by layer (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgw_cache_hits_total",
			Help: "Total number of cache hits by layer",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks lookups that started or joined a build
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgw_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// Builds tracks executed builds by result (ok, error)
	Builds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgw_cache_builds_total",
			Help: "Total number of pipeline builds started by the cache",
		},
		[]string{"result"},
	)

	// Collapsed tracks callers that joined an in-flight build instead of starting one
	Collapsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgw_cache_collapsed_total",
			Help: "Total number of requests collapsed onto an in-flight build",
		},
	)

	// InFlight tracks builds currently running
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgw_cache_inflight_builds",
			Help: "Number of builds currently in flight",
		},
	)

	// Evictions tracks entries removed by the store policy
	Evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgw_cache_evictions_total",
			Help: "Total number of evicted cache entries by layer",
		},
		[]string{"layer"},
	)

	// CacheSize tracks payload bytes held by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imgw_cache_size_bytes",
			Help: "Current payload bytes held in cache by layer",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks store operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgw_cache_errors_total",
			Help: "Total number of cache store errors",
		},
		[]string{"operation"},
	)
)
