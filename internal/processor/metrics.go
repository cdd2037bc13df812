package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProcessingDuration tracks pipeline execution time by output format
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgw_processing_duration_seconds",
			Help:    "Duration of transform pipeline executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format"},
	)

	// ProcessingErrors tracks failed executions by error kind
	ProcessingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgw_processing_errors_total",
			Help: "Total number of failed transform pipeline executions",
		},
		[]string{"kind"},
	)

	// Throttled tracks executions rejected by the concurrency throttle
	Throttled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgw_processing_throttled_total",
			Help: "Total number of transformations rejected because all slots were busy",
		},
	)

	// WatermarkSkipped tracks watermark stages dropped under the skip policy
	WatermarkSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgw_watermark_skipped_total",
			Help: "Total number of watermark stages skipped after a fetch failure",
		},
	)
)
