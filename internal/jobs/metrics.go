package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers job throughput and retry behavior per job type. Registered
// once at package level so multiple runners share the same collectors.
type Metrics struct {
	completed *prometheus.CounterVec
	failures  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

var sharedMetrics = &Metrics{
	completed: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meldeboks_jobs_completed_total",
		Help: "Jobs that finished successfully, by type",
	}, []string{"type"}),
	failures: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meldeboks_jobs_failed_total",
		Help: "Jobs dropped after exhausting retries, by type",
	}, []string{"type"}),
	retries: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meldeboks_jobs_retries_total",
		Help: "Individual job attempts that failed, by type",
	}, []string{"type"}),
	duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meldeboks_jobs_duration_seconds",
		Help:    "Wall time per job including retries, by type",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"type"}),
}
