package purge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts purge requests and attachment removals. Registered once at
// package level so test fixtures can build multiple orchestrators.
type Metrics struct {
	purges           *prometheus.CounterVec
	attachmentPurges prometheus.Counter
}

var sharedMetrics = &Metrics{
	purges: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meldeboks_purge_total",
		Help: "Correspondence purges applied, by resulting status",
	}, []string{"status"}),
	attachmentPurges: promauto.NewCounter(prometheus.CounterOpts{
		Name: "meldeboks_purge_attachments_total",
		Help: "Attachments whose storage purge was enqueued by the cascade",
	}),
}
