package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meldeboks/internal/correspondence"
)

// Metrics counts ledger appends by status. Registered once at package level
// so multiple services share the collectors.
type Metrics struct {
	appends *prometheus.CounterVec
}

func (m *Metrics) Appended(status correspondence.Status) {
	if m == nil {
		return
	}
	m.appends.WithLabelValues(string(status)).Inc()
}

var sharedMetrics = &Metrics{
	appends: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meldeboks_status_appends_total",
		Help: "Status ledger appends that passed transition validation, by status",
	}, []string{"status"}),
}
