package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	pages prometheus.Counter
	rows  prometheus.Counter
}

func (m *Metrics) Page(rows int) {
	if m == nil {
		return
	}
	m.pages.Inc()
	m.rows.Add(float64(rows))
}

var sharedMetrics = &Metrics{
	pages: promauto.NewCounter(prometheus.CounterOpts{
		Name: "meldeboks_scan_pages_total",
		Help: "Keyset pages fetched by sweep scans",
	}),
	rows: promauto.NewCounter(prometheus.CounterOpts{
		Name: "meldeboks_scan_rows_total",
		Help: "Rows visited by sweep scans",
	}),
}
