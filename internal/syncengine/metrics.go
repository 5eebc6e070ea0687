package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks merge throughput: how many legacy events arrive and how many
// survive dedup. Registered once at package level.
type Metrics struct {
	incoming prometheus.Counter
	appended prometheus.Counter
}

func (m *Metrics) Merged(incoming, appended int) {
	if m == nil {
		return
	}
	m.incoming.Add(float64(incoming))
	m.appended.Add(float64(appended))
}

var sharedMetrics = &Metrics{
	incoming: promauto.NewCounter(prometheus.CounterOpts{
		Name: "meldeboks_sync_incoming_events_total",
		Help: "Legacy events received for merge, before dedup",
	}),
	appended: promauto.NewCounter(prometheus.CounterOpts{
		Name: "meldeboks_sync_appended_events_total",
		Help: "Net-new events appended to ledgers after dedup",
	}),
}
