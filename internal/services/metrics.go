package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// deliveries counts Deliver calls by outcome.
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maxbridge_deliveries_total",
			Help: "Notification deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	// drained counts spool entries handled by the drainer by result
	// (sent, dropped, kept, skipped).
	drained = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maxbridge_spool_drained_total",
			Help: "Spool entries processed by the drainer.",
		},
		[]string{"result"},
	)

	drainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maxbridge_spool_drain_duration_seconds",
			Help:    "Duration of a full spool drain run.",
			Buckets: prometheus.DefBuckets,
		},
	)

	links = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maxbridge_links_total",
			Help: "Account link operations by action.",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(deliveries, drained, drainDuration, links)
}
