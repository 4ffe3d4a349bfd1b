package bot

import "github.com/prometheus/client_golang/prometheus"

// eventsTotal counts inbound updates by classified kind.
var eventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "maxbridge_webhook_events_total",
		Help: "Inbound bot updates by event kind.",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(eventsTotal)
}
