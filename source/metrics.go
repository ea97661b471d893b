package source

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricSourceRequests = "source_requests_total"
	MetricSourceRetries  = "source_retries_total"
)

var queriesIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "parcelsync",
		Name:      MetricSourceRequests,
		Help:      "Requests issued to the upstream source, by outcome.",
	},
	[]string{
		"outcome",
	},
)

var queriesRetried = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "parcelsync",
		Name:      MetricSourceRetries,
		Help:      "Source requests retried after a transient failure.",
	},
)

func init() {
	prometheus.MustRegister(queriesIssued)
	prometheus.MustRegister(queriesRetried)
}
