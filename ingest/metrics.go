package ingest

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricRecords          = "records_total"
	MetricBatches          = "batches_total"
	MetricPartitions       = "partitions_total"
	MetricActiveWorkers    = "active_workers"
	MetricLoadRetries      = "load_retries_total"
	MetricCheckpointErrors = "checkpoint_errors_total"
)

// CounterRecords counts records by pipeline outcome: fetched, skipped,
// duplicate, inserted, updated, failed.
var CounterRecords = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "parcelsync",
		Name:      MetricRecords,
		Help:      "Records handled, by outcome.",
	},
	[]string{
		"outcome",
	},
)

var CounterBatches = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "parcelsync",
		Name:      MetricBatches,
		Help:      "Batches loaded and checkpointed.",
	},
)

// CounterPartitions counts partitions by the status they ended a run in.
var CounterPartitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "parcelsync",
		Name:      MetricPartitions,
		Help:      "Partitions processed, by final status.",
	},
	[]string{
		"status",
	},
)

var GaugeActiveWorkers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "parcelsync",
		Name:      MetricActiveWorkers,
		Help:      "Workers currently processing a partition.",
	},
)

var CounterLoadRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "parcelsync",
		Name:      MetricLoadRetries,
		Help:      "Batch loads retried after a transient destination error.",
	},
)

var CounterCheckpointErrors = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "parcelsync",
		Name:      MetricCheckpointErrors,
		Help:      "Failed progress store writes.",
	},
)

func init() {
	prometheus.MustRegister(CounterRecords)
	prometheus.MustRegister(CounterBatches)
	prometheus.MustRegister(CounterPartitions)
	prometheus.MustRegister(GaugeActiveWorkers)
	prometheus.MustRegister(CounterLoadRetries)
	prometheus.MustRegister(CounterCheckpointErrors)
}
