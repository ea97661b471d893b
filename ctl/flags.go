package ctl

import (
	"github.com/spf13/pflag"

	"github.com/featurebasedb/parcelsync/ingest"
)

// BuildConfigFlags attaches a flag for every configuration option of c to
// flags. Flag names are the TOML keys, so a config file, PARCELSYNC_*
// environment variables and flags all address the same option.
func BuildConfigFlags(flags *pflag.FlagSet, c *ingest.Config) {
	flags.IntVar(&c.Concurrency, "concurrency", c.Concurrency, "Number of partitions processed at once.")
	flags.IntVar(&c.PageSize, "page-size", c.PageSize, "Records requested per fetch.")
	flags.Int64Var(&c.MaxRecords, "max-records", c.MaxRecords, "Records fetched per partition per run; 0 for no cap. Capped partitions resume next run.")
	flags.StringSliceVar(&c.Partitions, "partitions", c.Partitions, "Partition codes or names to process. Empty means all.")
	flags.IntVar(&c.MaxFailed, "max-failed", c.MaxFailed, "Failed partitions tolerated before exiting non-zero.")
	flags.StringVar((*string)(&c.Dedupe), "dedupe", string(c.Dedupe), "Which repeat of a natural key in a page survives: last or first.")
	flags.IntVar(&c.LoadAttempts, "load-attempts", c.LoadAttempts, "Attempts per batch on transient destination errors.")
	flags.Var(&c.LoadBackoff, "load-backoff", "Wait before the first batch retry, doubled on each retry.")
	flags.StringVar(&c.Progress, "progress", c.Progress, "Checkpoint location: JSON file, s3:// URL, .boltdb file, or \"table\".")
	flags.StringVar(&c.S3Region, "s3-region", c.S3Region, "AWS region for s3:// progress paths.")
	flags.Var(&c.ProgressInterval, "progress-interval", "How often progress is logged; 0 to disable.")
	flags.BoolVar(&c.Verify, "verify", c.Verify, "Verify row counts of partitions as they complete.")
	flags.Float64Var(&c.VerifyThreshold, "verify-threshold", c.VerifyThreshold, "Fraction of the expected rows a partition must have.")
	flags.StringVar(&c.LogPath, "log-path", c.LogPath, "Log file; empty for stderr.")
	flags.BoolVar(&c.Verbose, "verbose", c.Verbose, "Enable debug logging.")
	flags.StringVar(&c.MetricsBind, "metrics-bind", c.MetricsBind, "host:port serving Prometheus /metrics; empty to disable.")

	// Source
	flags.StringVar(&c.Source.Kind, "source.kind", c.Source.Kind, "Source type: arcgis or csv.")
	flags.StringVar(&c.Source.URL, "source.url", c.Source.URL, "Feature layer URL of an arcgis source.")
	flags.StringVar(&c.Source.APIKey, "source.api-key", c.Source.APIKey, "API key sent as a bearer token.")
	flags.StringVar(&c.Source.Dir, "source.dir", c.Source.Dir, "Directory of <partition>.csv exports for a csv source.")
	flags.StringVar(&c.Source.Partitions, "source.partitions", c.Source.Partitions, "Partition list: florida, or query to ask the source.")
	flags.StringVar(&c.Source.PartitionField, "source.partition-field", c.Source.PartitionField, "Source attribute holding the partition code.")
	flags.BoolVar(&c.Source.QuotePartition, "source.quote-partition", c.Source.QuotePartition, "Quote partition codes in queries (string-typed partition field).")
	flags.StringVar(&c.Source.OutFields, "source.out-fields", c.Source.OutFields, "Comma separated source attributes to fetch.")
	flags.StringVar(&c.Source.OrderBy, "source.order-by", c.Source.OrderBy, "Attribute that keeps paging stable.")
	flags.IntVar(&c.Source.OutSR, "source.out-sr", c.Source.OutSR, "Spatial reference of returned geometry.")
	flags.BoolVar(&c.Source.NoGeometry, "source.no-geometry", c.Source.NoGeometry, "Do not fetch geometry.")
	flags.Var(&c.Source.Timeout, "source.timeout", "Timeout of one source request.")
	flags.IntVar(&c.Source.Attempts, "source.attempts", c.Source.Attempts, "Attempts per source request.")
	flags.Var(&c.Source.RetryWaitMin, "source.retry-wait-min", "Minimum wait between source retries.")
	flags.Var(&c.Source.RetryWaitMax, "source.retry-wait-max", "Maximum wait between source retries.")
	flags.BoolVar(&c.Source.Count, "source.count", c.Source.Count, "Ask the source for partition record counts.")

	// Rate limit
	flags.IntVar(&c.RateLimit.PerMinute, "rate-limit.per-minute", c.RateLimit.PerMinute, "Source requests allowed per rolling minute; 0 for no limit.")
	flags.IntVar(&c.RateLimit.PerHour, "rate-limit.per-hour", c.RateLimit.PerHour, "Source requests allowed per rolling hour; 0 for no limit.")
	flags.Var(&c.RateLimit.MinInterval, "rate-limit.min-interval", "Minimum spacing between source requests.")
	flags.Float64Var(&c.RateLimit.BackoffMultiplier, "rate-limit.backoff-multiplier", c.RateLimit.BackoffMultiplier, "Growth of the wait on consecutive throttles.")
	flags.Var(&c.RateLimit.BaseBackoff, "rate-limit.base-backoff", "First throttle wait when the source sends no Retry-After.")
	flags.Var(&c.RateLimit.MaxBackoff, "rate-limit.max-backoff", "Cap of the throttle wait.")

	// Destination
	flags.StringVar(&c.Destination.Dialect, "destination.dialect", c.Destination.Dialect, "Destination database: postgres, mysql, mssql or sqlite.")
	flags.StringVar(&c.Destination.DSN, "destination.dsn", c.Destination.DSN, "Destination connection string.")
	flags.StringVar(&c.Destination.Table, "destination.table", c.Destination.Table, "Destination table.")
	flags.StringVar(&c.Destination.PartitionColumn, "destination.partition-column", c.Destination.PartitionColumn, "Column keyed with the natural key and counted by verify.")
	flags.BoolVar(&c.Destination.CreateTable, "destination.create-table", c.Destination.CreateTable, "Create the destination table if missing.")
	flags.IntVar(&c.Destination.RowsPerStatement, "destination.rows-per-statement", c.Destination.RowsPerStatement, "Rows per multi-row upsert.")
	flags.StringVar(&c.Destination.Schema, "destination.schema", c.Destination.Schema, "TOML field schema file; empty for the Florida parcel schema.")
}
