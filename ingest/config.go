// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ingest

import (
	"time"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/ratelimit"
	"github.com/featurebasedb/parcelsync/toml"
)

// Source kinds.
const (
	SourceArcGIS = "arcgis"
	SourceCSV    = "csv"
)

// Partition lists.
const (
	// PartitionsFlorida is the built-in table of Florida counties.
	PartitionsFlorida = "florida"
	// PartitionsQuery asks the source for its distinct partition codes.
	PartitionsQuery = "query"
)

// Config represents the configuration of a run. It is built once at
// startup and passed to the components explicitly.
type Config struct {
	// Concurrency is the number of partitions processed at once.
	Concurrency int `toml:"concurrency"`
	// PageSize is the number of records requested per fetch.
	PageSize int `toml:"page-size"`
	// MaxRecords caps the records fetched per partition in one run. A
	// capped partition stays in progress and resumes next run. Zero means
	// no cap.
	MaxRecords int64 `toml:"max-records"`
	// Partitions selects partitions by code or name. Empty means all.
	Partitions []string `toml:"partitions"`
	// MaxFailed is how many partitions may fail before the run reports
	// failure.
	MaxFailed int `toml:"max-failed"`
	// Dedupe is "last" or "first".
	Dedupe parcelsync.DedupePolicy `toml:"dedupe"`

	// LoadAttempts bounds attempts per batch on transient destination
	// errors.
	LoadAttempts int           `toml:"load-attempts"`
	LoadBackoff  toml.Duration `toml:"load-backoff"`

	// Progress is the checkpoint location: a JSON file path, an s3:// URL,
	// a .boltdb file, or "table" for a tracking table in the destination.
	Progress string `toml:"progress"`
	// S3Region overrides the default AWS region for s3:// progress paths.
	S3Region string `toml:"s3-region"`
	// ProgressInterval is how often progress is logged. Zero disables it.
	ProgressInterval toml.Duration `toml:"progress-interval"`

	// Verify checks row counts of completed partitions after loading.
	Verify bool `toml:"verify"`
	// VerifyThreshold is the fraction of the expected count a partition
	// must reach.
	VerifyThreshold float64 `toml:"verify-threshold"`

	// LogPath configures where logs are written. Empty means stderr.
	LogPath string `toml:"log-path"`
	// Verbose toggles debug logging.
	Verbose bool `toml:"verbose"`
	// MetricsBind is the host:port serving /metrics. Empty disables it.
	MetricsBind string `toml:"metrics-bind"`

	Source struct {
		// Kind is "arcgis" or "csv".
		Kind string `toml:"kind"`
		// URL is the feature layer URL of an arcgis source.
		URL    string `toml:"url"`
		APIKey string `toml:"api-key"`
		// Dir holds <partition>.csv exports for a csv source.
		Dir string `toml:"dir"`
		// Partitions is "florida", "query", or empty to use the source's
		// own listing.
		Partitions     string        `toml:"partitions"`
		PartitionField string        `toml:"partition-field"`
		QuotePartition bool          `toml:"quote-partition"`
		OutFields      string        `toml:"out-fields"`
		OrderBy        string        `toml:"order-by"`
		OutSR          int           `toml:"out-sr"`
		NoGeometry     bool          `toml:"no-geometry"`
		Timeout        toml.Duration `toml:"timeout"`
		Attempts       int           `toml:"attempts"`
		RetryWaitMin   toml.Duration `toml:"retry-wait-min"`
		RetryWaitMax   toml.Duration `toml:"retry-wait-max"`
		// Count asks the source for each partition's record count, which
		// feeds progress display and verification.
		Count bool `toml:"count"`
	} `toml:"source"`

	RateLimit struct {
		PerMinute         int           `toml:"per-minute"`
		PerHour           int           `toml:"per-hour"`
		MinInterval       toml.Duration `toml:"min-interval"`
		BackoffMultiplier float64       `toml:"backoff-multiplier"`
		BaseBackoff       toml.Duration `toml:"base-backoff"`
		MaxBackoff        toml.Duration `toml:"max-backoff"`
	} `toml:"rate-limit"`

	Destination struct {
		// Dialect is postgres, mysql, mssql or sqlite.
		Dialect string `toml:"dialect"`
		DSN     string `toml:"dsn"`
		Table   string `toml:"table"`
		// PartitionColumn is keyed together with the natural key and
		// counted by the verifier.
		PartitionColumn  string `toml:"partition-column"`
		CreateTable      bool   `toml:"create-table"`
		RowsPerStatement int    `toml:"rows-per-statement"`
		// Schema is a TOML field schema file. Empty means the Florida
		// parcel schema.
		Schema string `toml:"schema"`
	} `toml:"destination"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	c := &Config{
		Concurrency:      4,
		PageSize:         1000,
		Dedupe:           parcelsync.DedupeLastWins,
		LoadAttempts:     3,
		LoadBackoff:      toml.Duration(time.Second),
		Progress:         "progress.json",
		ProgressInterval: toml.Duration(30 * time.Second),
		VerifyThreshold:  0.9,
	}

	c.Source.Kind = SourceArcGIS
	c.Source.Partitions = PartitionsFlorida
	c.Source.PartitionField = "CO_NO"
	c.Source.OutFields = "*"
	c.Source.OrderBy = "OBJECTID"
	c.Source.OutSR = 4326
	c.Source.Timeout = toml.Duration(60 * time.Second)
	c.Source.Attempts = 3
	c.Source.RetryWaitMin = toml.Duration(time.Second)
	c.Source.RetryWaitMax = toml.Duration(30 * time.Second)

	rl := ratelimit.DefaultConfig()
	c.RateLimit.PerMinute = rl.PerMinute
	c.RateLimit.PerHour = rl.PerHour
	c.RateLimit.MinInterval = toml.Duration(rl.MinInterval)
	c.RateLimit.BackoffMultiplier = rl.BackoffMultiplier
	c.RateLimit.BaseBackoff = toml.Duration(rl.BaseBackoff)
	c.RateLimit.MaxBackoff = toml.Duration(rl.MaxBackoff)

	c.Destination.Dialect = "postgres"
	c.Destination.Table = "florida_parcels"
	c.Destination.PartitionColumn = "co_no"
	c.Destination.RowsPerStatement = 500

	return c
}

// Limits returns the rate limiter configuration.
func (c *Config) Limits() ratelimit.Config {
	return ratelimit.Config{
		PerMinute:         c.RateLimit.PerMinute,
		PerHour:           c.RateLimit.PerHour,
		MinInterval:       time.Duration(c.RateLimit.MinInterval),
		BackoffMultiplier: c.RateLimit.BackoffMultiplier,
		BaseBackoff:       time.Duration(c.RateLimit.BaseBackoff),
		MaxBackoff:        time.Duration(c.RateLimit.MaxBackoff),
	}
}

// Validate checks the settings the orchestrator depends on.
func (c *Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return errors.Newf(parcelsync.ErrInvalidConfig, "concurrency must be at least 1, got %d", c.Concurrency)
	case c.PageSize < 1:
		return errors.Newf(parcelsync.ErrInvalidConfig, "page size must be at least 1, got %d", c.PageSize)
	case c.MaxRecords < 0:
		return errors.Newf(parcelsync.ErrInvalidConfig, "max records must not be negative, got %d", c.MaxRecords)
	case c.MaxFailed < 0:
		return errors.Newf(parcelsync.ErrInvalidConfig, "max failed must not be negative, got %d", c.MaxFailed)
	case c.LoadAttempts < 1:
		return errors.Newf(parcelsync.ErrInvalidConfig, "load attempts must be at least 1, got %d", c.LoadAttempts)
	case c.VerifyThreshold < 0 || c.VerifyThreshold > 1:
		return errors.Newf(parcelsync.ErrInvalidConfig, "verify threshold must be between 0 and 1, got %g", c.VerifyThreshold)
	case c.RateLimit.PerMinute < 0 || c.RateLimit.PerHour < 0:
		return errors.New(parcelsync.ErrInvalidConfig, "rate limits must not be negative")
	case c.RateLimit.BackoffMultiplier != 0 && c.RateLimit.BackoffMultiplier < 1:
		return errors.Newf(parcelsync.ErrInvalidConfig, "backoff multiplier must be at least 1, got %g", c.RateLimit.BackoffMultiplier)
	}
	if _, err := parcelsync.ParseDedupePolicy(string(c.Dedupe)); err != nil {
		return err
	}
	return nil
}
