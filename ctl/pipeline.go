// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/dialect"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/ingest"
	"github.com/featurebasedb/parcelsync/loader"
	"github.com/featurebasedb/parcelsync/logger"
	"github.com/featurebasedb/parcelsync/normalize"
	"github.com/featurebasedb/parcelsync/progress"
	"github.com/featurebasedb/parcelsync/ratelimit"
	"github.com/featurebasedb/parcelsync/source"
)

// Pipeline builds the components of a run from a Config. Commands open only
// the parts they need; Close releases whatever was opened.
type Pipeline struct {
	Config *ingest.Config
	Logger logger.Logger

	Limiter     *ratelimit.Limiter
	Fetcher     source.Fetcher
	Counter     source.Counter
	Partitioner source.Partitioner

	Normalizer *normalize.Normalizer
	DB         *sql.DB
	Dialect    dialect.Dialect
	Loader     *loader.Loader

	Store progress.Store

	// HTTPClient, when set, replaces the arcgis fetcher's client.
	HTTPClient *http.Client
	// S3 replaces the client built for s3:// progress paths.
	S3 s3iface.S3API

	closers []func() error
}

// NewPipeline returns a Pipeline for cfg. Nothing is opened yet.
func NewPipeline(cfg *ingest.Config, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NopLogger
	}
	return &Pipeline{Config: cfg, Logger: log}
}

// OpenSource builds the rate limiter, the fetcher and the partition source.
func (p *Pipeline) OpenSource() error {
	if p.Fetcher != nil {
		return nil
	}
	cfg := p.Config
	p.Limiter = ratelimit.New(cfg.Limits(), ratelimit.OptLogger(p.Logger))

	switch cfg.Source.Kind {
	case ingest.SourceArcGIS:
		ac := source.DefaultArcGISConfig()
		ac.URL = cfg.Source.URL
		ac.APIKey = cfg.Source.APIKey
		ac.PartitionField = cfg.Source.PartitionField
		ac.QuotePartition = cfg.Source.QuotePartition
		ac.OutFields = cfg.Source.OutFields
		ac.OrderBy = cfg.Source.OrderBy
		ac.OutSR = cfg.Source.OutSR
		ac.NoGeometry = cfg.Source.NoGeometry
		ac.Timeout = time.Duration(cfg.Source.Timeout)
		ac.MaxAttempts = cfg.Source.Attempts
		ac.RetryWaitMin = time.Duration(cfg.Source.RetryWaitMin)
		ac.RetryWaitMax = time.Duration(cfg.Source.RetryWaitMax)
		opts := []source.ArcGISOption{source.OptArcGISLogger(p.Logger.WithPrefix("source: "))}
		if p.HTTPClient != nil {
			opts = append(opts, source.OptArcGISHTTPClient(p.HTTPClient))
		}
		f, err := source.NewArcGISFetcher(ac, p.Limiter, opts...)
		if err != nil {
			return err
		}
		p.Fetcher, p.Counter, p.Partitioner = f, f, f
	case ingest.SourceCSV:
		if cfg.Source.Dir == "" {
			return errors.New(parcelsync.ErrInvalidConfig, "csv source needs source.dir")
		}
		f := source.NewCSVFetcher(cfg.Source.Dir, p.Logger.WithPrefix("source: "))
		p.Fetcher, p.Counter, p.Partitioner = f, f, f
		p.closers = append(p.closers, f.Close)
	default:
		return errors.Newf(parcelsync.ErrInvalidConfig, "unknown source kind %q (want %s or %s)", cfg.Source.Kind, ingest.SourceArcGIS, ingest.SourceCSV)
	}

	switch cfg.Source.Partitions {
	case ingest.PartitionsFlorida:
		p.Partitioner = source.FloridaCounties
	case ingest.PartitionsQuery, "":
	default:
		return errors.Newf(parcelsync.ErrInvalidConfig, "unknown partition source %q", cfg.Source.Partitions)
	}
	return nil
}

// Partitions lists the partitions named by selectors, or all of them.
func (p *Pipeline) Partitions(ctx context.Context, selectors []string) ([]parcelsync.Partition, error) {
	if err := p.OpenSource(); err != nil {
		return nil, err
	}
	all, err := p.Partitioner.Partitions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing partitions")
	}
	return source.Select(all, selectors)
}

// OpenDestination opens the destination database and builds the normalizer
// and loader, creating the table if configured to.
func (p *Pipeline) OpenDestination(ctx context.Context) error {
	if p.Loader != nil {
		return nil
	}
	dc := p.Config.Destination

	schema := normalize.FloridaParcels()
	if dc.Schema != "" {
		s, err := normalize.LoadSchemaFile(dc.Schema)
		if err != nil {
			return err
		}
		schema = s
	}
	norm, err := normalize.New(schema, nil)
	if err != nil {
		return err
	}

	db, d, err := dialect.Open(dc.Dialect, dc.DSN)
	if err != nil {
		return err
	}
	p.closers = append(p.closers, db.Close)
	if d.Name() == "sqlite" {
		// sqlite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	l, err := loader.New(db, d, norm, loader.Config{
		Table:            dc.Table,
		PartitionColumn:  dc.PartitionColumn,
		CreateTable:      dc.CreateTable,
		RowsPerStatement: dc.RowsPerStatement,
	}, loader.OptLogger(p.Logger.WithPrefix("loader: ")))
	if err != nil {
		return err
	}
	if err := l.Init(ctx); err != nil {
		return err
	}
	p.Normalizer, p.DB, p.Dialect, p.Loader = norm, db, d, l
	return nil
}

// OpenStore opens the progress store. The "table" location keeps progress
// in a tracking table of the destination database.
func (p *Pipeline) OpenStore(ctx context.Context) error {
	if p.Store != nil {
		return nil
	}
	loc := p.Config.Progress
	if loc == "table" {
		if err := p.OpenDestination(ctx); err != nil {
			return err
		}
		s, err := progress.NewSQLStore(ctx, p.DB, p.Dialect, progress.DefaultTable)
		if err != nil {
			return err
		}
		p.Store = s
		return nil
	}

	s3client := p.S3
	if s3client == nil && strings.HasPrefix(loc, "s3://") {
		config := &aws.Config{}
		if p.Config.S3Region != "" {
			config.Region = aws.String(p.Config.S3Region)
		}
		sess, err := session.NewSession(config)
		if err != nil {
			return errors.Wrap(err, "creating S3 session")
		}
		s3client = s3.New(sess)
	}
	s, err := progress.Open(loc, s3client)
	if err != nil {
		return err
	}
	p.Store = s
	p.closers = append(p.closers, s.Close)
	return nil
}

// Orchestrator returns an orchestrator over the opened components.
func (p *Pipeline) Orchestrator() *ingest.Orchestrator {
	o := &ingest.Orchestrator{
		Fetcher:    p.Fetcher,
		Normalizer: p.Normalizer,
		Store:      p.Store,
		Limiter:    p.Limiter,
		Counter:    p.Counter,
		Config:     p.Config,
		Logger:     p.Logger,
	}
	if p.Loader != nil {
		o.Loader, o.Verifier = p.Loader, p.Loader
	}
	return o
}

// Close releases everything opened, most recent first.
func (p *Pipeline) Close() error {
	var first error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}
