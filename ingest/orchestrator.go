// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package ingest runs the partition pipeline: fetch a page, normalize it,
// deduplicate it, load it, checkpoint it, until each partition is done.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/loader"
	"github.com/featurebasedb/parcelsync/logger"
	"github.com/featurebasedb/parcelsync/normalize"
	"github.com/featurebasedb/parcelsync/progress"
	"github.com/featurebasedb/parcelsync/ratelimit"
	"github.com/featurebasedb/parcelsync/source"
	"github.com/featurebasedb/parcelsync/tracing"
)

// BatchLoader writes one deduplicated batch.
type BatchLoader interface {
	Load(ctx context.Context, p parcelsync.PartitionID, batch []parcelsync.NormalizedRecord) (loader.Result, error)
}

// Verifier compares a partition's stored row count with a floor.
type Verifier interface {
	Verify(ctx context.Context, p parcelsync.PartitionID, expectedMin int64) (actual int64, ok bool, err error)
}

// Orchestrator processes partitions with a bounded pool of workers. A
// partition is owned by one worker for the whole run, and its pages are
// fetched and loaded strictly in cursor order.
type Orchestrator struct {
	Fetcher    source.Fetcher
	Normalizer *normalize.Normalizer
	Loader     BatchLoader
	Store      progress.Store

	// Verifier, when set and Config.Verify is on, checks each partition
	// that completes.
	Verifier Verifier
	// Counter, when set and Config.Source.Count is on, supplies partition
	// record counts that are not already known.
	Counter source.Counter
	// Limiter is only read for its stats.
	Limiter *ratelimit.Limiter

	Config *Config
	Logger logger.Logger
	// Clock paces load retries.
	Clock ratelimit.Clock
	Now   func() time.Time

	tracker Tracker
}

// Tracker returns the run's progress counters.
func (o *Orchestrator) Tracker() *Tracker { return &o.tracker }

func (o *Orchestrator) init() error {
	if o.Fetcher == nil || o.Normalizer == nil || o.Loader == nil || o.Store == nil {
		return errors.New(parcelsync.ErrInvalidConfig, "orchestrator needs a fetcher, normalizer, loader and progress store")
	}
	if o.Config == nil {
		o.Config = NewConfig()
	}
	if o.Logger == nil {
		o.Logger = logger.NopLogger
	}
	if o.Clock == nil {
		o.Clock = ratelimit.SystemClock
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o.Config.Validate()
}

// Run processes partitions and returns a summary. Partitions completed by
// an earlier run are skipped; partitions in progress (or failed after
// making progress) resume from their cursor.
//
// Cancelling ctx stops every worker at its next suspension point: waiting
// on the rate limiter, fetching, or loading. Checkpoints already written
// stay valid, and Run returns the summary so far with ctx's error. If more
// partitions fail than Config.MaxFailed allows, Run returns the summary and
// an error coded parcelsync.ErrPartitionsFailed.
func (o *Orchestrator) Run(ctx context.Context, partitions []parcelsync.Partition) (*Summary, error) {
	if err := o.init(); err != nil {
		return nil, err
	}
	sum := &Summary{RunID: uuid.New().String(), Started: o.Now()}
	log := o.Logger.WithPrefix("run " + sum.RunID[:8] + ": ")

	entries, err := o.Store.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading progress")
	}
	log.Infof("starting %d partitions with %d workers (%d checkpointed)", len(partitions), o.Config.Concurrency, len(entries))
	o.tracker.partitions = uint64(len(partitions))

	reportCtx, stopReport := context.WithCancel(ctx)
	go o.tracker.report(reportCtx, log, time.Duration(o.Config.ProgressInterval))
	defer stopReport()

	var mu sync.Mutex
	results := make(map[parcelsync.PartitionID]PartitionResult, len(partitions))

	g := errgroup.Group{}
	g.SetLimit(o.Config.Concurrency)
	for _, p := range partitions {
		if ctx.Err() != nil {
			break
		}
		p := p
		entry, ok := entries[p.ID]
		if !ok {
			entry = parcelsync.ProgressEntry{PartitionID: p.ID, Status: parcelsync.StatusPending}
		}
		g.Go(func() error {
			GaugeActiveWorkers.Inc()
			defer GaugeActiveWorkers.Dec()
			res := o.runPartition(ctx, log, p, entry)
			o.tracker.finish()
			CounterPartitions.WithLabelValues(string(res.Status)).Inc()
			mu.Lock()
			results[p.ID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range partitions {
		if r, ok := results[p.ID]; ok {
			sum.Partitions = append(sum.Partitions, r)
		}
	}
	sum.Finished = o.Now()
	if o.Limiter != nil {
		sum.Limiter = o.Limiter.Stats()
	}

	if err := ctx.Err(); err != nil {
		sum.Interrupted = true
		log.Warnf("interrupted after %s; checkpoints are intact", sum.Finished.Sub(sum.Started).Round(time.Millisecond))
		return sum, err
	}
	t := sum.Totals()
	log.Infof("finished in %s: %d completed, %d failed, %d in progress; %d rows written, %d skipped, %d failed",
		sum.Finished.Sub(sum.Started).Round(time.Millisecond), sum.Count(parcelsync.StatusCompleted),
		sum.Count(parcelsync.StatusFailed), sum.Count(parcelsync.StatusInProgress), t.Written(), t.Skipped, t.Failed)
	if failed := sum.Failed(); len(failed) > o.Config.MaxFailed {
		return sum, errors.Newf(parcelsync.ErrPartitionsFailed, "%d partitions failed (tolerance %d)", len(failed), o.Config.MaxFailed)
	}
	return sum, nil
}

// runPartition drives one partition until it completes, fails, hits the
// record cap or the run is cancelled.
func (o *Orchestrator) runPartition(ctx context.Context, log logger.Logger, p parcelsync.Partition, entry parcelsync.ProgressEntry) (res PartitionResult) {
	start := o.Now()
	log = log.WithPrefix("partition " + p.String() + ": ")
	res = PartitionResult{Partition: p, Status: entry.Status, StartCursor: entry.Cursor, Cursor: entry.Cursor}
	defer func() { res.Duration = o.Now().Sub(start) }()

	switch entry.ResumeStatus() {
	case parcelsync.StatusCompleted:
		log.Debugf("already completed, skipping")
		res.AlreadyCompleted = true
		return res
	case parcelsync.StatusInProgress:
		log.Infof("resuming at cursor %d (%d rows so far)", entry.Cursor, entry.RowsProcessed)
	default:
		log.Infof("starting")
		entry = parcelsync.ProgressEntry{PartitionID: p.ID}
		res.StartCursor, res.Cursor = 0, 0
	}

	if ctx.Err() != nil {
		return res
	}
	span, ctx := tracing.StartSpanFromContext(ctx, "ingest.Partition")
	defer span.Finish()
	span.LogKV("partition", string(p.ID), "cursor", entry.Cursor)

	if p.EstimatedRecords == 0 && o.Counter != nil && o.Config.Source.Count {
		if n, err := o.Counter.Count(ctx, p); err == nil {
			p.EstimatedRecords = n
			res.Partition = p
		} else if ctx.Err() == nil {
			log.Warnf("counting source records: %v", err)
		}
	}
	o.tracker.estimate(p.EstimatedRecords)

	entry.Status = parcelsync.StatusInProgress
	entry.LastError = ""
	entry.UpdatedAt = time.Time{}
	if err := o.checkpoint(ctx, &entry); err != nil {
		return o.fail(ctx, log, &res, &entry, err)
	}
	res.Status = entry.Status

	policy, _ := parcelsync.ParseDedupePolicy(string(o.Config.Dedupe))
	for {
		if err := ctx.Err(); err != nil {
			log.Infof("interrupted at cursor %d", entry.Cursor)
			return res
		}
		limit := o.Config.PageSize
		if max := o.Config.MaxRecords; max > 0 {
			remaining := max - res.Fetched
			if remaining <= 0 {
				log.Infof("reached max records (%d) at cursor %d; will resume next run", max, entry.Cursor)
				res.Capped = true
				return res
			}
			if remaining < int64(limit) {
				limit = int(remaining)
			}
		}

		page, err := o.Fetcher.Fetch(ctx, p, entry.Cursor, limit)
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("interrupted at cursor %d", entry.Cursor)
				return res
			}
			return o.fail(ctx, log, &res, &entry, err)
		}

		recs, skipped := o.Normalizer.Batch(p.ID, page.Records)
		batch := policy.Apply(recs)
		dups := len(recs) - len(batch)

		lr, err := o.load(ctx, log, p.ID, batch)
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("interrupted at cursor %d", entry.Cursor)
				return res
			}
			return o.fail(ctx, log, &res, &entry, err)
		}

		res.Fetched += int64(len(page.Records))
		res.Skipped += int64(skipped)
		res.Duplicates += int64(dups)
		res.Inserted += int64(lr.Inserted)
		res.Updated += int64(lr.Updated)
		res.Failed += int64(lr.Failed)
		res.Batches++
		CounterRecords.WithLabelValues("fetched").Add(float64(len(page.Records)))
		CounterRecords.WithLabelValues("skipped").Add(float64(skipped))
		CounterRecords.WithLabelValues("duplicate").Add(float64(dups))
		CounterRecords.WithLabelValues("inserted").Add(float64(lr.Inserted))
		CounterRecords.WithLabelValues("updated").Add(float64(lr.Updated))
		CounterRecords.WithLabelValues("failed").Add(float64(lr.Failed))
		for _, f := range lr.Failures {
			log.Warnf("record %s rejected: %v", f.Key, f.Err)
		}

		entry.Cursor = page.NextCursor
		entry.RowsProcessed += int64(lr.Inserted + lr.Updated)
		entry.RowsSkipped += int64(skipped)
		entry.RowsFailed += int64(lr.Failed)
		entry.Batches++
		entry.UpdatedAt = time.Time{}
		if !page.HasMore {
			entry.Status = parcelsync.StatusCompleted
		}
		// The batch is loaded, so its checkpoint is written even if the run
		// is being cancelled.
		if err := o.checkpoint(context.WithoutCancel(ctx), &entry); err != nil {
			return o.fail(ctx, log, &res, &entry, err)
		}
		CounterBatches.Inc()
		o.tracker.proceed(lr.Inserted + lr.Updated)
		res.Cursor = entry.Cursor
		res.Status = entry.Status
		log.Debugf("batch %d: cursor %d, %d fetched, %d written, %d skipped, %d duplicate, %d failed",
			entry.Batches, entry.Cursor, len(page.Records), lr.Inserted+lr.Updated, skipped, dups, lr.Failed)

		if entry.Status == parcelsync.StatusCompleted {
			log.Infof("completed: %d rows, %d skipped, %d failed", entry.RowsProcessed, entry.RowsSkipped, entry.RowsFailed)
			o.verify(ctx, log, &res, entry)
			return res
		}
	}
}

// load writes batch, retrying transient destination errors.
func (o *Orchestrator) load(ctx context.Context, log logger.Logger, p parcelsync.PartitionID, batch []parcelsync.NormalizedRecord) (loader.Result, error) {
	wait := time.Duration(o.Config.LoadBackoff)
	for attempt := 1; ; attempt++ {
		res, err := o.Loader.Load(ctx, p, batch)
		if err == nil || ctx.Err() != nil || !errors.Is(err, parcelsync.ErrTransient) || attempt >= o.Config.LoadAttempts {
			return res, err
		}
		CounterLoadRetries.Inc()
		log.Warnf("load attempt %d/%d failed, retrying in %s: %v", attempt, o.Config.LoadAttempts, wait, err)
		if err := o.Clock.Sleep(ctx, wait); err != nil {
			return loader.Result{}, err
		}
		wait *= 2
	}
}

func (o *Orchestrator) checkpoint(ctx context.Context, entry *parcelsync.ProgressEntry) error {
	entry.UpdatedAt = o.Now().UTC()
	if err := o.Store.Save(ctx, *entry); err != nil {
		CounterCheckpointErrors.Inc()
		return errors.Wrap(err, "saving checkpoint")
	}
	return nil
}

// fail marks the partition failed. Its cursor is kept so the next run
// resumes where this one stopped.
func (o *Orchestrator) fail(ctx context.Context, log logger.Logger, res *PartitionResult, entry *parcelsync.ProgressEntry, err error) PartitionResult {
	code := errors.CodeOf(err)
	if code == "" {
		code = parcelsync.ErrFatal
	}
	log.Errorf("failed (%s) at cursor %d: %v", code, entry.Cursor, err)
	entry.Status = parcelsync.StatusFailed
	entry.LastError = err.Error()
	if cerr := o.checkpoint(context.WithoutCancel(ctx), entry); cerr != nil {
		log.Errorf("recording failure: %v", cerr)
	}
	res.Status = parcelsync.StatusFailed
	res.Cursor = entry.Cursor
	res.Err = err
	return *res
}

// verify checks a completed partition against the source count when known,
// or the rows it has loaded otherwise.
func (o *Orchestrator) verify(ctx context.Context, log logger.Logger, res *PartitionResult, entry parcelsync.ProgressEntry) {
	if o.Verifier == nil || !o.Config.Verify {
		return
	}
	expected := res.Partition.EstimatedRecords
	if expected == 0 {
		expected = entry.RowsProcessed
	}
	res.Verified = true
	res.ExpectedMin = loader.ExpectedMin(expected, o.Config.VerifyThreshold)
	actual, ok, err := o.Verifier.Verify(ctx, res.Partition.ID, res.ExpectedMin)
	if err != nil {
		log.Warnf("verifying: %v", err)
		return
	}
	res.Actual, res.VerifyOK = actual, ok
	if !ok {
		log.Warnf("verification: %d rows stored, expected at least %d; needs re-run", actual, res.ExpectedMin)
	}
}
