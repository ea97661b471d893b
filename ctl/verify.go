// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/table"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/ingest"
	"github.com/featurebasedb/parcelsync/loader"
	"github.com/featurebasedb/parcelsync/progress"
	"github.com/featurebasedb/parcelsync/source"
)

// VerifyCommand compares the stored row count of each completed partition
// with a floor derived from the source count, or from the rows the run
// reported writing when source counts are off. It never modifies data.
type VerifyCommand struct {
	*parcelsync.CmdIO
	Config *ingest.Config

	Pipeline *Pipeline
	// Report is the outcome of the last Run.
	Report loader.Report
}

// NewVerifyCommand returns a new instance of VerifyCommand.
func NewVerifyCommand(stdin io.Reader, stdout, stderr io.Writer) *VerifyCommand {
	return &VerifyCommand{
		CmdIO:  parcelsync.NewCmdIO(stdin, stdout, stderr),
		Config: ingest.NewConfig(),
	}
}

// Run executes the verify command. Partitions below their floor are
// reported and make Run return an error coded
// parcelsync.ErrPartitionsFailed.
func (cmd *VerifyCommand) Run(ctx context.Context) error {
	cfg := cmd.Config
	log := cmd.Logger()
	p := cmd.Pipeline
	if p == nil {
		p = NewPipeline(cfg, log)
	}
	defer p.Close()
	if err := p.OpenDestination(ctx); err != nil {
		return errors.Wrap(err, "opening destination")
	}
	if err := p.OpenStore(ctx); err != nil {
		return errors.Wrap(err, "opening progress store")
	}
	entries, err := p.Store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "loading progress")
	}

	var selected map[parcelsync.PartitionID]bool
	if len(cfg.Partitions) > 0 {
		parts, err := source.Select(knownPartitions(cfg, entries), cfg.Partitions)
		if err != nil {
			return err
		}
		selected = make(map[parcelsync.PartitionID]bool, len(parts))
		for _, part := range parts {
			selected[part.ID] = true
		}
	}

	var exps []loader.Expectation
	for _, e := range progress.Sorted(entries) {
		if e.Status != parcelsync.StatusCompleted || (selected != nil && !selected[e.PartitionID]) {
			continue
		}
		exp := loader.Expectation{Partition: partitionName(cfg, e.PartitionID), Expected: e.RowsProcessed}
		if cfg.Source.Count {
			if err := p.OpenSource(); err != nil {
				return errors.Wrap(err, "opening source")
			}
			n, err := p.Counter.Count(ctx, exp.Partition)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warnf("counting %s at the source, using rows processed: %v", exp.Partition, err)
			} else {
				exp.Expected = n
			}
		}
		exps = append(exps, exp)
	}
	if len(exps) == 0 {
		fmt.Fprintln(cmd.Stdout, "no completed partitions to verify")
		return nil
	}

	rep, err := p.Loader.VerifyAll(ctx, exps, cfg.VerifyThreshold)
	cmd.Report = rep
	if err != nil {
		return err
	}

	t := newTable(cmd.Stdout)
	t.AppendHeader(table.Row{"partition", "expected", "floor", "actual", "result"})
	for _, v := range rep.Results {
		result := "ok"
		switch {
		case v.Err != nil:
			result = v.Err.Error()
		case !v.OK:
			result = "needs re-run"
		}
		t.AppendRow(table.Row{v.Partition.String(), v.Expected, v.ExpectedMin, v.Actual, result})
	}
	t.Render()

	if short := rep.NeedsRerun(); len(short) > 0 {
		return errors.Newf(parcelsync.ErrPartitionsFailed, "%d of %d partitions below %.0f%% of expected rows", len(short), len(rep.Results), cfg.VerifyThreshold*100)
	}
	fmt.Fprintf(cmd.Stdout, "%d partitions verified\n", len(rep.Results))
	return nil
}
